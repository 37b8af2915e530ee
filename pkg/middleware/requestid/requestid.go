package requestid

import (
	"context"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request id in both directions.
const Header = "X-Request-ID"

const contextKey = "request_id"

type ctxKey struct{}

// Inbound ids are echoed into logs and headers, so only a conservative alphabet is honored.
var acceptable = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Middleware tags each request with an id, honoring a well-formed inbound X-Request-ID. The id is
// also placed on the request context for code below the handlers.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(Header)
		if !acceptable.MatchString(reqID) {
			reqID = uuid.NewString()
		}

		c.Set(contextKey, reqID)
		c.Writer.Header().Set(Header, reqID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey{}, reqID))

		c.Next()
	}
}

// Value returns the request ID stored in the Gin context.
func Value(c *gin.Context) string {
	return c.GetString(contextKey)
}

// FromContext returns the request ID carried by ctx, if any.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
