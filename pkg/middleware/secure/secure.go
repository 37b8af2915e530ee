package secure

import "github.com/gin-gonic/gin"

// Headers sets the baseline browser hardening headers; HSTS is only sent when strictTransport is on.
func Headers(strictTransport bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		if strictTransport {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
