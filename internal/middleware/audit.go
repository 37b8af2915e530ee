package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/pkg/middleware/requestid"
)

// Audit records one structured audit line per successful mutation on a teacher resource.
func Audit(log *zap.Logger, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil || c.Writer.Status() >= 400 {
			return
		}

		fields := []zap.Field{
			zap.String("action", action),
			zap.String("resource", resource),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("ip", c.ClientIP()),
		}
		for _, param := range c.Params {
			if param.Key == "token" {
				continue
			}
			fields = append(fields, zap.String(param.Key, param.Value))
		}
		if principal, ok := CurrentPrincipal(c); ok {
			fields = append(fields, zap.String("principal_id", principal.ID), zap.String("role", string(principal.Role)))
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		log.Info("audit", fields...)
	}
}
