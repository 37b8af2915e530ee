package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/service"
)

// Metrics records request count and latency per route template. Routes listed in skip, typically
// the health checks and the scrape endpoint itself, are not observed.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	ignored := make(map[string]struct{}, len(skip))
	for _, route := range skip {
		ignored[route] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if _, ok := ignored[route]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		if route == "" {
			// unmatched paths share one label
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
