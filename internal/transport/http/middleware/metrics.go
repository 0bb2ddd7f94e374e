package middleware

import (
	"strconv"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency and count per route. The SSE route is skipped for
// latency since its duration is the lifetime of the subscription.
func Metrics(streamingPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(streamingPaths))
	for _, p := range streamingPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		if !skip[path] {
			metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		}
	}
}
