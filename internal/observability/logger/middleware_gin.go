package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditmeter/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// GinMiddleware logs each request with its correlation id. Probe and scrape
// routes are logged at debug level.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		ctx := correlation.ContextWithCorrelationID(c.Request.Context(), correlation.Resolve(c.Request.Context(), requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-Id", correlation.ExtractCorrelationID(ctx))

		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			fields = append(fields, zap.Error(lastErr.Err))
		}

		log := FromContext(c.Request.Context())
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("http_request", fields...)
		case isProbe(route):
			log.Debug("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

func isProbe(route string) bool {
	switch strings.ToLower(strings.TrimSpace(route)) {
	case "/metrics", "/healthz", "/readyz":
		return true
	default:
		return false
	}
}
