package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// RequestLogger logs every request at debug level and failures at warn.
func RequestLogger(logger hclog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("http")
	return func(c *gin.Context) {
		// Skip logging for health checks
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		args := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"request_id", c.GetString("request_id"),
		}
		for _, err := range c.Errors {
			args = append(args, "error", err.Error())
		}

		if c.Writer.Status() >= 500 || len(c.Errors) > 0 {
			logger.Warn("request failed", args...)
			return
		}
		logger.Debug("request", args...)
	}
}
