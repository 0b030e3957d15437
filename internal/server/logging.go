package server

import (
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/gin-gonic/gin"
)

// RequestLoggingMiddleware logs one line per request. Query strings are left
// out since checkout and webhook URLs carry references in them.
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if userID, ok := c.Get("user_id"); ok {
			fields = append(fields, "user_id", userID)
		}

		if c.Writer.Status() >= 500 {
			logger.Warn("HTTP request", fields...)
			return
		}
		logger.Info("HTTP request", fields...)
	}
}
