package server

import (
	"context"
	"net/http"

	"github.com/WISVCH/CHPay-sub001/internal/api"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health reports 503 while ready fails, so load balancers stop routing
// payments to an instance that lost its database.
func Health(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			if err := ready(c.Request.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
	}
}

func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
