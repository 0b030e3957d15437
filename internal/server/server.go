package server

import (
	"context"
	"net/http"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/auth"
	"github.com/WISVCH/CHPay-sub001/internal/config"
	"github.com/WISVCH/CHPay-sub001/internal/payment"
	"github.com/WISVCH/CHPay-sub001/internal/settings"
	"github.com/WISVCH/CHPay-sub001/internal/topup"
	"github.com/WISVCH/CHPay-sub001/internal/user"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Users    *user.Handler
	Payments *payment.Handler
	TopUps   *topup.Handler
	Settings *settings.Handler

	// Ready backs the health endpoint; nil means always healthy.
	Ready func(ctx context.Context) error
}

type Server struct {
	router *gin.Engine
	http   *http.Server
}

func New(cfg *config.Config, resolver auth.IdentityResolver, h Handlers) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLoggingMiddleware(), MetricsMiddleware(), corsMiddleware())

	router.GET("/health", Health(h.Ready))
	router.GET("/metrics", Metrics())

	v1 := router.Group("/api/v1")
	v1.POST("/webhooks/provider", h.TopUps.ProviderWebhook)

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret, resolver)
	protected := v1.Group("/")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", h.Users.GetMe)

		protected.POST("/topups", h.TopUps.StartTopUp)
		protected.POST("/topups/:id/checkout", h.TopUps.RetryCheckout)
		protected.POST("/topups/:id/validate", h.TopUps.ValidateTopUp)

		protected.GET("/requests/:id", h.Payments.GetRequest)
		protected.POST("/requests/:id/transaction", h.Payments.TransactionFromRequest)

		protected.GET("/transactions", h.Payments.ListTransactions)
		protected.GET("/transactions/:id", h.Payments.GetTransaction)
		protected.POST("/transactions/:id/pay", h.Payments.FulfillTransaction)
		protected.POST("/external/:id/pay", h.Payments.FulfillExternalTransaction)
	}

	admin := v1.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole(user.RoleAdmin))
	{
		admin.GET("/users/:id", h.Users.GetUser)
		admin.PUT("/users/:id/rfid", h.Users.SetRFID)
		admin.DELETE("/users/:id/rfid", h.Users.ClearRFID)
		admin.PUT("/users/:id/banned", h.Users.SetBanned)

		admin.POST("/requests", h.Payments.CreateRequest)
		admin.POST("/requests/:id/rfid", RateLimitMiddleware(cfg.RFIDRateLimit, int(cfg.RFIDRateLimit)), h.Payments.PayWithRFID)
		admin.POST("/external", h.Payments.CreateExternalTransaction)
		admin.POST("/transactions/:id/refund", h.Payments.RefundTransaction)
		admin.POST("/transactions/:id/partial-refund", h.Payments.PartialRefund)

		admin.GET("/settings", h.Settings.GetSettings)
		admin.PUT("/settings", h.Settings.UpdateSettings)
	}

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
