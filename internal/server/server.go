package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TambongStercy/SBC-MS-sub014/internal/auth"
	"github.com/TambongStercy/SBC-MS-sub014/internal/config"
	"github.com/TambongStercy/SBC-MS-sub014/internal/payment"
	"github.com/TambongStercy/SBC-MS-sub014/internal/withdrawal"
)

type Server struct {
	router *gin.Engine
	http   *http.Server
	config *config.Config
}

func New(cfg *config.Config, paymentHandler *payment.Handler, withdrawalHandler *withdrawal.Handler) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)

	protected := router.Group("/")
	protected.Use(RateLimitMiddleware(10, 20), authMiddleware)
	{
		protected.POST("/payments", paymentHandler.CreateIntent)
		protected.POST("/payments/:sessionID/submit", paymentHandler.SubmitDetails)
		protected.GET("/payments/:sessionID", paymentHandler.Status)
		protected.POST("/payments/:sessionID/cancel", paymentHandler.Cancel)

		protected.POST("/withdrawals", withdrawalHandler.Request)
		protected.POST("/withdrawals/:id/verify-otp", withdrawalHandler.VerifyOTP)
	}

	// Webhooks authenticate by signature inside the adapter, never by JWT.
	webhooks := router.Group("/webhooks")
	webhooks.Use(WebhookRateLimitMiddleware(50, 100))
	{
		webhooks.POST("/:gateway", paymentHandler.Webhook)
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole("admin"))
	{
		admin.GET("/withdrawals/pending", withdrawalHandler.ListPending)
		admin.GET("/withdrawals/stats", withdrawalHandler.Stats)
		admin.GET("/withdrawals/:id", withdrawalHandler.Details)
		admin.POST("/withdrawals/:id/approve", withdrawalHandler.Approve)
		admin.POST("/withdrawals/:id/reject", withdrawalHandler.Reject)
		admin.POST("/withdrawals/bulk-approve", withdrawalHandler.BulkApprove)
	}

	router.GET("/health", Health)
	router.GET("/metrics", Metrics())

	return &Server{
		router: router,
		config: cfg,
	}
}

func (s *Server) Start(port string) error {
	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
