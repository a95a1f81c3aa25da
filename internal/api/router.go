package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finopshq/payment-ledger/internal/api/handler"
	"github.com/finopshq/payment-ledger/internal/api/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	paymentHandler *handler.PaymentHandler,
	auditHandler *handler.AuditHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints, all tenant-scoped through the actor context
	v1 := r.Group("/api/v1")
	v1.Use(middleware.ActorContext())
	{
		payments := v1.Group("/payments")
		{
			payments.POST("", paymentHandler.Create)
			payments.GET("", paymentHandler.List)
			payments.GET("/:id", paymentHandler.GetByID)
			payments.POST("/:id/transitions", paymentHandler.Transition)
			payments.GET("/:id/actions", paymentHandler.AvailableActions)
			payments.GET("/:id/audit", auditHandler.GetPaymentTrail)
		}

		// Lifecycle dry-run, no payment touched
		v1.POST("/lifecycle/validate", paymentHandler.ValidateSequence)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
