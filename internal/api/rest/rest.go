package rest

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler) {
	// Health check endpoint (no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Subscription lifecycle
		v1.POST("/subscriptions", handler.CreateSubscription)
		v1.GET("/subscriptions", handler.ListSubscriptions)
		v1.POST("/subscriptions/defaults", handler.CreateDefaultSubscriptions)
		v1.GET("/subscriptions/:id", handler.GetSubscription)
		v1.PUT("/subscriptions/:id", handler.UpdateSubscription)
		v1.DELETE("/subscriptions/:id", handler.DeleteSubscription)
		v1.POST("/subscriptions/:id/start", handler.StartSubscription)
		v1.POST("/subscriptions/:id/stop", handler.StopSubscription)
		v1.POST("/subscriptions/:id/pause", handler.PauseSubscription)
		v1.POST("/subscriptions/:id/restart", handler.RestartSubscription)

		// Stored events
		v1.GET("/events", handler.ListEvents)
		v1.GET("/events/stats", handler.GetEventStats)
		v1.GET("/events/tx/:tx_hash", handler.GetEventsByTx)
		v1.GET("/events/:id", handler.GetEvent)
		v1.POST("/events/retry-failed", handler.RetryFailedEvents)
		v1.POST("/events/cleanup", handler.CleanupEvents)

		// Checkpoints
		v1.GET("/checkpoints", handler.ListCheckpoints)
	}
}
