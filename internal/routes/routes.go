package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/breaker"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/handlers"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/middleware"
)

// SetupRoutes configures the routes for the application.
func SetupRoutes(
	router *gin.Engine,
	messageHandler *handlers.MessageHandler,
	statsHandler *handlers.StatsHandler,
	deadLetterHandler *handlers.DeadLetterHandler,
	healthHandler *handlers.HealthHandler,
	cb *breaker.Breaker,
) {
	router.Use(middleware.CorrelationIDMiddleware())

	v1 := router.Group("/v1")
	{
		messages := v1.Group("/messages")
		messages.Use(middleware.CircuitBreakerMiddleware(cb, "delivery-api"))
		{
			messages.POST("", messageHandler.Enqueue)
			messages.GET("/:message_id/status", messageHandler.GetStatus)
		}

		v1.GET("/queue/stats", statsHandler.QueueStats)
		v1.GET("/channels/status", statsHandler.ChannelStatuses)
		v1.GET("/circuits", statsHandler.CircuitStats)

		deadletters := v1.Group("/deadletters")
		{
			deadletters.GET("", deadLetterHandler.List)
			deadletters.POST("/:message_id/requeue", deadLetterHandler.Requeue)
		}
	}

	// Health check endpoint
	router.GET("/health", healthHandler.Check)
}
