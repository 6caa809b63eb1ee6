package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/dmarcwatch/dmarcwatch/api/handlers"
	"github.com/dmarcwatch/dmarcwatch/api/middleware"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())

	// Health check endpoint (no auth)
	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-DMARCWATCH-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		sync := api.Group("/sync")
		{
			sync.POST("/:id", handlers.TriggerSync(repos.MailboxAccountRepository, s.Publisher))
			sync.POST("/:id/cancel", handlers.CancelSync(s.MailboxSyncService))
		}

		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/:id/enable", handlers.EnableWebhook(repos.WebhookRepository))
		}

		alerts := api.Group("/alerts")
		{
			alerts.GET("", handlers.ListAlerts(repos.AlertRepository))
		}
	}
}
