package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/walletops/hookrelay/internal/api/middleware"
)

// SetupRoutes registers all API routes on the engine. Everything under /api
// requires authentication; /health stays open for load balancer probes.
func (h *Handler) SetupRoutes(r *gin.Engine, auth middleware.AuthConfig) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api", middleware.Auth(auth))

	webhooks := api.Group("/webhooks")
	{
		webhooks.GET("", h.ListWebhooks)
		webhooks.POST("", h.CreateWebhook)
		// static route, registered alongside the :id wildcard
		webhooks.GET("/events/list", h.ListEventTypes)
		webhooks.GET("/:id", h.GetWebhook)
		webhooks.PUT("/:id", h.UpdateWebhook)
		webhooks.PATCH("/:id", h.UpdateWebhook)
		webhooks.DELETE("/:id", h.DeleteWebhook)
		webhooks.POST("/:id/toggle", h.ToggleWebhook)
		webhooks.POST("/:id/test", h.TestWebhook)
		webhooks.GET("/:id/stats", h.GetWebhookStats)
		webhooks.GET("/:id/deliveries", h.ListWebhookDeliveries)
	}

	events := api.Group("/events")
	{
		events.POST("/publish", h.PublishEvent)
	}
}
