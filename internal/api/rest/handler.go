package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/walletops/hookrelay/internal/api/apierrors"
	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/publisher"
	"github.com/walletops/hookrelay/internal/store"
	"github.com/walletops/hookrelay/internal/store/schema"
	"github.com/walletops/hookrelay/internal/webhook"
)

const (
	defaultDeliveriesLimit = 50
	maxDeliveriesLimit     = 200
)

// Handler serves the webhook management API
type Handler struct {
	store     store.Store
	publisher publisher.Publisher
	debug     bool
}

// NewHandler creates a new API handler
func NewHandler(st store.Store, pub publisher.Publisher, debug bool) *Handler {
	return &Handler{
		store:     st,
		publisher: pub,
		debug:     debug,
	}
}

// ListWebhooks handles GET /api/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.ListSubscriptions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]*WebhookResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, NewWebhookResponse(sub, false))
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": resp})
}

// CreateWebhook handles POST /api/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if err := req.Validate(h.debug); err != nil {
		respondError(c, err)
		return
	}

	secret := req.Secret
	if secret == "" {
		generated, err := webhook.GenerateSecret()
		if err != nil {
			respondError(c, err)
			return
		}
		secret = generated
	}

	events, err := json.Marshal(req.Events)
	if err != nil {
		respondError(c, err)
		return
	}

	sub := &schema.Subscription{
		ID:          uuid.NewString(),
		URL:         req.URL,
		Events:      events,
		Description: req.Description,
		Secret:      secret,
		Active:      true,
	}
	if err := h.store.CreateSubscription(c.Request.Context(), sub); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewWebhookResponse(sub, true))
}

// GetWebhook handles GET /api/webhooks/:id
func (h *Handler) GetWebhook(c *gin.Context) {
	sub, err := h.store.GetSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewWebhookResponse(sub, true))
}

// UpdateWebhook handles PATCH /api/webhooks/:id
func (h *Handler) UpdateWebhook(c *gin.Context) {
	var req UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if err := req.Validate(h.debug); err != nil {
		respondError(c, err)
		return
	}

	sub, err := h.store.UpdateSubscription(c.Request.Context(), c.Param("id"), store.UpdateSubscriptionInput{
		URL:         req.URL,
		Events:      req.Events,
		Description: req.Description,
		Secret:      req.Secret,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewWebhookResponse(sub, true))
}

// DeleteWebhook handles DELETE /api/webhooks/:id
func (h *Handler) DeleteWebhook(c *gin.Context) {
	if err := h.store.DeleteSubscription(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleWebhook handles POST /api/webhooks/:id/toggle
func (h *Handler) ToggleWebhook(c *gin.Context) {
	var req ToggleWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if req.Active == nil {
		respondError(c, apierrors.NewValidationError("active is required"))
		return
	}

	sub, err := h.store.SetSubscriptionActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewWebhookResponse(sub, false))
}

// TestWebhook handles POST /api/webhooks/:id/test
func (h *Handler) TestWebhook(c *gin.Context) {
	payloadID, err := h.publisher.PublishTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TestWebhookResponse{PayloadID: payloadID})
}

// GetWebhookStats handles GET /api/webhooks/:id/stats
func (h *Handler) GetWebhookStats(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.store.GetSubscription(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	stats, err := h.store.GetDeliveryStats(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewStatsResponse(stats))
}

// ListWebhookDeliveries handles GET /api/webhooks/:id/deliveries
func (h *Handler) ListWebhookDeliveries(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.store.GetSubscription(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	limit := parseQueryInt(c, "limit", defaultDeliveriesLimit)
	if limit <= 0 || limit > maxDeliveriesLimit {
		limit = defaultDeliveriesLimit
	}
	offset := parseQueryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	entries, err := h.store.ListDeliveries(ctx, id, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]*DeliveryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, NewDeliveryResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": resp})
}

// ListEventTypes handles GET /api/webhooks/events/list
func (h *Handler) ListEventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, EventTypesResponse{Events: domain.SupportedEventTypes})
}

// PublishEvent handles POST /api/events/publish
func (h *Handler) PublishEvent(c *gin.Context) {
	var req PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	enqueued, err := h.publisher.Publish(c.Request.Context(), req.EventType, req.Data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, PublishEventResponse{Enqueued: enqueued})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseQueryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
