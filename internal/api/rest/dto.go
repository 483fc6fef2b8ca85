package rest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/walletops/hookrelay/internal/api/apierrors"
	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/store"
	"github.com/walletops/hookrelay/internal/store/schema"
)

// CreateWebhookRequest represents the request body for registering a webhook
type CreateWebhookRequest struct {
	URL         string          `json:"url"`
	Events      []string        `json:"events"`
	Description string          `json:"description,omitempty"`
	Secret      string          `json:"secret,omitempty"`
}

// Validate validates the request body
func (r *CreateWebhookRequest) Validate(debug bool) error {
	if r.URL == "" {
		return apierrors.NewValidationError("url is required")
	}
	if err := validateWebhookURL(r.URL, debug); err != nil {
		return err
	}
	return validateEventFilters(r.Events)
}

// UpdateWebhookRequest represents the request body for updating a webhook.
// Absent fields are left untouched.
type UpdateWebhookRequest struct {
	URL         *string  `json:"url,omitempty"`
	Events      []string `json:"events,omitempty"`
	Description *string  `json:"description,omitempty"`
	Secret      *string  `json:"secret,omitempty"`
}

// Validate validates the request body
func (r *UpdateWebhookRequest) Validate(debug bool) error {
	if r.URL != nil {
		if err := validateWebhookURL(*r.URL, debug); err != nil {
			return err
		}
	}
	if r.Events != nil {
		if err := validateEventFilters(r.Events); err != nil {
			return err
		}
	}
	return nil
}

// ToggleWebhookRequest represents the request body for toggling a webhook
type ToggleWebhookRequest struct {
	Active *bool `json:"active"`
}

// PublishEventRequest represents the request body for publishing a domain event
type PublishEventRequest struct {
	EventType string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// Validate validates the request body
func (r *PublishEventRequest) Validate() error {
	if r.EventType == "" {
		return apierrors.NewValidationError("event is required")
	}
	if !domain.IsValidEventType(r.EventType) {
		return apierrors.NewValidationError(fmt.Sprintf("unsupported event type: %s", r.EventType))
	}
	return nil
}

func validateWebhookURL(raw string, debug bool) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return apierrors.NewValidationError("url must be a well-formed absolute URL")
	}
	switch u.Scheme {
	case "https":
	case "http":
		// Plain HTTP endpoints are only reachable in debug environments
		if !debug {
			return apierrors.NewValidationError("url must use HTTPS")
		}
	default:
		return apierrors.NewValidationError("url must be a well-formed absolute URL")
	}
	return nil
}

func validateEventFilters(events []string) error {
	if len(events) == 0 {
		return apierrors.NewValidationError("events is required and must not be empty")
	}
	for _, eventType := range events {
		if !domain.IsValidEventFilter(eventType) {
			return apierrors.NewValidationError(
				fmt.Sprintf("unsupported event type: %s. Supported types: %v", eventType, domain.SupportedEventTypes))
		}
	}
	return nil
}

// WebhookResponse represents a subscription in API responses. The secret is
// only populated on single fetches, never in list views.
type WebhookResponse struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Events        []string   `json:"events"`
	Description   string     `json:"description,omitempty"`
	Secret        string     `json:"secret,omitempty"`
	Active        bool       `json:"active"`
	FailureCount  int        `json:"failureCount"`
	LastTriggered *time.Time `json:"lastTriggered,omitempty"`
	LastStatus    *int       `json:"lastStatus,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// NewWebhookResponse maps a subscription row to its API representation
func NewWebhookResponse(sub *schema.Subscription, includeSecret bool) *WebhookResponse {
	var events []string
	_ = json.Unmarshal(sub.Events, &events)

	resp := &WebhookResponse{
		ID:            sub.ID,
		URL:           sub.URL,
		Events:        events,
		Description:   sub.Description,
		Active:        sub.Active,
		FailureCount:  sub.FailureCount,
		LastTriggered: sub.LastTriggered,
		LastStatus:    sub.LastStatus,
		CreatedAt:     sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
	}
	if includeSecret {
		resp.Secret = sub.Secret
	}
	return resp
}

// DeliveryResponse represents one ledger entry in API responses
type DeliveryResponse struct {
	ID           uint64     `json:"id"`
	WebhookID    string     `json:"webhookId"`
	PayloadID    string     `json:"payloadId"`
	EventType    string     `json:"event"`
	Status       string     `json:"status"`
	StatusCode   *int       `json:"statusCode,omitempty"`
	Error        string     `json:"error,omitempty"`
	Attempt      int        `json:"attempt"`
	ResponseTime *int64     `json:"responseTime,omitempty"`
	NextRetry    *time.Time `json:"nextRetry,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// NewDeliveryResponse maps a ledger row to its API representation. A failed
// attempt that scheduled another try is presented as "retrying".
func NewDeliveryResponse(entry *schema.DeliveryLogEntry) *DeliveryResponse {
	status := string(entry.Status)
	if entry.Status == schema.DeliveryStatusFailed && entry.NextRetryAt != nil {
		status = "retrying"
	}

	return &DeliveryResponse{
		ID:           entry.ID,
		WebhookID:    entry.SubscriptionID,
		PayloadID:    entry.PayloadID,
		EventType:    entry.EventType,
		Status:       status,
		StatusCode:   entry.StatusCode,
		Error:        entry.Error,
		Attempt:      entry.Attempt,
		ResponseTime: entry.ResponseTimeMs,
		NextRetry:    entry.NextRetryAt,
		Timestamp:    entry.Timestamp,
	}
}

// StatsResponse represents per-webhook delivery statistics
type StatsResponse struct {
	Total           int64      `json:"total"`
	Successful      int64      `json:"successful"`
	Failed          int64      `json:"failed"`
	AvgResponseTime *float64   `json:"avgResponseTime,omitempty"`
	LastDelivery    *time.Time `json:"lastDelivery,omitempty"`
	NextRetry       *time.Time `json:"nextRetry,omitempty"`
}

// NewStatsResponse maps aggregated stats to their API representation
func NewStatsResponse(stats *store.DeliveryStats) *StatsResponse {
	return &StatsResponse{
		Total:           stats.Total,
		Successful:      stats.Successful,
		Failed:          stats.Failed,
		AvgResponseTime: stats.AvgResponseTimeMs,
		LastDelivery:    stats.LastDelivery,
		NextRetry:       stats.NextRetry,
	}
}

// TestWebhookResponse is returned when a test delivery has been enqueued
type TestWebhookResponse struct {
	PayloadID string `json:"payloadId"`
}

// PublishEventResponse is returned when a domain event has been fanned out
type PublishEventResponse struct {
	Enqueued int `json:"enqueued"`
}

// EventTypesResponse is the static catalog of subscribable event types
type EventTypesResponse struct {
	Events []string `json:"events"`
}
