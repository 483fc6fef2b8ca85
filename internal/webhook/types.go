package webhook

import (
	"encoding/json"
	"time"
)

// Event is the payload delivered to subscriber endpoints.
// Field casing follows the console contract (camelCase).
type Event struct {
	// EventType is the type of event (e.g., "transaction.completed")
	EventType string `json:"event"`
	// PayloadID identifies the originating publish call (ULID, time-sortable).
	// It is shared across every subscription the event fans out to so that
	// correlated deliveries can be traced back to one event, and so that
	// subscribers can deduplicate retried deliveries.
	PayloadID string `json:"payloadId"`
	// Timestamp is when the event was generated
	Timestamp time.Time `json:"timestamp"`
	// Data contains the producer-specific payload, opaque to the core
	Data json.RawMessage `json:"data"`
}

// DeliveryResult represents the outcome of a single delivery attempt
type DeliveryResult struct {
	// Success indicates the subscriber responded 2xx within the timeout
	Success bool
	// StatusCode is the HTTP status code, 0 when the request never completed
	StatusCode int
	// ResponseTime is the wall-clock duration of the HTTP exchange
	ResponseTime time.Duration
	// Error contains error details if delivery failed
	Error string
}

// SignatureHeader carries the HMAC signature of the request body
const SignatureHeader = "X-Webhook-Signature"
