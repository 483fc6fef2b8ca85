package domain

import (
	"encoding/json"
	"time"
)

// Event type constants for the wallet platform
const (
	// EventTypeTransactionCompleted is fired when a transaction settles
	EventTypeTransactionCompleted = "transaction.completed"

	// EventTypeTransactionFailed is fired when a transaction is rejected or reversed
	EventTypeTransactionFailed = "transaction.failed"

	// EventTypeWalletCreated is fired when a new wallet is provisioned
	EventTypeWalletCreated = "wallet.created"

	// EventTypeWalletFrozen is fired when a wallet is frozen by compliance or an operator
	EventTypeWalletFrozen = "wallet.frozen"

	// EventTypeCardIssued is fired when a card is issued against a wallet
	EventTypeCardIssued = "card.issued"

	// EventTypeComplianceAlert is fired when a business rule raises a compliance alert
	EventTypeComplianceAlert = "compliance.alert"

	// EventTypeExportReady is fired when an async export finishes rendering
	EventTypeExportReady = "export.ready"

	// EventTypeWebhookTest is the synthetic event used by test deliveries
	EventTypeWebhookTest = "webhook.test"

	// EventTypeWildcard is a special filter that matches all event types
	EventTypeWildcard = "*"
)

// SupportedEventTypes is the static catalog of subscribable event types.
// The wildcard is a valid filter but is not itself publishable.
var SupportedEventTypes = []string{
	EventTypeTransactionCompleted,
	EventTypeTransactionFailed,
	EventTypeWalletCreated,
	EventTypeWalletFrozen,
	EventTypeCardIssued,
	EventTypeComplianceAlert,
	EventTypeExportReady,
	EventTypeWebhookTest,
}

// IsValidEventType reports whether eventType is in the catalog
func IsValidEventType(eventType string) bool {
	for _, t := range SupportedEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// IsValidEventFilter reports whether filter is a valid subscription filter
// (catalog entry or the wildcard)
func IsValidEventFilter(filter string) bool {
	return filter == EventTypeWildcard || IsValidEventType(filter)
}

// DomainEvent is the envelope internal producers publish onto the event bus.
// Data is an opaque JSON blob; the core never inspects its contents.
type DomainEvent struct {
	// EventType is the type of event (e.g., "transaction.completed")
	EventType string `json:"event_type"`
	// OccurredAt is when the producer generated the event
	OccurredAt time.Time `json:"occurred_at"`
	// Data contains the producer-specific payload
	Data json.RawMessage `json:"data"`
}
