package store

import (
	"context"
	"time"

	"github.com/walletops/hookrelay/internal/store/schema"
)

// DeliveryStats holds per-subscription aggregates computed from the delivery
// ledger plus the pending retry state from the queue. It is derived on read,
// never stored.
type DeliveryStats struct {
	Total             int64
	Successful        int64
	Failed            int64
	AvgResponseTimeMs *float64
	LastDelivery      *time.Time
	NextRetry         *time.Time
}

// UpdateSubscriptionInput holds the mutable fields of a subscription.
// Nil fields are left untouched.
type UpdateSubscriptionInput struct {
	URL         *string
	Events      []string
	Description *string
	Secret      *string
}

// Store defines the interface for database operations
type Store interface {
	// CreateSubscription persists a new subscription
	CreateSubscription(ctx context.Context, sub *schema.Subscription) error
	// GetSubscription retrieves a subscription by ID.
	// Returns domain.ErrSubscriptionNotFound when no row exists.
	GetSubscription(ctx context.Context, id string) (*schema.Subscription, error)
	// ListSubscriptions retrieves all subscriptions, newest first
	ListSubscriptions(ctx context.Context) ([]*schema.Subscription, error)
	// ListActiveSubscriptionsForEvent retrieves active subscriptions whose
	// event filters contain eventType or the wildcard
	ListActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*schema.Subscription, error)
	// UpdateSubscription applies a partial update and returns the updated row
	UpdateSubscription(ctx context.Context, id string, input UpdateSubscriptionInput) (*schema.Subscription, error)
	// SetSubscriptionActive toggles a subscription and returns the updated row
	SetSubscriptionActive(ctx context.Context, id string, active bool) (*schema.Subscription, error)
	// DeleteSubscription hard-deletes a subscription
	DeleteSubscription(ctx context.Context, id string) error
	// RecordDeliveryOutcome updates the subscription's failure counter and
	// last-delivery fields after an attempt. Success resets failure_count to
	// zero, failure increments it atomically.
	RecordDeliveryOutcome(ctx context.Context, subscriptionID string, success bool, statusCode *int, at time.Time) error

	// EnqueueDeliveryTasks appends tasks to the delivery queue in one write
	EnqueueDeliveryTasks(ctx context.Context, tasks []*schema.DeliveryTask) error
	// ClaimDueDeliveryTasks leases up to limit tasks whose not_before has
	// passed and which are unclaimed or whose claim lease expired.
	// Claimed tasks are invisible to other workers until the lease runs out.
	ClaimDueDeliveryTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*schema.DeliveryTask, error)
	// CompleteDeliveryTask removes a task from the queue (terminal outcome)
	CompleteDeliveryTask(ctx context.Context, taskID uint64) error
	// RescheduleDeliveryTask re-queues a task for its next attempt at notBefore
	RescheduleDeliveryTask(ctx context.Context, taskID uint64, attempt int, notBefore time.Time) error

	// AppendDeliveryLog appends one immutable ledger row for an attempt.
	// Returns domain.ErrDuplicateAttempt when a row for the same
	// (subscription, payload, attempt) triple already exists.
	AppendDeliveryLog(ctx context.Context, entry *schema.DeliveryLogEntry) error
	// GetDeliveryLogEntry retrieves the ledger row for one attempt.
	// Returns domain.ErrDeliveryLogNotFound when no row exists.
	GetDeliveryLogEntry(ctx context.Context, subscriptionID, payloadID string, attempt int) (*schema.DeliveryLogEntry, error)
	// ListDeliveries retrieves ledger rows for a subscription, most recent first
	ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*schema.DeliveryLogEntry, error)
	// GetDeliveryStats aggregates the ledger and pending retries for a subscription
	GetDeliveryStats(ctx context.Context, subscriptionID string) (*DeliveryStats, error)
}
