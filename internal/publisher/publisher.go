package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/walletops/hookrelay/internal/adapter"
	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/logger"
	"github.com/walletops/hookrelay/internal/store/schema"
)

// Store is the slice of the data store the publisher depends on
type Store interface {
	ListActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*schema.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*schema.Subscription, error)
	EnqueueDeliveryTasks(ctx context.Context, tasks []*schema.DeliveryTask) error
}

// Publisher fans domain events out to matching subscriptions as delivery tasks
type Publisher interface {
	// Publish enqueues one delivery task per active subscription whose event
	// filters match eventType. Returns the number of tasks enqueued. The call
	// does not wait for any delivery to happen.
	Publish(ctx context.Context, eventType string, data json.RawMessage) (int, error)

	// PublishTest enqueues a synthetic webhook.test delivery for a single
	// subscription and returns the payload ID so the caller can correlate the
	// resulting ledger entries.
	PublishTest(ctx context.Context, subscriptionID string) (string, error)
}

type publisher struct {
	store Store
	clock adapter.Clock
}

// New creates a new event publisher
func New(st Store, clock adapter.Clock) Publisher {
	return &publisher{
		store: st,
		clock: clock,
	}
}

// Publish fans the event out to all matching active subscriptions
func (p *publisher) Publish(ctx context.Context, eventType string, data json.RawMessage) (int, error) {
	if !domain.IsValidEventType(eventType) {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnsupportedEventType, eventType)
	}

	subs, err := p.store.ListActiveSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		return 0, fmt.Errorf("failed to look up subscriptions: %w", err)
	}

	if len(subs) == 0 {
		logger.Debug("No active subscriptions for event type", zap.String("event_type", eventType))
		return 0, nil
	}

	now := p.clock.Now()
	// One payload ID per publish call, shared across the whole fan-out, so
	// correlated deliveries trace back to one originating event
	payloadID := ulid.MustNewDefault(now).String()

	tasks := make([]*schema.DeliveryTask, 0, len(subs))
	for _, sub := range subs {
		tasks = append(tasks, &schema.DeliveryTask{
			SubscriptionID: sub.ID,
			EventType:      eventType,
			PayloadID:      payloadID,
			Payload:        []byte(data),
			Attempt:        1,
			NotBefore:      now,
		})
	}

	// Losing events silently would break the observability contract, so a
	// failed enqueue surfaces as QueueUnavailable to the producer
	if err := p.store.EnqueueDeliveryTasks(ctx, tasks); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	logger.Info("Published event",
		zap.String("event_type", eventType),
		zap.String("payload_id", payloadID),
		zap.Int("tasks_enqueued", len(tasks)),
	)

	return len(tasks), nil
}

// PublishTest enqueues a synthetic delivery for one subscription
func (p *publisher) PublishTest(ctx context.Context, subscriptionID string) (string, error) {
	sub, err := p.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}

	now := p.clock.Now()
	payloadID := ulid.MustNewDefault(now).String()

	data, err := json.Marshal(map[string]interface{}{
		"test":           true,
		"subscriptionId": sub.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build test payload: %w", err)
	}

	task := &schema.DeliveryTask{
		SubscriptionID: sub.ID,
		EventType:      domain.EventTypeWebhookTest,
		PayloadID:      payloadID,
		Payload:        data,
		Attempt:        1,
		NotBefore:      now,
	}

	if err := p.store.EnqueueDeliveryTasks(ctx, []*schema.DeliveryTask{task}); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	logger.Info("Enqueued test delivery",
		zap.String("subscription_id", sub.ID),
		zap.String("payload_id", payloadID),
	)

	return payloadID, nil
}
