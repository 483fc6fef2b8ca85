package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletops/hookrelay/internal/adapter"
	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/publisher"
	"github.com/walletops/hookrelay/internal/store/schema"
)

type fakeStore struct {
	subs       map[string]*schema.Subscription
	matching   []*schema.Subscription
	enqueued   []*schema.DeliveryTask
	enqueueErr error
	listErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[string]*schema.Subscription)}
}

func (s *fakeStore) ListActiveSubscriptionsForEvent(_ context.Context, _ string) ([]*schema.Subscription, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.matching, nil
}

func (s *fakeStore) GetSubscription(_ context.Context, id string) (*schema.Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *fakeStore) EnqueueDeliveryTasks(_ context.Context, tasks []*schema.DeliveryTask) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.enqueued = append(s.enqueued, tasks...)
	return nil
}

func TestPublish(t *testing.T) {
	t.Run("fans out to every matching subscription", func(t *testing.T) {
		st := newFakeStore()
		st.matching = []*schema.Subscription{
			{ID: "sub-1", URL: "https://one.example.com/hook", Active: true},
			{ID: "sub-2", URL: "https://two.example.com/hook", Active: true},
			{ID: "sub-3", URL: "https://three.example.com/hook", Active: true},
		}

		pub := publisher.New(st, adapter.NewClock())
		count, err := pub.Publish(context.Background(), domain.EventTypeTransactionCompleted, json.RawMessage(`{"amount":"10.00"}`))
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		require.Len(t, st.enqueued, 3)

		for i, task := range st.enqueued {
			assert.Equal(t, st.matching[i].ID, task.SubscriptionID)
			assert.Equal(t, domain.EventTypeTransactionCompleted, task.EventType)
			assert.Equal(t, 1, task.Attempt)
			assert.JSONEq(t, `{"amount":"10.00"}`, string(task.Payload))
			assert.False(t, task.NotBefore.After(time.Now()), "first attempt is due immediately")
		}
	})

	t.Run("shares one payload ID across the fan-out", func(t *testing.T) {
		st := newFakeStore()
		st.matching = []*schema.Subscription{
			{ID: "sub-1", Active: true},
			{ID: "sub-2", Active: true},
		}

		pub := publisher.New(st, adapter.NewClock())
		_, err := pub.Publish(context.Background(), domain.EventTypeWalletCreated, json.RawMessage(`{}`))
		require.NoError(t, err)
		require.Len(t, st.enqueued, 2)

		assert.Equal(t, st.enqueued[0].PayloadID, st.enqueued[1].PayloadID)
		_, err = ulid.Parse(st.enqueued[0].PayloadID)
		assert.NoError(t, err)
	})

	t.Run("no matching subscriptions enqueues nothing", func(t *testing.T) {
		st := newFakeStore()

		pub := publisher.New(st, adapter.NewClock())
		count, err := pub.Publish(context.Background(), domain.EventTypeCardIssued, json.RawMessage(`{}`))
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, st.enqueued)
	})

	t.Run("rejects unknown event types", func(t *testing.T) {
		st := newFakeStore()

		pub := publisher.New(st, adapter.NewClock())
		_, err := pub.Publish(context.Background(), "bogus.event", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, domain.ErrUnsupportedEventType)
		assert.Empty(t, st.enqueued)
	})

	t.Run("rejects the wildcard as a publishable type", func(t *testing.T) {
		st := newFakeStore()

		pub := publisher.New(st, adapter.NewClock())
		_, err := pub.Publish(context.Background(), domain.EventTypeWildcard, json.RawMessage(`{}`))
		assert.ErrorIs(t, err, domain.ErrUnsupportedEventType)
	})

	t.Run("surfaces enqueue failures as queue unavailable", func(t *testing.T) {
		st := newFakeStore()
		st.matching = []*schema.Subscription{{ID: "sub-1", Active: true}}
		st.enqueueErr = errors.New("connection refused")

		pub := publisher.New(st, adapter.NewClock())
		_, err := pub.Publish(context.Background(), domain.EventTypeExportReady, json.RawMessage(`{}`))
		assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
	})
}

func TestPublishTest(t *testing.T) {
	t.Run("enqueues a synthetic delivery and returns the payload ID", func(t *testing.T) {
		st := newFakeStore()
		st.subs["sub-1"] = &schema.Subscription{ID: "sub-1", Active: true}

		pub := publisher.New(st, adapter.NewClock())
		payloadID, err := pub.PublishTest(context.Background(), "sub-1")
		require.NoError(t, err)
		require.Len(t, st.enqueued, 1)

		task := st.enqueued[0]
		assert.Equal(t, payloadID, task.PayloadID)
		assert.Equal(t, domain.EventTypeWebhookTest, task.EventType)
		assert.Equal(t, "sub-1", task.SubscriptionID)
		assert.JSONEq(t, `{"test":true,"subscriptionId":"sub-1"}`, string(task.Payload))
	})

	t.Run("unknown subscription returns not found", func(t *testing.T) {
		st := newFakeStore()

		pub := publisher.New(st, adapter.NewClock())
		_, err := pub.PublishTest(context.Background(), "ghost")
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	})

	t.Run("enqueues even when the subscription is paused", func(t *testing.T) {
		// The worker drops tasks for paused subscriptions; the test endpoint
		// applies the same rule instead of special-casing it here
		st := newFakeStore()
		st.subs["sub-1"] = &schema.Subscription{ID: "sub-1", Active: false}

		pub := publisher.New(st, adapter.NewClock())
		payloadID, err := pub.PublishTest(context.Background(), "sub-1")
		require.NoError(t, err)
		assert.NotEmpty(t, payloadID)
		assert.Len(t, st.enqueued, 1)
	})
}
