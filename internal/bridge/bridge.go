package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/walletops/hookrelay/internal/adapter"
	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/logger"
	"github.com/walletops/hookrelay/internal/publisher"
)

// Config holds the configuration for the event bridge
type Config struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWaitTimeout time.Duration
	MaxDeliver     int
}

// Bridge consumes domain events from JetStream and fans them out as webhook
// delivery tasks
type Bridge interface {
	// Run starts the event bridge and blocks until ctx is cancelled
	Run(ctx context.Context) error
	// Close closes the bridge and cleans up resources
	Close()
}

type bridge struct {
	nc        adapter.NatsConn
	js        adapter.JetStream
	publisher publisher.Publisher
	config    Config
}

// NewBridge connects to NATS and creates a new event bridge. The initial
// connect is retried with exponential backoff since the broker may still be
// coming up when we start.
func NewBridge(cfg Config, natsJS adapter.NatsJetStream, pub publisher.Publisher) (Bridge, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	var (
		nc adapter.NatsConn
		js adapter.JetStream
	)
	connect := func() error {
		var err error
		nc, js, err = natsJS.Connect(cfg.URL, opts...)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &bridge{
		nc:        nc,
		js:        js,
		publisher: pub,
		config:    cfg,
	}, nil
}

// Run starts the event bridge
func (b *bridge) Run(ctx context.Context) error {
	logger.Info("Starting event bridge",
		zap.String("stream", b.config.StreamName),
		zap.String("consumer", b.config.ConsumerName),
	)

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       b.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.config.AckWaitTimeout,
		MaxDeliver:    b.config.MaxDeliver,
		FilterSubject: "events.>",
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.Info("Consumer created/retrieved", zap.String("consumer", consumerInfo.Name))

	msgChan := make(chan adapter.Message, 100)
	sub, err := consumer.Consume(func(msg adapter.Message) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.Info("Started consuming messages")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down event bridge")
			return ctx.Err()
		case msg := <-msgChan:
			go b.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes a single NATS message. Unparseable or unknown
// events are terminated so the broker stops redelivering them; transient
// fan-out failures are NAKed for redelivery.
func (b *bridge) handleMessage(ctx context.Context, msg adapter.Message) {
	metadata, _ := msg.Metadata()

	var event domain.DomainEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		logger.Error(err, zap.String("message", "Failed to unmarshal event"))
		if err := msg.Term(); err != nil {
			logger.Error(err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	if !domain.IsValidEventType(event.EventType) {
		logger.Warn("Dropping event with unknown type",
			zap.String("subject", msg.Subject()),
			zap.String("eventType", event.EventType),
		)
		if err := msg.Term(); err != nil {
			logger.Error(err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	var deliveryCount uint64
	if metadata != nil {
		deliveryCount = metadata.NumDelivered
	}
	logger.Info("Received event",
		zap.String("subject", msg.Subject()),
		zap.String("eventType", event.EventType),
		zap.Uint64("deliveryCount", deliveryCount),
	)

	enqueued, err := b.publisher.Publish(ctx, event.EventType, event.Data)
	if err != nil {
		logger.Error(err, zap.String("message", "Failed to fan event out"))
		if err := msg.Nak(); err != nil {
			logger.Error(err, zap.String("message", "Failed to NAK message"))
		}
		return
	}

	logger.Info("Event fanned out",
		zap.String("eventType", event.EventType),
		zap.Int("enqueued", enqueued),
	)

	if err := msg.Ack(); err != nil {
		logger.Error(err, zap.String("message", "Failed to ACK message"))
	}
}

// Close closes the bridge and cleans up resources
func (b *bridge) Close() {
	if b.nc == nil {
		return
	}

	b.nc.Close()
}
