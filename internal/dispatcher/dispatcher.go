package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/walletops/hookrelay/internal/adapter"
	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/logger"
	"github.com/walletops/hookrelay/internal/store/schema"
	"github.com/walletops/hookrelay/internal/webhook"
)

// Store is the slice of the data store the dispatcher depends on
type Store interface {
	GetSubscription(ctx context.Context, id string) (*schema.Subscription, error)
	RecordDeliveryOutcome(ctx context.Context, subscriptionID string, success bool, statusCode *int, at time.Time) error
	ClaimDueDeliveryTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*schema.DeliveryTask, error)
	CompleteDeliveryTask(ctx context.Context, taskID uint64) error
	RescheduleDeliveryTask(ctx context.Context, taskID uint64, attempt int, notBefore time.Time) error
	AppendDeliveryLog(ctx context.Context, entry *schema.DeliveryLogEntry) error
	GetDeliveryLogEntry(ctx context.Context, subscriptionID, payloadID string, attempt int) (*schema.DeliveryLogEntry, error)
}

// Config holds configuration for the delivery dispatcher
type Config struct {
	WorkerPoolSize  int           // Concurrent delivery workers
	BatchSize       int           // Tasks claimed per sweep
	SweepInterval   time.Duration // Sleep between sweeps when the queue is drained
	ClaimLease      time.Duration // How long a claimed task stays invisible to other sweeps
	DeliveryTimeout time.Duration // Outbound HTTP timeout per attempt
	Retry           RetryPolicy
}

// Dispatcher continuously drains the delivery queue and executes signed
// HTTP deliveries through a worker pool
type Dispatcher interface {
	// Start begins the dispatch loop. Blocks until the context is canceled
	// or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the dispatcher, waiting for in-flight deliveries
	Stop(ctx context.Context) error

	// Name returns the dispatcher's name for logging and identification
	Name() string
}

type dispatcher struct {
	config    Config
	store     Store
	client    *http.Client
	clock     adapter.Clock
	pool      pond.Pool
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// New creates a new delivery dispatcher
func New(cfg Config, st Store, clock adapter.Clock) Dispatcher {
	return &dispatcher{
		config: cfg,
		store:  st,
		client: &http.Client{
			Timeout: cfg.DeliveryTimeout,
		},
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the dispatcher's name
func (d *dispatcher) Name() string {
	return "delivery-dispatcher"
}

// Start begins the dispatch loop
func (d *dispatcher) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}
	defer func() {
		d.running.Store(false)
		close(d.stoppedCh)
	}()

	logger.Info("Starting delivery dispatcher",
		zap.Int("worker_pool_size", d.config.WorkerPoolSize),
		zap.Int("batch_size", d.config.BatchSize),
		zap.Duration("sweep_interval", d.config.SweepInterval),
		zap.Int("retry_max_attempts", d.config.Retry.MaxAttempts),
	)

	d.pool = pond.NewPool(
		d.config.WorkerPoolSize,
		pond.WithQueueSize(d.config.BatchSize),
		pond.WithContext(ctx),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Delivery dispatcher stopping due to context cancellation", zap.Error(ctx.Err()))
			d.cleanup()
			return nil
		case <-d.stopChan:
			logger.Info("Delivery dispatcher stop requested")
			d.cleanup()
			return nil
		default:
			if err := d.runSweep(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error(err)
				}
			}
		}
	}
}

// cleanup stops the worker pool and waits for in-flight deliveries
func (d *dispatcher) cleanup() {
	if d.pool != nil {
		d.pool.StopAndWait()
	}
}

// Stop gracefully stops the dispatcher with timeout support
func (d *dispatcher) Stop(ctx context.Context) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	logger.Info("Stopping delivery dispatcher")
	close(d.stopChan)

	select {
	case <-d.stoppedCh:
		logger.Info("Delivery dispatcher stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.Warn("Delivery dispatcher stop interrupted by context timeout")
		return ctx.Err()
	}
}

// runSweep claims one batch of due tasks and hands them to the worker pool.
// Claimed tasks are invisible to the next sweep, so iterating immediately
// after a full batch drains a backlog without re-reading the same rows.
func (d *dispatcher) runSweep(ctx context.Context) error {
	tasks, err := d.store.ClaimDueDeliveryTasks(ctx, d.clock.Now(), d.config.ClaimLease, d.config.BatchSize)
	if err != nil {
		// Nothing was claimed; back off before hammering the store again
		if !d.sleep(ctx, d.config.SweepInterval) {
			return ctx.Err()
		}
		return fmt.Errorf("failed to claim due tasks: %w", err)
	}

	if len(tasks) == 0 {
		if !d.sleep(ctx, d.config.SweepInterval) {
			return ctx.Err()
		}
		return nil
	}

	logger.Debug("Claimed delivery tasks", zap.Int("count", len(tasks)))

	group := d.pool.NewGroup()
	for _, task := range tasks {
		group.Submit(func() {
			d.process(ctx, task)
		})
	}
	group.Wait()

	return nil
}

// process executes a single claimed task end to end
func (d *dispatcher) process(ctx context.Context, task *schema.DeliveryTask) {
	sub, err := d.store.GetSubscription(ctx, task.SubscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			// Subscriber unsubscribed mid-flight; not an error
			logger.Info("Dropping task for deleted subscription",
				zap.Uint64("task_id", task.ID),
				zap.String("subscription_id", task.SubscriptionID),
			)
			d.completeTask(ctx, task)
			return
		}
		// Transient store error: leave the claim in place, the lease expiry
		// returns the task to the next sweep
		logger.Error(err, zap.Uint64("task_id", task.ID))
		return
	}

	if !sub.Active {
		logger.Info("Dropping task for inactive subscription",
			zap.Uint64("task_id", task.ID),
			zap.String("subscription_id", sub.ID),
		)
		d.completeTask(ctx, task)
		return
	}

	result := d.deliver(ctx, sub, task)
	d.record(ctx, sub, task, result)
}

// deliver performs the signed HTTP POST for one attempt
func (d *dispatcher) deliver(ctx context.Context, sub *schema.Subscription, task *schema.DeliveryTask) webhook.DeliveryResult {
	event := webhook.Event{
		EventType: task.EventType,
		PayloadID: task.PayloadID,
		Timestamp: d.clock.Now(),
		Data:      json.RawMessage(task.Payload),
	}

	body, signature, err := webhook.SignedPayload(sub.Secret, event)
	if err != nil {
		return webhook.DeliveryResult{Error: err.Error()}
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.config.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return webhook.DeliveryResult{Error: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, signature)

	start := d.clock.Now()
	resp, err := d.client.Do(req)
	elapsed := d.clock.Since(start)

	if err != nil {
		// Timeout or network-level failure; no status code to record
		return webhook.DeliveryResult{
			ResponseTime: elapsed,
			Error:        err.Error(),
		}
	}
	defer func() {
		// Drain so the connection can be reused; the response body itself
		// is not part of the contract
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return webhook.DeliveryResult{
			Success:      true,
			StatusCode:   resp.StatusCode,
			ResponseTime: elapsed,
		}
	}

	return webhook.DeliveryResult{
		StatusCode:   resp.StatusCode,
		ResponseTime: elapsed,
		Error:        fmt.Sprintf("unexpected status code %d", resp.StatusCode),
	}
}

// record writes the ledger row, updates the subscription counters, and either
// retires the task or schedules the next attempt. The ledger append happens
// before any reschedule so attempt N+1 can never be claimed before attempt N's
// outcome is durable.
func (d *dispatcher) record(ctx context.Context, sub *schema.Subscription, task *schema.DeliveryTask, result webhook.DeliveryResult) {
	now := d.clock.Now()

	var statusCode *int
	if result.StatusCode != 0 {
		statusCode = &result.StatusCode
	}
	var responseTimeMs *int64
	if result.ResponseTime > 0 {
		ms := result.ResponseTime.Milliseconds()
		responseTimeMs = &ms
	}

	entry := &schema.DeliveryLogEntry{
		SubscriptionID: sub.ID,
		PayloadID:      task.PayloadID,
		EventType:      task.EventType,
		Attempt:        task.Attempt,
		StatusCode:     statusCode,
		ResponseTimeMs: responseTimeMs,
		Timestamp:      now,
	}

	retry := !result.Success && !d.config.Retry.Exhausted(task.Attempt)
	var nextRetryAt time.Time
	if retry {
		nextRetryAt = now.Add(d.config.Retry.NextDelay(task.Attempt))
		entry.NextRetryAt = &nextRetryAt
	}

	if result.Success {
		entry.Status = schema.DeliveryStatusSuccess
	} else {
		entry.Status = schema.DeliveryStatusFailed
		entry.Error = result.Error
	}

	if err := d.store.AppendDeliveryLog(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateAttempt) {
			// A previous worker recorded this attempt but crashed before
			// resolving the task. Resolve it from the recorded row instead
			// of leaving the claim to expire and replay the attempt again.
			d.resolveRecordedAttempt(ctx, sub, task)
			return
		}
		// Leave the claim in place: the lease expiry retries the whole
		// attempt rather than losing the audit row
		logger.Error(err, zap.Uint64("task_id", task.ID))
		return
	}

	if err := d.store.RecordDeliveryOutcome(ctx, sub.ID, result.Success, statusCode, now); err != nil {
		logger.Error(err, zap.String("subscription_id", sub.ID))
	}

	switch {
	case result.Success:
		logger.Info("Webhook delivered",
			zap.String("subscription_id", sub.ID),
			zap.String("payload_id", task.PayloadID),
			zap.Int("attempt", task.Attempt),
			zap.Int("status_code", result.StatusCode),
		)
		d.completeTask(ctx, task)

	case retry:
		logger.Warn("Webhook delivery failed, retry scheduled",
			zap.String("subscription_id", sub.ID),
			zap.String("payload_id", task.PayloadID),
			zap.Int("attempt", task.Attempt),
			zap.Time("next_retry", nextRetryAt),
			zap.String("error", result.Error),
		)
		if err := d.store.RescheduleDeliveryTask(ctx, task.ID, task.Attempt+1, nextRetryAt); err != nil {
			logger.Error(err, zap.Uint64("task_id", task.ID))
		}

	default:
		// Attempts exhausted; the task is retired. The subscription stays
		// active so operators notice the failure state instead of silently
		// losing delivery.
		logger.Warn("Webhook delivery retired after max attempts",
			zap.String("subscription_id", sub.ID),
			zap.String("payload_id", task.PayloadID),
			zap.Int("attempts", task.Attempt),
			zap.String("error", result.Error),
		)
		d.completeTask(ctx, task)
	}
}

// resolveRecordedAttempt finishes a task whose ledger row for the current
// attempt already exists. The recorded row carries the outcome the crashed
// worker meant to act on: a success or terminal failure retires the task, a
// failure with a scheduled retry advances it to the next attempt.
func (d *dispatcher) resolveRecordedAttempt(ctx context.Context, sub *schema.Subscription, task *schema.DeliveryTask) {
	recorded, err := d.store.GetDeliveryLogEntry(ctx, sub.ID, task.PayloadID, task.Attempt)
	if err != nil {
		// The lease expiry brings the task back
		logger.Error(err, zap.Uint64("task_id", task.ID))
		return
	}

	logger.Info("Resolving task from previously recorded attempt",
		zap.String("subscription_id", sub.ID),
		zap.String("payload_id", task.PayloadID),
		zap.Int("attempt", task.Attempt),
		zap.String("status", string(recorded.Status)),
	)

	if recorded.Status == schema.DeliveryStatusFailed && recorded.NextRetryAt != nil {
		if err := d.store.RescheduleDeliveryTask(ctx, task.ID, task.Attempt+1, *recorded.NextRetryAt); err != nil {
			logger.Error(err, zap.Uint64("task_id", task.ID))
		}
		return
	}
	d.completeTask(ctx, task)
}

func (d *dispatcher) completeTask(ctx context.Context, task *schema.DeliveryTask) {
	if err := d.store.CompleteDeliveryTask(ctx, task.ID); err != nil {
		logger.Error(err, zap.Uint64("task_id", task.ID))
	}
}

// sleep waits for the given duration, returning false if interrupted by
// context cancellation or a stop request
func (d *dispatcher) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-d.stopChan:
		return false
	case <-d.clock.After(duration):
		return true
	}
}
