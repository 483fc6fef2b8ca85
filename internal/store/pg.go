package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// AutoMigrate creates or updates the webhook tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Subscription{},
		&schema.DeliveryTask{},
		&schema.DeliveryLogEntry{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to defaults: 20 open, 5 idle,
// 5m max lifetime, 10m max idle time.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// =============================================================================
// Subscription operations
// =============================================================================

// CreateSubscription persists a new subscription
func (s *pgStore) CreateSubscription(ctx context.Context, sub *schema.Subscription) error {
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID
func (s *pgStore) GetSubscription(ctx context.Context, id string) (*schema.Subscription, error) {
	var sub schema.Subscription
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// ListSubscriptions retrieves all subscriptions, newest first
func (s *pgStore) ListSubscriptions(ctx context.Context) ([]*schema.Subscription, error) {
	var subs []*schema.Subscription
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// ListActiveSubscriptionsForEvent retrieves active subscriptions that match the
// given event type. Uses the JSONB containment operator @> so the lookup can be
// served by a GIN index on the events column.
func (s *pgStore) ListActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*schema.Subscription, error) {
	var subs []*schema.Subscription

	operand, err := json.Marshal([]string{eventType})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event type operand: %w", err)
	}
	wildcard, err := json.Marshal([]string{domain.EventTypeWildcard})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wildcard operand: %w", err)
	}

	err = s.db.WithContext(ctx).
		Where("active").
		Where("events @> ?::jsonb OR events @> ?::jsonb", string(operand), string(wildcard)).
		Find(&subs).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions by event type: %w", err)
	}

	return subs, nil
}

// UpdateSubscription applies a partial update and returns the updated row
func (s *pgStore) UpdateSubscription(ctx context.Context, id string, input UpdateSubscriptionInput) (*schema.Subscription, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if input.URL != nil {
		updates["url"] = *input.URL
	}
	if input.Events != nil {
		raw, err := json.Marshal(input.Events)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event filters: %w", err)
		}
		updates["events"] = raw
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.Secret != nil {
		updates["secret"] = *input.Secret
	}

	result := s.db.WithContext(ctx).
		Model(&schema.Subscription{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}

	return s.GetSubscription(ctx, id)
}

// SetSubscriptionActive toggles a subscription and returns the updated row
func (s *pgStore) SetSubscriptionActive(ctx context.Context, id string, active bool) (*schema.Subscription, error) {
	result := s.db.WithContext(ctx).
		Model(&schema.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":     active,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to toggle subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}

	return s.GetSubscription(ctx, id)
}

// DeleteSubscription hard-deletes a subscription
func (s *pgStore) DeleteSubscription(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&schema.Subscription{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// RecordDeliveryOutcome updates the subscription's failure counter and
// last-delivery fields after an attempt. The failure counter is incremented
// in SQL rather than read-modify-write so concurrent workers cannot lose
// increments.
func (s *pgStore) RecordDeliveryOutcome(ctx context.Context, subscriptionID string, success bool, statusCode *int, at time.Time) error {
	updates := map[string]interface{}{
		"last_triggered": at,
		"last_status":    statusCode,
		"updated_at":     time.Now(),
	}
	if success {
		updates["failure_count"] = 0
	} else {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
	}

	err := s.db.WithContext(ctx).
		Model(&schema.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to record delivery outcome: %w", err)
	}

	return nil
}

// =============================================================================
// Delivery queue operations
// =============================================================================

// EnqueueDeliveryTasks appends tasks to the delivery queue in one write
func (s *pgStore) EnqueueDeliveryTasks(ctx context.Context, tasks []*schema.DeliveryTask) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(tasks).Error; err != nil {
		return fmt.Errorf("failed to enqueue delivery tasks: %w", err)
	}
	return nil
}

// ClaimDueDeliveryTasks leases up to limit due tasks. Selection uses
// FOR UPDATE SKIP LOCKED so concurrent dispatchers never block on, or
// double-claim, the same rows within a sweep.
func (s *pgStore) ClaimDueDeliveryTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*schema.DeliveryTask, error) {
	var tasks []*schema.DeliveryTask

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staleBefore := now.Add(-lease)
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("not_before <= ?", now).
			Where("claimed_at IS NULL OR claimed_at < ?", staleBefore).
			Order("not_before ASC").
			Limit(limit).
			Find(&tasks).Error
		if err != nil {
			return err
		}

		if len(tasks) == 0 {
			return nil
		}

		ids := make([]uint64, 0, len(tasks))
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}

		return tx.
			Model(&schema.DeliveryTask{}).
			Where("id IN ?", ids).
			Update("claimed_at", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim delivery tasks: %w", err)
	}

	return tasks, nil
}

// CompleteDeliveryTask removes a task from the queue
func (s *pgStore) CompleteDeliveryTask(ctx context.Context, taskID uint64) error {
	err := s.db.WithContext(ctx).Where("id = ?", taskID).Delete(&schema.DeliveryTask{}).Error
	if err != nil {
		return fmt.Errorf("failed to complete delivery task: %w", err)
	}
	return nil
}

// RescheduleDeliveryTask re-queues a task for its next attempt
func (s *pgStore) RescheduleDeliveryTask(ctx context.Context, taskID uint64, attempt int, notBefore time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"attempt":    attempt,
			"not_before": notBefore,
			"claimed_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule delivery task: %w", err)
	}
	return nil
}

// =============================================================================
// Delivery ledger operations
// =============================================================================

// AppendDeliveryLog appends one immutable ledger row for an attempt. A row
// that already exists for the same (subscription, payload, attempt) triple is
// left untouched and ErrDuplicateAttempt is returned, so a crash-recovered
// worker can tell a replayed attempt apart from a store failure.
func (s *pgStore) AppendDeliveryLog(ctx context.Context, entry *schema.DeliveryLogEntry) error {
	// Limit error message
	if len(entry.Error) > 1024 {
		entry.Error = entry.Error[:1024]
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "subscription_id"},
				{Name: "payload_id"},
				{Name: "attempt"},
			},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return fmt.Errorf("failed to append delivery log: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrDuplicateAttempt
	}
	return nil
}

// GetDeliveryLogEntry retrieves the ledger row for one attempt
func (s *pgStore) GetDeliveryLogEntry(ctx context.Context, subscriptionID, payloadID string, attempt int) (*schema.DeliveryLogEntry, error) {
	var entry schema.DeliveryLogEntry
	err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND payload_id = ? AND attempt = ?", subscriptionID, payloadID, attempt).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDeliveryLogNotFound
		}
		return nil, fmt.Errorf("failed to get delivery log entry: %w", err)
	}
	return &entry, nil
}

// ListDeliveries retrieves ledger rows for a subscription, most recent first
func (s *pgStore) ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*schema.DeliveryLogEntry, error) {
	var entries []*schema.DeliveryLogEntry
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("timestamp DESC, attempt DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return entries, nil
}

// GetDeliveryStats aggregates the ledger and pending retries for a subscription
func (s *pgStore) GetDeliveryStats(ctx context.Context, subscriptionID string) (*DeliveryStats, error) {
	var row struct {
		Total             int64
		Successful        int64
		Failed            int64
		AvgResponseTimeMs *float64
		LastDelivery      *time.Time
	}

	err := s.db.WithContext(ctx).
		Model(&schema.DeliveryLogEntry{}).
		Select(`COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'success') AS successful,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			AVG(response_time_ms) FILTER (WHERE status = 'success') AS avg_response_time_ms,
			MAX(timestamp) AS last_delivery`).
		Where("subscription_id = ?", subscriptionID).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}

	stats := &DeliveryStats{
		Total:             row.Total,
		Successful:        row.Successful,
		Failed:            row.Failed,
		AvgResponseTimeMs: row.AvgResponseTimeMs,
		LastDelivery:      row.LastDelivery,
	}

	// A queued retry (attempt > 1) exposes its not_before as the next retry time
	var nextRetry struct {
		NextRetry *time.Time
	}
	err = s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Select("MIN(not_before) AS next_retry").
		Where("subscription_id = ? AND attempt > 1", subscriptionID).
		Scan(&nextRetry).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pending retries: %w", err)
	}
	stats.NextRetry = nextRetry.NextRetry

	return stats, nil
}
