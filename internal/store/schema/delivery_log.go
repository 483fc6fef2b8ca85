package schema

import (
	"time"
)

// DeliveryStatus is the recorded outcome of a delivery attempt
type DeliveryStatus string

const (
	// DeliveryStatusSuccess is a delivery the subscriber acknowledged with a 2xx
	DeliveryStatusSuccess DeliveryStatus = "success"
	// DeliveryStatusFailed is a delivery that got a non-2xx response, timed out,
	// or never reached the subscriber
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// DeliveryLogEntry represents the webhook_deliveries table - append-only audit
// log of every delivery attempt. Rows are never mutated after insertion; each
// attempt is a new row.
type DeliveryLogEntry struct {
	// ID is an auto-incrementing sequence number
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SubscriptionID is the subscription this attempt delivered to
	SubscriptionID string `gorm:"column:subscription_id;not null;type:varchar(36);uniqueIndex:idx_delivery_attempt,priority:1;index:idx_deliveries_sub_time,priority:1"`
	// PayloadID identifies the originating publish call (ULID)
	PayloadID string `gorm:"column:payload_id;not null;type:varchar(26);uniqueIndex:idx_delivery_attempt,priority:2"`
	// EventType is the type of event that was delivered
	EventType string `gorm:"column:event_type;not null;type:varchar(64)"`
	// Status is the outcome of this attempt
	Status DeliveryStatus `gorm:"column:status;not null;type:varchar(16)"`
	// StatusCode is the HTTP status code, null on network-level failures
	StatusCode *int `gorm:"column:status_code"`
	// Error contains error details if delivery failed (truncated to 1KB)
	Error string `gorm:"column:error;type:text"`
	// Attempt is the 1-based attempt number
	Attempt int `gorm:"column:attempt;not null;uniqueIndex:idx_delivery_attempt,priority:3"`
	// ResponseTimeMs is the duration of the HTTP exchange in milliseconds,
	// null when the request never completed
	ResponseTimeMs *int64 `gorm:"column:response_time_ms"`
	// NextRetryAt is set when this failure scheduled another attempt;
	// the console renders such entries as "retrying"
	NextRetryAt *time.Time `gorm:"column:next_retry_at;type:timestamptz"`
	// Timestamp is when the attempt completed
	Timestamp time.Time `gorm:"column:timestamp;not null;default:now();type:timestamptz;index:idx_deliveries_sub_time,priority:2,sort:desc"`
}

// TableName specifies the table name for the DeliveryLogEntry model
func (DeliveryLogEntry) TableName() string {
	return "webhook_deliveries"
}
