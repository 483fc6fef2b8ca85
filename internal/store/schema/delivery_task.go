package schema

import (
	"time"

	"gorm.io/datatypes"
)

// DeliveryTask represents the webhook_delivery_queue table - queued delivery work.
// Rows exist only while delivery is pending or awaiting retry; a terminal
// outcome (success, or attempts exhausted) deletes the row. The audit trail
// lives in webhook_deliveries, not here.
type DeliveryTask struct {
	// ID is an auto-incrementing sequence number
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SubscriptionID is the subscription this task delivers to
	SubscriptionID string `gorm:"column:subscription_id;not null;type:varchar(36);index"`
	// EventType is the type of event being delivered
	EventType string `gorm:"column:event_type;not null;type:varchar(64)"`
	// PayloadID identifies the originating publish call (ULID)
	PayloadID string `gorm:"column:payload_id;not null;type:varchar(26)"`
	// Payload is the opaque event data as JSON
	Payload datatypes.JSON `gorm:"column:payload;not null;type:jsonb"`
	// Attempt is the 1-based attempt number this task represents
	Attempt int `gorm:"column:attempt;not null;default:1"`
	// NotBefore is the earliest time a worker may pick this task up
	NotBefore time.Time `gorm:"column:not_before;not null;type:timestamptz;index"`
	// ClaimedAt marks a task leased by a worker; stale claims are re-swept
	// after the lease window so a crashed worker cannot strand a task
	ClaimedAt *time.Time `gorm:"column:claimed_at;type:timestamptz"`
	// CreatedAt is the timestamp when this task was enqueued
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DeliveryTask model
func (DeliveryTask) TableName() string {
	return "webhook_delivery_queue"
}
