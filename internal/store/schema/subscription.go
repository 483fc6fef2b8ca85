package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription represents the webhook_subscriptions table - registered webhook endpoints
type Subscription struct {
	// ID is an opaque unique identifier (UUID), immutable after creation
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// URL is the HTTP(S) endpoint where webhooks will be delivered
	URL string `gorm:"column:url;not null;type:text"`
	// Events is a JSON array of event types this subscription wants to receive.
	// Examples: ["transaction.completed", "wallet.frozen"] or ["*"] for all events
	Events datatypes.JSON `gorm:"column:events;not null;type:jsonb"`
	// Description is an optional free-text label
	Description string `gorm:"column:description;type:text"`
	// Secret is the key used for HMAC-SHA256 signature generation
	Secret string `gorm:"column:secret;not null;type:text"`
	// Active indicates whether the publisher should fan events out to this subscription
	Active bool `gorm:"column:active;not null;default:true"`
	// FailureCount counts consecutive failed delivery attempts since the last success
	FailureCount int `gorm:"column:failure_count;not null;default:0"`
	// LastTriggered is the timestamp of the most recent delivery attempt
	LastTriggered *time.Time `gorm:"column:last_triggered;type:timestamptz"`
	// LastStatus is the HTTP status code of the most recent delivery attempt
	LastStatus *int `gorm:"column:last_status"`
	// CreatedAt is the timestamp when this subscription was registered
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this subscription was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Subscription model
func (Subscription) TableName() string {
	return "webhook_subscriptions"
}
