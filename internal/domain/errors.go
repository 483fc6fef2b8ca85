package domain

import "errors"

var (
	// ErrSubscriptionNotFound is returned when a subscription lookup misses
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidURL is returned when a subscription URL is not a well-formed absolute URL
	ErrInvalidURL = errors.New("invalid webhook URL")

	// ErrEmptyEvents is returned when a subscription is created or updated with no event filters
	ErrEmptyEvents = errors.New("event filters must not be empty")

	// ErrUnsupportedEventType is returned when an event filter is not in the catalog
	ErrUnsupportedEventType = errors.New("unsupported event type")

	// ErrQueueUnavailable is returned when delivery tasks cannot be enqueued
	ErrQueueUnavailable = errors.New("delivery queue unavailable")

	// ErrDuplicateAttempt is returned when a ledger row for the same
	// (subscription, payload, attempt) triple already exists
	ErrDuplicateAttempt = errors.New("delivery attempt already recorded")

	// ErrDeliveryLogNotFound is returned when a ledger row lookup misses
	ErrDeliveryLogNotFound = errors.New("delivery log entry not found")
)
