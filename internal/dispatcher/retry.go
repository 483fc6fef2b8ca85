package dispatcher

import "time"

// RetryPolicy controls the delivery retry schedule. The backoff constants are
// operator policy, not invariants: they are loaded from configuration and the
// defaults below are starting points.
type RetryPolicy struct {
	// Base is the delay before the second attempt
	Base time.Duration
	// MaxDelay caps the exponential growth
	MaxDelay time.Duration
	// MaxAttempts is the total number of attempts before a task is retired
	MaxAttempts int
}

// DefaultRetryPolicy returns the stock schedule: 30s, 1m, 2m, 4m, capped at
// 1h, five attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        30 * time.Second,
		MaxDelay:    time.Hour,
		MaxAttempts: 5,
	}
}

// NextDelay returns the wait before the attempt following failedAttempt
// (1-based): base * 2^(failedAttempt-1), capped at MaxDelay.
func (p RetryPolicy) NextDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}

	delay := p.Base
	for i := 1; i < failedAttempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted reports whether failedAttempt was the final allowed attempt
func (p RetryPolicy) Exhausted(failedAttempt int) bool {
	return failedAttempt >= p.MaxAttempts
}
