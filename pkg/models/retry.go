package models

import "time"

// RetryPolicy controls how a failed agent dispatch is retried. It is a
// plain value passed into the dispatcher so tests can inject a zero-delay
// policy.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts"`
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"base_delay"`
	// Multiplier scales the delay after each attempt.
	Multiplier float64 `json:"multiplier"`
	// Cap bounds the delay regardless of backoff growth.
	Cap time.Duration `json:"cap"`
}

// DefaultRetryPolicy is the dispatch policy: 3 attempts, 2s base, doubling,
// capped at 30s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	Multiplier:  2,
	Cap:         30 * time.Second,
}

// Delay returns the backoff before the given retry. Attempt is 1-indexed:
// Delay(1) is the pause after the first failure.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if p.Cap > 0 && d > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(d)
}
