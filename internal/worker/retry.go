package worker

import (
	"math"
	"time"

	"clinicbook/internal/config"
)

// RetryPolicy is the exponential backoff applied to failed notifications.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// RetryPolicyFromConfig maps notifications.retry onto a policy. Zero
// fields are filled in by NewNotificationWorker.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
}

// Exhausted reports whether a task on its attempt-th delivery should go
// to the dead letter instead of being rescheduled.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= r.MaxRetries
}

// NextDelay returns the wait before the given attempt (1-based), capped
// at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	switch {
	case d <= 0:
		return time.Second
	case r.MaxDelay > 0 && d > r.MaxDelay:
		return r.MaxDelay
	default:
		return d
	}
}
