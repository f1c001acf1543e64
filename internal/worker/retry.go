package worker

import (
	"math"
	"time"

	"classbook/internal/config"
)

const (
	defaultMaxRetries    = 5
	defaultInitialDelay  = 30 * time.Second
	defaultMaxDelay      = 30 * time.Minute
	defaultBackoffFactor = 2
)

// RetryPolicy spaces out redelivery of notifications that failed to send.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// RetryPolicyFromConfig fills unset worker settings with defaults.
func RetryPolicyFromConfig(cfg config.WorkerConfig) RetryPolicy {
	p := RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.BackoffFactor <= 1 {
		p.BackoffFactor = defaultBackoffFactor
	}
	return p
}

// Exhausted reports whether a task that failed attempt times goes to the
// dead letter list instead of being retried.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= r.MaxRetries
}

// NextDelay is the wait before retry number attempt (1-based), capped at MaxDelay.
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
		factor = defaultBackoffFactor
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = initial
	}
	return d
}
