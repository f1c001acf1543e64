package api

import (
	"sync"

	"classbook/internal/config"

	"golang.org/x/time/rate"
)

// keyedLimiter keeps one token bucket per API client.
type keyedLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newKeyedLimiter(cfg config.APIRateLimitConfig) *keyedLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &keyedLimiter{rps: cfg.RPS, burst: burst}
}

// allow reports whether the client may make another request now. A
// non-positive rate disables limiting.
func (l *keyedLimiter) allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	return l.get(key).Allow()
}

func (l *keyedLimiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	actual, _ := l.limiters.LoadOrStore(key, lim)
	return actual.(*rate.Limiter)
}
