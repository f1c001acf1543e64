package repository

import (
	"context"
	"sync"
	"time"

	"classbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverRateLimiter uses the primary limiter and switches to the fallback
// while the primary is failing. The primary is retried once a minute.
type FailoverRateLimiter struct {
	primary  domain.RateLimitRepository
	fallback domain.RateLimitRepository
	logger   *zerolog.Logger

	mu        sync.Mutex
	down      bool
	lastCheck time.Time
	now       func() time.Time
}

var _ domain.RateLimitRepository = (*FailoverRateLimiter)(nil)

func NewFailoverRateLimiter(primary, fallback domain.RateLimitRepository, logger *zerolog.Logger) *FailoverRateLimiter {
	return &FailoverRateLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverRateLimiter) usePrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.down || r.now().Sub(r.lastCheck) > recoveryInterval
}

func (r *FailoverRateLimiter) markDown(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.down {
		r.logger.Error().Err(err).Msg("Primary rate limiter failed, falling back to memory")
	}
	r.down = true
	r.lastCheck = r.now()
}

func (r *FailoverRateLimiter) markUp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		r.logger.Info().Msg("Primary rate limiter recovered")
	}
	r.down = false
}

func (r *FailoverRateLimiter) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}
