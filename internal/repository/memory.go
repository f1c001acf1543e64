package repository

import (
	"context"
	"sync"
	"time"
)

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryRateLimiter is the single-process rate limiter.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[int64]*rateLimitEntry
	now     func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries: make(map[int64]*rateLimitEntry),
		now:     time.Now,
	}
}

func (r *MemoryRateLimiter) CheckRateLimit(_ context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.entries[userID]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.entries[userID] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}

// Prune drops windows that have ended.
func (r *MemoryRateLimiter) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, entry := range r.entries {
		if !now.Before(entry.expiresAt) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}
