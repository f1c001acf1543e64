package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"classbook/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimiter(t *testing.T) {
	s := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer Close(client)

	ctx := context.Background()
	require.NoError(t, Ping(ctx, client))

	limiter := NewRedisRateLimiter(client)
	for i := 0; i < 3; i++ {
		allowed, err := limiter.CheckRateLimit(ctx, 1, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}
	allowed, err := limiter.CheckRateLimit(ctx, 1, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.CheckRateLimit(ctx, 2, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "limits are per user")

	assert.Equal(t, time.Minute, s.TTL("classbook:rate:1"))

	s.FastForward(time.Minute + time.Second)
	allowed, err = limiter.CheckRateLimit(ctx, 1, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "window reset")
}

func TestRedisRateLimiter_Down(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	_, err := NewRedisRateLimiter(client).CheckRateLimit(context.Background(), 1, 3, time.Minute)
	assert.Error(t, err)
	assert.Error(t, Ping(context.Background(), client))
}

func TestMemoryRateLimiter(t *testing.T) {
	now := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	limiter := NewMemoryRateLimiter()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.CheckRateLimit(ctx, 1, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _ := limiter.CheckRateLimit(ctx, 1, 2, time.Minute)
	assert.False(t, allowed)

	now = now.Add(time.Minute)
	allowed, _ = limiter.CheckRateLimit(ctx, 1, 2, time.Minute)
	assert.True(t, allowed, "window ended")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, limiter.Prune())
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, userID, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverRateLimiter(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

	primary := new(mockLimiter)
	fallback := new(mockLimiter)
	r := NewFailoverRateLimiter(primary, fallback, &logger)
	r.now = func() time.Time { return now }

	primary.On("CheckRateLimit", ctx, int64(1), 5, time.Minute).Return(true, nil).Once()
	allowed, err := r.CheckRateLimit(ctx, 1, 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	primary.On("CheckRateLimit", ctx, int64(1), 5, time.Minute).Return(false, errors.New("redis down")).Once()
	fallback.On("CheckRateLimit", ctx, int64(1), 5, time.Minute).Return(false, nil)
	allowed, err = r.CheckRateLimit(ctx, 1, 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// While down the primary is not consulted.
	_, err = r.CheckRateLimit(ctx, 1, 5, time.Minute)
	require.NoError(t, err)
	primary.AssertNumberOfCalls(t, "CheckRateLimit", 2)

	now = now.Add(2 * time.Minute)
	primary.On("CheckRateLimit", ctx, int64(1), 5, time.Minute).Return(true, nil).Once()
	allowed, err = r.CheckRateLimit(ctx, 1, 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.True(t, r.usePrimary())

	primary.AssertExpectations(t)
}
