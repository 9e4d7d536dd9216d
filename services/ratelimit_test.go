package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the INCR and EXPIRE subset the limiter needs.
type fakeRedis struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRedisRateLimiter(t *testing.T) {
	client := newFakeRedis()
	limiter := NewRedisRateLimiter(client)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := limiter.Hit(ctx, "verify:a@example.com", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, time.Hour, client.expires["rate:verify:a@example.com"])
	assert.Len(t, client.expires, 1, "ttl set on the first hit only")

	client.err = errors.New("connection refused")
	_, err := limiter.Hit(ctx, "verify:a@example.com", time.Hour)
	assert.Error(t, err)
}

func TestDBRateLimiterWindow(t *testing.T) {
	limiter := NewDBRateLimiter(newTestRepo(t))
	clock := newFakeClock()
	limiter.now = clock.Now
	ctx := context.Background()

	for want := int64(1); want <= 2; want++ {
		got, err := limiter.Hit(ctx, "k", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other, err := limiter.Hit(ctx, "other", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	clock.Advance(time.Hour)
	got, err := limiter.Hit(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "window rolled over")
}
