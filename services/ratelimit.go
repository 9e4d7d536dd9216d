package services

import (
	"context"
	"time"

	"github.com/codescribe/backend/repository"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts hits per key within a fixed window.
type RateLimiter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisRateLimiter keeps counters in Redis so limits hold across instances.
type RedisRateLimiter struct {
	client redisRateCounter
}

func NewRedisRateLimiter(client redisRateCounter) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (l *RedisRateLimiter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrWithTTL(ctx, l.client, "rate:"+key, window)
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// DBRateLimiter is the fallback when Redis is not configured; counters live
// in the rate_limit_entries table.
type DBRateLimiter struct {
	repo *repository.GORMRepository
	now  func() time.Time
}

func NewDBRateLimiter(repo *repository.GORMRepository) *DBRateLimiter {
	return &DBRateLimiter{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (l *DBRateLimiter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return l.repo.IncrementRateLimit(ctx, key, window, l.now())
}
