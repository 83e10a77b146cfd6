package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces the relay's rate limit keys in redis.
const keyPrefix = "avarelay:ratelimit:"

// RedisLimiter is a fixed-window limiter backed by redis. It allows up
// to limit requests per key within each window; the counter key expires
// with the window so idle clients cost nothing.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// RedisOptions configures the redis connection.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// NewRedisLimiter creates a redis-backed limiter allowing limit
// requests per window for each key.
func NewRedisLimiter(opts RedisOptions, limit int, window time.Duration) *RedisLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow reports whether the request for key is within limits. The
// counter is incremented first and the expiry set only on the first
// request of a window, so the window boundary is fixed at first use.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := keyPrefix + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", key, err)
	}

	return incr.Val() <= int64(r.limit), nil
}

// Ping verifies connectivity to redis.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the redis connection.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
