package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript implements an atomic sliding window over a sorted set: expired
// members are pruned, the remaining cardinality is compared against the
// limit, and the attempt is recorded only when it fits.
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current = redis.call('ZCARD', key)
	if current >= limit then
		return 0
	end

	local counter = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. counter)
	local expire_seconds = math.ceil(window_ms / 1000)
	redis.call('EXPIRE', key, expire_seconds)
	redis.call('EXPIRE', key .. ':seq', expire_seconds)
	return 1
`)

// RedisLimiter is a sliding-window limiter backed by Redis sorted sets,
// safe across multiple server instances.
type RedisLimiter struct {
	client    *redis.Client
	keyPrefix string
	window    time.Duration
	limit     int
}

// NewRedisLimiter constructs a limiter allowing limit requests per window.
func NewRedisLimiter(client *redis.Client, keyPrefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		window:    window,
		limit:     limit,
	}
}

// Allow records an attempt for key and reports whether it fits the quota.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-l.window)

	result, err := allowScript.Run(
		ctx,
		l.client,
		[]string{l.keyPrefix + key},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}

	return result == 1, nil
}

// Close closes the underlying Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Reset clears the rate limit for a specific key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	redisKey := l.keyPrefix + key
	return l.client.Del(ctx, redisKey, redisKey+":seq").Err()
}
