package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "ratelimit:"

// RedisLimiter is a fixed-window counter shared by every instance.
// Each window is one key; INCR counts and EXPIRE is set on the first hit.
type RedisLimiter struct {
	client    *redis.Client
	keyPrefix string
	limit     int64
	window    time.Duration
	now       func() time.Time
}

// NewRedisLimiter allows perMinute requests per key per one-minute window
func NewRedisLimiter(client *redis.Client, perMinute int, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RedisLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     int64(perMinute),
		window:    time.Minute,
		now:       time.Now,
	}
}

// Allow increments the current window's counter for key
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().Unix() / int64(l.window/time.Second)
	redisKey := l.keyPrefix + key + ":" + strconv.FormatInt(bucket, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}

	return incr.Val() <= l.limit, nil
}

// Limit returns the per-window limit
func (l *RedisLimiter) Limit() int {
	return int(l.limit)
}

var _ integration.RateLimiter = (*RedisLimiter)(nil)
