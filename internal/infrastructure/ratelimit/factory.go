package ratelimit

import (
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewWebhookSourceLimiter builds the limiter for unsigned webhook sources.
// The redis backend needs a live client; without one it degrades to the per-instance limiter.
func NewWebhookSourceLimiter(cfg config.WebhookConfig, client *redis.Client, logger *zap.Logger) integration.RateLimiter {
	if cfg.RateLimitBackend == config.RateLimitBackendRedis {
		if client != nil {
			return NewRedisLimiter(client, cfg.RateLimitPerMinute, "ratelimit:webhook:")
		}
		logger.Warn("Redis rate limit backend configured but Redis is unavailable, using per-instance limiter")
	}
	return NewMemoryLimiter(cfg.RateLimitPerMinute)
}
