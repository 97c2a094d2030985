package cache

import (
	"fmt"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StateStoreFactory creates OAuth state stores based on configuration
type StateStoreFactory struct {
	redisConfig           config.RedisConfig
	client                *redis.Client
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StateStoreFactoryOption is a functional option for configuring the factory
type StateStoreFactoryOption func(*StateStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StateStoreFactoryOption {
	return func(f *StateStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory store when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) StateStoreFactoryOption {
	return func(f *StateStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithRedisClient reuses an already connected client instead of dialing a new one
func WithRedisClient(client *redis.Client) StateStoreFactoryOption {
	return func(f *StateStoreFactory) {
		f.client = client
	}
}

// NewStateStoreFactory creates a new factory
func NewStateStoreFactory(cfg config.RedisConfig, opts ...StateStoreFactoryOption) *StateStoreFactory {
	f := &StateStoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisStore creates a Redis-based state store
func (f *StateStoreFactory) CreateRedisStore() (*RedisAuthStateStore, error) {
	if f.client != nil {
		return NewRedisAuthStateStoreWithClient(f.client, ""), nil
	}

	store, err := NewRedisAuthStateStore(f.redisConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis state store: %w", err)
	}
	return store, nil
}

// CreateInMemoryStore creates an in-memory state store.
// WARNING: in-memory stores do not share state across instances, so an OAuth callback
// routed to a different instance than the one that started the flow will fail.
func (f *StateStoreFactory) CreateInMemoryStore() *InMemoryAuthStateStore {
	return NewInMemoryAuthStateStore()
}

// CreateStore tries Redis first and falls back to in-memory when allowed
func (f *StateStoreFactory) CreateStore() (integration.AuthStateStore, error) {
	store, err := f.CreateRedisStore()
	if err == nil {
		f.logger.Info("Using Redis OAuth state store")
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for OAuth state but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory OAuth state store. "+
		"Callbacks must reach the instance that started the authorization.",
		zap.Error(err),
	)
	return f.CreateInMemoryStore(), nil
}
