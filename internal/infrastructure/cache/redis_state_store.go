package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

const defaultStateKeyPrefix = "oauth:state:"

// RedisAuthStateStore implements AuthStateStore using Redis.
// Any instance can complete a callback started on another one.
type RedisAuthStateStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisAuthStateStore creates a new Redis-based state store
func NewRedisAuthStateStore(cfg config.RedisConfig) (*RedisAuthStateStore, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisAuthStateStoreWithClient(client, ""), nil
}

// NewRedisAuthStateStoreWithClient creates a store with an existing Redis client.
// Useful when sharing a client with the rate limiter.
func NewRedisAuthStateStoreWithClient(client *redis.Client, keyPrefix string) *RedisAuthStateStore {
	if keyPrefix == "" {
		keyPrefix = defaultStateKeyPrefix
	}
	return &RedisAuthStateStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Save stores the pending authorization with a TTL.
// SETNX keeps a colliding state from overwriting an in-flight authorization.
func (s *RedisAuthStateStore) Save(ctx context.Context, state string, st integration.AuthState, ttl time.Duration) error {
	if state == "" {
		return integration.ErrAuthStateInvalid
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode auth state: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.keyPrefix+state, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save auth state: %w", err)
	}
	if !ok {
		return integration.ErrAuthStateInvalid
	}
	return nil
}

// Consume atomically reads and deletes the pending authorization (GETDEL)
func (s *RedisAuthStateStore) Consume(ctx context.Context, state string) (*integration.AuthState, error) {
	if state == "" {
		return nil, integration.ErrAuthStateInvalid
	}

	payload, err := s.client.GetDel(ctx, s.keyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, integration.ErrAuthStateInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume auth state: %w", err)
	}

	var st integration.AuthState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, integration.ErrAuthStateInvalid
	}
	return &st, nil
}

// Close closes the Redis client
func (s *RedisAuthStateStore) Close() error {
	return s.client.Close()
}

// GetClient returns the underlying Redis client (for sharing/monitoring)
func (s *RedisAuthStateStore) GetClient() *redis.Client {
	return s.client
}

// Ensure RedisAuthStateStore implements AuthStateStore
var _ integration.AuthStateStore = (*RedisAuthStateStore)(nil)
