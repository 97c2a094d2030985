package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newAuthState() integration.AuthState {
	return integration.AuthState{
		UserID:       uuid.New(),
		Marketplace:  integration.MarketplaceEtsy,
		CodeVerifier: "verifier-123",
		RedirectURL:  "https://sync.example.com/oauth/etsy/callback",
		CreatedAt:    time.Now().UTC(),
	}
}

func TestInMemoryAuthStateStore_SaveAndConsume(t *testing.T) {
	store := NewInMemoryAuthStateStore()
	defer store.Close()

	ctx := context.Background()

	t.Run("consumes a saved state once", func(t *testing.T) {
		st := newAuthState()
		require.NoError(t, store.Save(ctx, "state-1", st, time.Minute))

		got, err := store.Consume(ctx, "state-1")
		require.NoError(t, err)
		assert.Equal(t, st.UserID, got.UserID)
		assert.Equal(t, "verifier-123", got.CodeVerifier)

		_, err = store.Consume(ctx, "state-1")
		assert.ErrorIs(t, err, integration.ErrAuthStateInvalid, "state is single-use")
	})

	t.Run("unknown state is invalid", func(t *testing.T) {
		_, err := store.Consume(ctx, "never-issued")
		assert.ErrorIs(t, err, integration.ErrAuthStateInvalid)
	})

	t.Run("expired state is invalid", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "state-2", newAuthState(), 10*time.Millisecond))
		time.Sleep(20 * time.Millisecond)

		_, err := store.Consume(ctx, "state-2")
		assert.ErrorIs(t, err, integration.ErrAuthStateInvalid)
	})

	t.Run("empty state is rejected", func(t *testing.T) {
		assert.ErrorIs(t, store.Save(ctx, "", newAuthState(), time.Minute), integration.ErrAuthStateInvalid)
	})
}

func TestInMemoryAuthStateStore_ConcurrentConsume(t *testing.T) {
	store := NewInMemoryAuthStateStore()
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "race", newAuthState(), time.Minute))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, "race"); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestInMemoryAuthStateStore_Cleanup(t *testing.T) {
	store := NewInMemoryAuthStateStore()
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "short", newAuthState(), 10*time.Millisecond))
	require.NoError(t, store.Save(ctx, "long", newAuthState(), time.Hour))
	assert.Equal(t, 2, store.Size())

	time.Sleep(20 * time.Millisecond)
	store.cleanup()

	assert.Equal(t, 1, store.Size())
}

func TestInMemoryAuthStateStore_CloseIsIdempotent(t *testing.T) {
	store := NewInMemoryAuthStateStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestStateStoreFactory_FallsBackWhenRedisUnavailable(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	unreachable := config.RedisConfig{Host: "127.0.0.1", Port: 1}

	t.Run("falls back to in-memory", func(t *testing.T) {
		f := NewStateStoreFactory(unreachable, WithLogger(zap.New(core)))
		store, err := f.CreateStore()
		require.NoError(t, err)

		mem, ok := store.(*InMemoryAuthStateStore)
		require.True(t, ok)
		defer mem.Close()
		assert.Equal(t, 1, logs.FilterMessageSnippet("falling back to in-memory").Len())
	})

	t.Run("fails when fallback disabled", func(t *testing.T) {
		f := NewStateStoreFactory(unreachable, WithInMemoryFallback(false))
		_, err := f.CreateStore()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Redis required")
	})
}
