package ecommerce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsync/backend/internal/domain/integration"
)

func TestStoreCurrencyCache_FetchesOncePerStore(t *testing.T) {
	cache := newStoreCurrencyCache()
	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		return "EUR", nil
	}

	for i := 0; i < 3; i++ {
		code, err := cache.get(context.Background(), integration.MarketplaceShopify, "a.myshopify.com", fetch)
		require.NoError(t, err)
		assert.Equal(t, "EUR", code)
	}
	assert.Equal(t, int32(1), calls.Load())

	// A different store, or the same id on another marketplace, is a separate entry
	_, err := cache.get(context.Background(), integration.MarketplaceShopify, "b.myshopify.com", fetch)
	require.NoError(t, err)
	_, err = cache.get(context.Background(), integration.MarketplaceBigCommerce, "a.myshopify.com", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStoreCurrencyCache_Expires(t *testing.T) {
	cache := newStoreCurrencyCache()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	var calls int
	fetch := func(context.Context) (string, error) {
		calls++
		return "GBP", nil
	}

	_, err := cache.get(context.Background(), integration.MarketplaceWooCommerce, "https://shop.example.com", fetch)
	require.NoError(t, err)
	now = now.Add(storeCurrencyTTL - time.Second)
	_, err = cache.get(context.Background(), integration.MarketplaceWooCommerce, "https://shop.example.com", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Second)
	_, err = cache.get(context.Background(), integration.MarketplaceWooCommerce, "https://shop.example.com", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestStoreCurrencyCache_ErrorsAreNotCached(t *testing.T) {
	cache := newStoreCurrencyCache()
	boom := errors.New("boom")

	_, err := cache.get(context.Background(), integration.MarketplaceBigCommerce, "abc123", func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	code, err := cache.get(context.Background(), integration.MarketplaceBigCommerce, "abc123", func(context.Context) (string, error) {
		return "CAD", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "CAD", code)
}

func TestStoreCurrencyCache_PutPrimes(t *testing.T) {
	cache := newStoreCurrencyCache()
	cache.put(integration.MarketplaceShopify, "demo.myshopify.com", "JPY")
	cache.put(integration.MarketplaceShopify, "empty.myshopify.com", "")

	code, err := cache.get(context.Background(), integration.MarketplaceShopify, "demo.myshopify.com", func(context.Context) (string, error) {
		t.Fatal("primed entry should not be fetched")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "JPY", code)

	code, err = cache.get(context.Background(), integration.MarketplaceShopify, "empty.myshopify.com", func(context.Context) (string, error) {
		return "USD", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", code)
}

func TestStoreCurrencyCache_ConcurrentLookupsShareOneFetch(t *testing.T) {
	cache := newStoreCurrencyCache()
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "AUD", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := cache.get(context.Background(), integration.MarketplaceShopify, "au.myshopify.com", fetch)
			assert.NoError(t, err)
			results[i] = code
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, code := range results {
		assert.Equal(t, "AUD", code)
	}
}
