package ecommerce

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marketsync/backend/internal/domain/integration"
)

// storeCurrencyTTL bounds how long a store's default currency is trusted
const storeCurrencyTTL = 6 * time.Hour

type cachedCurrency struct {
	code      string
	expiresAt time.Time
}

// storeCurrencyCache remembers each store's default currency so a product webhook
// costs a single provider call after the first lookup.
type storeCurrencyCache struct {
	mu      sync.Mutex
	entries map[string]cachedCurrency
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
}

func newStoreCurrencyCache() *storeCurrencyCache {
	return &storeCurrencyCache{
		entries: make(map[string]cachedCurrency),
		ttl:     storeCurrencyTTL,
		now:     time.Now,
	}
}

func currencyKey(m integration.Marketplace, storeID string) string {
	return string(m) + ":" + storeID
}

// get returns the cached currency or runs fetch once for all concurrent callers
func (c *storeCurrencyCache) get(ctx context.Context, m integration.Marketplace, storeID string, fetch func(context.Context) (string, error)) (string, error) {
	key := currencyKey(m, storeID)

	if code, ok := c.lookup(key); ok {
		return code, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A caller that missed the cache just before the previous flight finished
		if code, ok := c.lookup(key); ok {
			return code, nil
		}
		code, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.put(m, storeID, code)
		return code, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *storeCurrencyCache) lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.code, true
}

// put primes the cache, typically from a lookup made while connecting the store
func (c *storeCurrencyCache) put(m integration.Marketplace, storeID, code string) {
	if code == "" {
		return
	}
	c.mu.Lock()
	c.entries[currencyKey(m, storeID)] = cachedCurrency{code: code, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
