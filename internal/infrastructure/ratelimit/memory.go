// Package ratelimit provides per-key request limiters for webhook sources and API clients.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/marketsync/backend/internal/domain/integration"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a token-bucket limiter keyed by caller.
// State is per process: behind a load balancer each instance enforces its own budget,
// so the effective limit scales with the number of instances.
type MemoryLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryLimiter allows perMinute requests per key with a burst of the same size
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	l := &MemoryLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idleTTL:  2 * time.Minute,
		stopChan: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// Allow consumes one token for key
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow(), nil
}

// Limit returns the configured burst, used for X-RateLimit-Limit
func (l *MemoryLimiter) Limit() int {
	return l.burst
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (l *MemoryLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

func (l *MemoryLimiter) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

// evictIdle drops visitors not seen for idleTTL; a fresh bucket is full again anyway
func (l *MemoryLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.visitors, key)
		}
	}
}

// Size returns the number of tracked keys
func (l *MemoryLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

var _ integration.RateLimiter = (*MemoryLimiter)(nil)
