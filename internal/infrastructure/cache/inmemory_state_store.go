package cache

import (
	"context"
	"sync"
	"time"

	"github.com/marketsync/backend/internal/domain/integration"
)

// stateEntry is a pending authorization with expiration
type stateEntry struct {
	state     integration.AuthState
	expiresAt time.Time
}

// InMemoryAuthStateStore implements AuthStateStore using an in-memory map.
// Suitable for single-instance deployments and testing: a callback that lands on
// another instance will not find its state.
type InMemoryAuthStateStore struct {
	mu        sync.Mutex
	entries   map[string]stateEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// NewInMemoryAuthStateStore creates a new in-memory state store.
// It starts a background goroutine to clean up expired entries.
func NewInMemoryAuthStateStore() *InMemoryAuthStateStore {
	store := &InMemoryAuthStateStore{
		entries:  make(map[string]stateEntry),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	store.wg.Add(1)
	go store.cleanupLoop()

	return store
}

// Save stores the pending authorization with a TTL
func (s *InMemoryAuthStateStore) Save(ctx context.Context, state string, st integration.AuthState, ttl time.Duration) error {
	if state == "" {
		return integration.ErrAuthStateInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[state] = stateEntry{
		state:     st,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Consume returns the pending authorization and deletes it
func (s *InMemoryAuthStateStore) Consume(ctx context.Context, state string) (*integration.AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[state]
	if !exists {
		return nil, integration.ErrAuthStateInvalid
	}
	delete(s.entries, state)

	if s.now().After(e.expiresAt) {
		return nil, integration.ErrAuthStateInvalid
	}

	st := e.state
	return &st, nil
}

// Close stops the cleanup goroutine and releases resources.
// Safe to call multiple times.
func (s *InMemoryAuthStateStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// cleanupLoop periodically removes expired entries
func (s *InMemoryAuthStateStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired entries from the store
func (s *InMemoryAuthStateStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for state, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, state)
		}
	}
}

// Size returns the number of entries in the store (for testing/monitoring)
func (s *InMemoryAuthStateStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Ensure InMemoryAuthStateStore implements AuthStateStore
var _ integration.AuthStateStore = (*InMemoryAuthStateStore)(nil)
