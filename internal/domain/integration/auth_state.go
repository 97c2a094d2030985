package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuthState binds an OAuth callback to the user who started the authorization.
// The state parameter is the lookup key; the verifier never leaves the server.
type AuthState struct {
	UserID       uuid.UUID   `json:"user_id"`
	Marketplace  Marketplace `json:"marketplace"`
	CodeVerifier string      `json:"code_verifier,omitempty"`
	StoreHint    string      `json:"store_hint,omitempty"`
	RedirectURL  string      `json:"redirect_url"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AuthStateStore keeps pending authorizations for a short TTL.
// Consume is single-use: a state can complete at most one callback.
type AuthStateStore interface {
	// Save stores the pending authorization under state
	Save(ctx context.Context, state string, st AuthState, ttl time.Duration) error

	// Consume returns and removes the pending authorization.
	// Returns ErrAuthStateInvalid when the state is unknown, expired or already used.
	Consume(ctx context.Context, state string) (*AuthState, error)
}

// RateLimiter admits or rejects one request for a key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
