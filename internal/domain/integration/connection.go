package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus is the lifecycle state of a marketplace connection
type ConnectionStatus string

const (
	// ConnectionStatusConnected means credentials are present and usable
	ConnectionStatusConnected ConnectionStatus = "CONNECTED"
	// ConnectionStatusDisconnected means credentials were removed
	ConnectionStatusDisconnected ConnectionStatus = "DISCONNECTED"
)

// IsValid returns true if the status is valid
func (s ConnectionStatus) IsValid() bool {
	return s == ConnectionStatusConnected || s == ConnectionStatusDisconnected
}

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	return string(s)
}

// Connection is a user's authorized link to one marketplace store.
// Token fields hold ciphertext produced by the credential store; they are never plaintext.
type Connection struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Marketplace          Marketplace
	Status               ConnectionStatus
	AccessTokenEnc       *string
	RefreshTokenEnc      *string
	TokenExpiresAt       *time.Time
	ExternalStoreID      string
	ExternalDisplayName  string
	WebhookSecretEnc     *string
	ConnectedAt          time.Time
	LastSyncAt           *time.Time
	WebhooksRegisteredAt *time.Time
	LastRefreshedAt      *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewConnection creates a connected record from freshly obtained, already encrypted credentials.
// LastSyncAt starts nil so the first sweep performs a full pull.
func NewConnection(userID uuid.UUID, m Marketplace, accessTokenEnc, externalStoreID string) (*Connection, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidUserID
	}
	if !m.IsValid() {
		return nil, ErrInvalidMarketplace
	}
	if accessTokenEnc == "" {
		return nil, ErrInvalidAccessToken
	}
	if externalStoreID == "" {
		return nil, ErrInvalidExternalStoreID
	}

	now := time.Now()
	return &Connection{
		ID:              uuid.New(),
		UserID:          userID,
		Marketplace:     m,
		Status:          ConnectionStatusConnected,
		AccessTokenEnc:  &accessTokenEnc,
		ExternalStoreID: externalStoreID,
		ConnectedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsConnected returns true when the connection can be used for sync
func (c *Connection) IsConnected() bool {
	return c.Status == ConnectionStatusConnected && c.AccessTokenEnc != nil
}

// NeedsRefresh reports whether the access token expires within buffer.
// Tokens without an expiry never need refreshing.
func (c *Connection) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	if c.TokenExpiresAt == nil {
		return false
	}
	return c.TokenExpiresAt.Sub(now) < buffer
}

// ApplyTokens stores a new encrypted token set. An empty refresh token keeps the current one,
// which covers providers that do not rotate refresh tokens.
func (c *Connection) ApplyTokens(accessTokenEnc string, refreshTokenEnc *string, expiresAt *time.Time) {
	c.AccessTokenEnc = &accessTokenEnc
	if refreshTokenEnc != nil && *refreshTokenEnc != "" {
		c.RefreshTokenEnc = refreshTokenEnc
	}
	c.TokenExpiresAt = expiresAt
	now := time.Now()
	c.LastRefreshedAt = &now
	c.UpdatedAt = now
}

// Reconnect overwrites an existing record after a successful OAuth callback or credential check
func (c *Connection) Reconnect(accessTokenEnc string, refreshTokenEnc *string, expiresAt *time.Time, externalStoreID, displayName string) {
	now := time.Now()
	c.Status = ConnectionStatusConnected
	c.AccessTokenEnc = &accessTokenEnc
	c.RefreshTokenEnc = refreshTokenEnc
	c.TokenExpiresAt = expiresAt
	c.ExternalStoreID = externalStoreID
	c.ExternalDisplayName = displayName
	c.ConnectedAt = now
	c.LastSyncAt = nil
	c.UpdatedAt = now
}

// Disconnect nulls every credential and flips the status in memory.
// Persisting it must happen in one transaction before any deregistration call.
func (c *Connection) Disconnect() {
	c.Status = ConnectionStatusDisconnected
	c.AccessTokenEnc = nil
	c.RefreshTokenEnc = nil
	c.TokenExpiresAt = nil
	c.WebhookSecretEnc = nil
	c.WebhooksRegisteredAt = nil
	c.UpdatedAt = time.Now()
}

// ForceResync clears the sync cursor so the next sweep does a full pull
func (c *Connection) ForceResync() {
	c.LastSyncAt = nil
	c.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// Repository port
// ---------------------------------------------------------------------------

// ConnectionFilter narrows ListConnected results
type ConnectionFilter struct {
	Marketplaces []Marketplace
}

// ConnectionRepository persists connections
type ConnectionRepository interface {
	// FindByID finds a connection by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Connection, error)

	// FindByUserAndMarketplace finds the single connection a user has for a marketplace
	FindByUserAndMarketplace(ctx context.Context, userID uuid.UUID, m Marketplace) (*Connection, error)

	// FindByExternalStore finds a connection by the provider-side store identifier.
	// A connected record wins over disconnected ones for the same store.
	FindByExternalStore(ctx context.Context, m Marketplace, externalStoreID string) (*Connection, error)

	// FindByUser lists all connections for a user
	FindByUser(ctx context.Context, userID uuid.UUID) ([]Connection, error)

	// ListConnected lists every connected record, used by the reconciliation sweep
	ListConnected(ctx context.Context, filter ConnectionFilter) ([]Connection, error)

	// Save creates or overwrites the connection for (user, marketplace)
	Save(ctx context.Context, conn *Connection) error

	// UpdateTokens persists a refreshed token set
	UpdateTokens(ctx context.Context, id uuid.UUID, accessTokenEnc string, refreshTokenEnc *string, expiresAt *time.Time) error

	// SaveWebhookSecret stores the encrypted per-connection webhook secret and registration time
	SaveWebhookSecret(ctx context.Context, id uuid.UUID, secretEnc *string, registeredAt time.Time) error

	// Disconnect nulls credentials and sets DISCONNECTED in a single transaction
	Disconnect(ctx context.Context, id uuid.UUID) error

	// ResetLastSync sets last_sync_at to NULL, forcing a full resync
	ResetLastSync(ctx context.Context, id uuid.UUID) error

	// AdvanceLastSync moves last_sync_at to at only if it still equals expected.
	// Returns false when the cursor changed in the meantime.
	AdvanceLastSync(ctx context.Context, id uuid.UUID, expected *time.Time, at time.Time) (bool, error)
}
