package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/domain/integration"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshBuffer  = 5 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
)

// CredentialStore owns encrypted credential access and token refresh.
// Refreshes for the same (user, marketplace) are collapsed into one upstream call.
type CredentialStore struct {
	conns          integration.ConnectionRepository
	registry       *integration.AdapterRegistry
	cipher         Cipher
	metrics        Metrics
	logger         *zap.Logger
	refreshBuffer  time.Duration
	refreshTimeout time.Duration
	refreshLocks   singleflight.Group
	now            func() time.Time
}

// CredentialStoreOption configures a CredentialStore
type CredentialStoreOption func(*CredentialStore)

// WithRefreshBuffer sets how long before expiry a token is refreshed
func WithRefreshBuffer(d time.Duration) CredentialStoreOption {
	return func(s *CredentialStore) {
		if d > 0 {
			s.refreshBuffer = d
		}
	}
}

// WithRefreshTimeout bounds one upstream refresh independently of any caller
func WithRefreshTimeout(d time.Duration) CredentialStoreOption {
	return func(s *CredentialStore) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// WithCredentialMetrics records refresh outcomes
func WithCredentialMetrics(m Metrics) CredentialStoreOption {
	return func(s *CredentialStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithCredentialLogger sets the logger
func WithCredentialLogger(logger *zap.Logger) CredentialStoreOption {
	return func(s *CredentialStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCredentialStore creates a credential store
func NewCredentialStore(
	conns integration.ConnectionRepository,
	registry *integration.AdapterRegistry,
	cipher Cipher,
	opts ...CredentialStoreOption,
) *CredentialStore {
	s := &CredentialStore{
		conns:          conns,
		registry:       registry,
		cipher:         cipher,
		metrics:        NopMetrics(),
		logger:         zap.NewNop(),
		refreshBuffer:  defaultRefreshBuffer,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---------------------------------------------------------------------------
// Encryption
// ---------------------------------------------------------------------------

// Encrypt seals a secret for the marketplace scope
func (s *CredentialStore) Encrypt(plaintext string, scope integration.Marketplace) (string, error) {
	enc, err := s.cipher.Encrypt(scope, plaintext)
	if err != nil {
		return "", integration.NewCredentialError("encrypt", false, err)
	}
	return enc, nil
}

// Decrypt opens a secret sealed by Encrypt.
// Corrupted or foreign ciphertext is a permanent credential error for that connection only.
func (s *CredentialStore) Decrypt(ciphertext string, scope integration.Marketplace) (string, error) {
	plain, err := s.cipher.Decrypt(scope, ciphertext)
	if err != nil {
		return "", integration.NewCredentialError("decrypt", false, err)
	}
	return plain, nil
}

func (s *CredentialStore) encryptOptional(plaintext string, scope integration.Marketplace) (*string, error) {
	if plaintext == "" {
		return nil, nil
	}
	enc, err := s.Encrypt(plaintext, scope)
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

// ---------------------------------------------------------------------------
// Token access
// ---------------------------------------------------------------------------

// GetValidToken returns usable credentials for a user's marketplace connection,
// refreshing the access token first when it expires within the refresh buffer.
func (s *CredentialStore) GetValidToken(ctx context.Context, userID uuid.UUID, m integration.Marketplace) (*integration.Credentials, error) {
	conn, err := s.conns.FindByUserAndMarketplace(ctx, userID, m)
	if err != nil {
		if errors.Is(err, integration.ErrConnectionNotFound) {
			return nil, integration.NewCredentialError("load", false, err)
		}
		return nil, integration.NewCredentialError("load", true, err)
	}
	return s.CredentialsFor(ctx, conn)
}

// CredentialsFor is GetValidToken for callers that already loaded the connection
func (s *CredentialStore) CredentialsFor(ctx context.Context, conn *integration.Connection) (*integration.Credentials, error) {
	if !conn.IsConnected() {
		return nil, integration.NewCredentialError("load", false, integration.ErrConnectionDisconnected)
	}
	if conn.NeedsRefresh(s.now(), s.refreshBuffer) {
		return s.refresh(ctx, conn.UserID, conn.Marketplace)
	}
	return s.credentials(conn)
}

func (s *CredentialStore) credentials(conn *integration.Connection) (*integration.Credentials, error) {
	if conn.AccessTokenEnc == nil {
		return nil, integration.NewCredentialError("decrypt", false, integration.ErrConnectionDisconnected)
	}
	token, err := s.Decrypt(*conn.AccessTokenEnc, conn.Marketplace)
	if err != nil {
		return nil, err
	}
	return &integration.Credentials{
		ConnectionID:    conn.ID.String(),
		Marketplace:     conn.Marketplace,
		AccessToken:     token,
		ExternalStoreID: conn.ExternalStoreID,
		ExpiresAt:       conn.TokenExpiresAt,
	}, nil
}

// refresh joins or starts the single in-flight refresh for (user, marketplace).
// The flight runs detached from any one caller; each waiter still honours its own context.
func (s *CredentialStore) refresh(ctx context.Context, userID uuid.UUID, m integration.Marketplace) (*integration.Credentials, error) {
	key := userID.String() + ":" + m.String()

	ch := s.refreshLocks.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return s.doRefresh(flightCtx, userID, m)
	})

	select {
	case <-ctx.Done():
		return nil, integration.NewCredentialError("refresh", true, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		creds := *res.Val.(*integration.Credentials)
		return &creds, nil
	}
}

func (s *CredentialStore) doRefresh(ctx context.Context, userID uuid.UUID, m integration.Marketplace) (*integration.Credentials, error) {
	// Re-read inside the flight: a refresh that finished just before we joined
	// leaves a fresh token behind and no upstream call is needed.
	conn, err := s.conns.FindByUserAndMarketplace(ctx, userID, m)
	if err != nil {
		if errors.Is(err, integration.ErrConnectionNotFound) {
			return nil, integration.NewCredentialError("refresh", false, err)
		}
		return nil, integration.NewCredentialError("refresh", true, err)
	}
	if !conn.IsConnected() {
		return nil, integration.NewCredentialError("refresh", false, integration.ErrConnectionDisconnected)
	}
	if !conn.NeedsRefresh(s.now(), s.refreshBuffer) {
		return s.credentials(conn)
	}
	if conn.RefreshTokenEnc == nil {
		return nil, integration.NewCredentialError("refresh", false, integration.ErrNoRefreshToken)
	}

	adapter, err := s.registry.Get(m)
	if err != nil {
		return nil, integration.NewCredentialError("refresh", false, err)
	}
	refreshToken, err := s.Decrypt(*conn.RefreshTokenEnc, m)
	if err != nil {
		return nil, err
	}

	tokens, err := adapter.RefreshToken(ctx, refreshToken)
	if err != nil {
		s.metrics.TokenRefresh(ctx, m, "failed")
		s.logger.Warn("Token refresh failed",
			zap.String("marketplace", m.String()),
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
		return nil, classifyRefreshError(err)
	}

	accessEnc, err := s.Encrypt(tokens.AccessToken, m)
	if err != nil {
		return nil, err
	}
	refreshEnc, err := s.encryptOptional(tokens.RefreshToken, m)
	if err != nil {
		return nil, err
	}
	if err := s.conns.UpdateTokens(ctx, conn.ID, accessEnc, refreshEnc, tokens.ExpiresAt); err != nil {
		if errors.Is(err, integration.ErrConnectionDisconnected) {
			return nil, integration.NewCredentialError("refresh", false, err)
		}
		// The provider may already have rotated the refresh token; the next attempt will tell.
		return nil, integration.NewCredentialError("refresh", true, fmt.Errorf("persist refreshed tokens: %w", err))
	}

	s.metrics.TokenRefresh(ctx, m, "ok")
	s.logger.Info("Token refreshed",
		zap.String("marketplace", m.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.Bool("refresh_rotated", refreshEnc != nil),
	)

	return &integration.Credentials{
		ConnectionID:    conn.ID.String(),
		Marketplace:     m,
		AccessToken:     tokens.AccessToken,
		ExternalStoreID: conn.ExternalStoreID,
		ExpiresAt:       tokens.ExpiresAt,
	}, nil
}

// classifyRefreshError keeps adapter classification and otherwise splits on ErrorKind
func classifyRefreshError(err error) error {
	var credErr *integration.CredentialError
	if errors.As(err, &credErr) {
		return err
	}
	return integration.NewCredentialError("refresh", integration.KindOf(err) == integration.KindTransient, err)
}
