package integration

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

const defaultStateTTL = 10 * time.Minute

// AuthorizationStart is returned to the client that begins an OAuth flow
type AuthorizationStart struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

// AuthorizationCallback carries the provider redirect parameters
type AuthorizationCallback struct {
	State string
	Code  string
	// Error is the provider's error parameter when the user declined consent
	Error  string
	Params map[string]string
}

// ConnectionServiceConfig holds the collaborators that are not repositories
type ConnectionServiceConfig struct {
	Callbacks CallbackURLs
	StateTTL  time.Duration
	NewPKCE   func() *integration.PKCEChallenge
	Logger    *zap.Logger
}

// ConnectionService manages the connection lifecycle:
// authorization, credential connect, webhook registration, disconnect and resync requests.
type ConnectionService struct {
	conns     integration.ConnectionRepository
	syncLogs  integration.SyncLogRepository
	registry  *integration.AdapterRegistry
	creds     *CredentialStore
	states    integration.AuthStateStore
	callbacks CallbackURLs
	stateTTL  time.Duration
	newPKCE   func() *integration.PKCEChallenge
	logger    *zap.Logger
	now       func() time.Time
}

// NewConnectionService creates a new ConnectionService
func NewConnectionService(
	conns integration.ConnectionRepository,
	syncLogs integration.SyncLogRepository,
	registry *integration.AdapterRegistry,
	creds *CredentialStore,
	states integration.AuthStateStore,
	cfg ConnectionServiceConfig,
) *ConnectionService {
	s := &ConnectionService{
		conns:     conns,
		syncLogs:  syncLogs,
		registry:  registry,
		creds:     creds,
		states:    states,
		callbacks: cfg.Callbacks,
		stateTTL:  cfg.StateTTL,
		newPKCE:   cfg.NewPKCE,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	if s.stateTTL <= 0 {
		s.stateTTL = defaultStateTTL
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

// BeginAuthorization creates a single-use state (plus PKCE verifier when the provider uses it)
// and returns the provider consent URL.
func (s *ConnectionService) BeginAuthorization(ctx context.Context, userID uuid.UUID, m integration.Marketplace, storeHint string) (*AuthorizationStart, error) {
	if userID == uuid.Nil {
		return nil, integration.ErrInvalidUserID
	}
	adapter, err := s.registry.Get(m)
	if err != nil {
		return nil, err
	}
	if adapter.Capabilities().CredentialConnect {
		return nil, fmt.Errorf("%w: %s connects with API credentials", integration.ErrOperationNotSupported, m)
	}

	state, err := randomToken(32)
	if err != nil {
		return nil, err
	}

	var pkce *integration.PKCEChallenge
	if adapter.Capabilities().UsesPKCE {
		if s.newPKCE == nil {
			return nil, fmt.Errorf("%w: PKCE generator not configured", integration.ErrMarketplaceNotConfigured)
		}
		pkce = s.newPKCE()
	}

	authURL, err := adapter.AuthorizeURL(state, pkce, storeHint)
	if err != nil {
		return nil, err
	}

	now := s.now()
	st := integration.AuthState{
		UserID:      userID,
		Marketplace: m,
		StoreHint:   storeHint,
		RedirectURL: s.callbacks.OAuthRedirectURL(string(m)),
		CreatedAt:   now,
	}
	if pkce != nil {
		st.CodeVerifier = pkce.Verifier
	}
	if err := s.states.Save(ctx, state, st, s.stateTTL); err != nil {
		return nil, err
	}

	return &AuthorizationStart{URL: authURL, State: state, ExpiresAt: now.Add(s.stateTTL)}, nil
}

// CompleteAuthorization consumes the state, exchanges the code and persists the connection.
// A state is accepted at most once, whatever the outcome.
func (s *ConnectionService) CompleteAuthorization(ctx context.Context, m integration.Marketplace, cb AuthorizationCallback) (*integration.Connection, error) {
	st, err := s.states.Consume(ctx, cb.State)
	if err != nil {
		return nil, err
	}
	if st.Marketplace != m {
		return nil, integration.ErrAuthStateInvalid
	}
	if cb.Error != "" {
		return nil, fmt.Errorf("%w: provider returned %q", integration.ErrPlatformAuthFailed, cb.Error)
	}
	if cb.Code == "" {
		return nil, integration.ErrAuthStateInvalid
	}

	adapter, err := s.registry.Get(m)
	if err != nil {
		return nil, err
	}

	tokens, err := adapter.ExchangeCode(ctx, integration.CodeExchange{
		Code:         cb.Code,
		CodeVerifier: st.CodeVerifier,
		RedirectURL:  st.RedirectURL,
		StoreHint:    st.StoreHint,
		Params:       cb.Params,
	})
	if err != nil {
		return nil, err
	}

	return s.persistConnection(ctx, st.UserID, adapter, tokens)
}

// ConnectWithCredentials connects providers that use pasted API keys instead of OAuth.
// The keys are verified against the store before anything is persisted.
func (s *ConnectionService) ConnectWithCredentials(ctx context.Context, userID uuid.UUID, m integration.Marketplace, storeURL, key, secret string) (*integration.Connection, error) {
	if userID == uuid.Nil {
		return nil, integration.ErrInvalidUserID
	}
	adapter, err := s.registry.Get(m)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().CredentialConnect {
		return nil, fmt.Errorf("%w: %s connects with OAuth", integration.ErrOperationNotSupported, m)
	}

	tokens, err := adapter.ExchangeCode(ctx, integration.CodeExchange{
		Code:      key + ":" + secret,
		StoreHint: storeURL,
	})
	if err != nil {
		return nil, err
	}

	return s.persistConnection(ctx, userID, adapter, tokens)
}

func (s *ConnectionService) persistConnection(ctx context.Context, userID uuid.UUID, adapter integration.MarketplaceAdapter, tokens *integration.TokenSet) (*integration.Connection, error) {
	m := adapter.Marketplace()

	accessEnc, err := s.creds.Encrypt(tokens.AccessToken, m)
	if err != nil {
		return nil, err
	}
	refreshEnc, err := s.creds.encryptOptional(tokens.RefreshToken, m)
	if err != nil {
		return nil, err
	}

	conn, err := s.conns.FindByUserAndMarketplace(ctx, userID, m)
	switch {
	case errors.Is(err, integration.ErrConnectionNotFound):
		conn, err = integration.NewConnection(userID, m, accessEnc, tokens.ExternalStoreID)
		if err != nil {
			return nil, err
		}
		conn.RefreshTokenEnc = refreshEnc
		conn.TokenExpiresAt = tokens.ExpiresAt
		conn.ExternalDisplayName = tokens.ExternalDisplayName
	case err != nil:
		return nil, err
	default:
		if conn.ExternalStoreID != tokens.ExternalStoreID {
			// A different store invalidates the old per-connection secret
			conn.WebhookSecretEnc = nil
			conn.WebhooksRegisteredAt = nil
		}
		conn.Reconnect(accessEnc, refreshEnc, tokens.ExpiresAt, tokens.ExternalStoreID, tokens.ExternalDisplayName)
	}

	if err := s.conns.Save(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("Marketplace connected",
		zap.String("marketplace", m.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("external_store_id", conn.ExternalStoreID),
	)

	if adapter.Capabilities().HasWebhooks {
		creds := integration.Credentials{
			ConnectionID:    conn.ID.String(),
			Marketplace:     m,
			AccessToken:     tokens.AccessToken,
			ExternalStoreID: conn.ExternalStoreID,
			ExpiresAt:       tokens.ExpiresAt,
		}
		s.registerWebhooks(ctx, conn, adapter, creds)
	}

	return conn, nil
}

// registerWebhooks subscribes the connection's store to our callback.
// Failures are logged only: the reconciliation sweep covers a connection without webhooks.
func (s *ConnectionService) registerWebhooks(ctx context.Context, conn *integration.Connection, adapter integration.MarketplaceAdapter, creds integration.Credentials) {
	m := adapter.Marketplace()
	callbackURL := s.callbacks.WebhookURL(string(m))
	log := s.logger.With(
		zap.String("marketplace", m.String()),
		zap.String("connection_id", conn.ID.String()),
	)

	var secret string
	if adapter.Capabilities().SecretScope == integration.SecretScopeConnection {
		secret = s.existingSecret(conn)
		if secret == "" {
			generated, err := randomHex(32)
			if err != nil {
				log.Error("Failed to generate webhook secret", zap.Error(err))
				return
			}
			secret = generated
			// Subscriptions left over from an earlier install still carry a secret we no longer know
			if err := adapter.DeregisterWebhooks(ctx, creds, callbackURL); err != nil {
				log.Warn("Failed to clear stale webhook subscriptions", zap.Error(err))
			}
		}
	}

	reg, regErr := adapter.RegisterWebhooks(ctx, creds, callbackURL, secret)
	if reg != nil && reg.SigningSecret != "" {
		secret = reg.SigningSecret
	}

	var secretEnc *string
	if secret != "" {
		enc, err := s.creds.Encrypt(secret, m)
		if err != nil {
			log.Error("Failed to encrypt webhook secret", zap.Error(err))
			return
		}
		secretEnc = &enc
	}

	if regErr != nil && (reg == nil || len(reg.Created) == 0) && secretEnc == nil {
		log.Warn("Webhook registration failed, relying on reconciliation", zap.Error(regErr))
		return
	}
	if err := s.conns.SaveWebhookSecret(ctx, conn.ID, secretEnc, s.now()); err != nil {
		log.Error("Failed to store webhook secret", zap.Error(err))
		return
	}
	conn.WebhookSecretEnc = secretEnc
	registeredAt := s.now()
	conn.WebhooksRegisteredAt = &registeredAt

	if regErr != nil {
		log.Warn("Webhook registration incomplete, relying on reconciliation", zap.Error(regErr))
		return
	}
	log.Info("Webhooks registered",
		zap.Strings("created", reg.Created),
		zap.Strings("skipped", reg.Skipped),
	)
}

func (s *ConnectionService) existingSecret(conn *integration.Connection) string {
	if conn.WebhookSecretEnc == nil {
		return ""
	}
	secret, err := s.creds.Decrypt(*conn.WebhookSecretEnc, conn.Marketplace)
	if err != nil {
		s.logger.Warn("Stored webhook secret unreadable, issuing a new one",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
		return ""
	}
	return secret
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Disconnect nulls the credentials in one transaction, then deregisters webhooks.
// Deregistration runs on an already disconnected record; its failure never restores the connection.
func (s *ConnectionService) Disconnect(ctx context.Context, userID uuid.UUID, m integration.Marketplace) error {
	conn, err := s.conns.FindByUserAndMarketplace(ctx, userID, m)
	if err != nil {
		return err
	}
	if conn.Status == integration.ConnectionStatusDisconnected {
		return nil
	}

	// Keep the plaintext token in memory only, for the deregistration call below
	var creds *integration.Credentials
	if conn.IsConnected() {
		c, err := s.creds.credentials(conn)
		if err != nil {
			s.logger.Warn("Cannot decrypt token for webhook deregistration",
				zap.String("connection_id", conn.ID.String()),
				zap.Error(err),
			)
		} else {
			creds = c
		}
	}

	if err := s.conns.Disconnect(ctx, conn.ID); err != nil {
		return err
	}
	s.logger.Info("Marketplace disconnected",
		zap.String("marketplace", m.String()),
		zap.String("connection_id", conn.ID.String()),
	)

	adapter, err := s.registry.Get(m)
	if err != nil || creds == nil || !adapter.Capabilities().HasWebhooks {
		return nil
	}
	if err := adapter.DeregisterWebhooks(ctx, *creds, s.callbacks.WebhookURL(string(m))); err != nil {
		s.logger.Warn("Webhook deregistration failed after disconnect",
			zap.String("marketplace", m.String()),
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// RequestResync clears the sync cursor so the next sweep performs a full pull ahead of the shard rotation
func (s *ConnectionService) RequestResync(ctx context.Context, userID uuid.UUID, m integration.Marketplace) error {
	conn, err := s.conns.FindByUserAndMarketplace(ctx, userID, m)
	if err != nil {
		return err
	}
	if !conn.IsConnected() {
		return integration.ErrConnectionDisconnected
	}
	return s.conns.ResetLastSync(ctx, conn.ID)
}

// List returns every connection of a user
func (s *ConnectionService) List(ctx context.Context, userID uuid.UUID) ([]integration.Connection, error) {
	return s.conns.FindByUser(ctx, userID)
}

// Get returns the user's connection for one marketplace
func (s *ConnectionService) Get(ctx context.Context, userID uuid.UUID, m integration.Marketplace) (*integration.Connection, error) {
	return s.conns.FindByUserAndMarketplace(ctx, userID, m)
}

// RecentSyncLogs returns the latest sync attempts of the user's connection
func (s *ConnectionService) RecentSyncLogs(ctx context.Context, userID uuid.UUID, m integration.Marketplace, limit int) ([]integration.SyncLog, error) {
	conn, err := s.conns.FindByUserAndMarketplace(ctx, userID, m)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.syncLogs.FindByConnection(ctx, conn.ID, limit)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
