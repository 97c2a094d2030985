package integration

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/crypto"
	"github.com/marketsync/backend/internal/infrastructure/persistence"
	"github.com/marketsync/backend/internal/infrastructure/persistence/models"
)

// MockAdapter is a mock implementation of MarketplaceAdapter.
// Marketplace and Capabilities are fixed fields; everything else goes through testify.
type MockAdapter struct {
	mock.Mock
	marketplace integration.Marketplace
	caps        integration.AdapterCapabilities
}

func newMockAdapter(m integration.Marketplace, caps integration.AdapterCapabilities) *MockAdapter {
	return &MockAdapter{marketplace: m, caps: caps}
}

func (a *MockAdapter) Marketplace() integration.Marketplace { return a.marketplace }

func (a *MockAdapter) Capabilities() integration.AdapterCapabilities { return a.caps }

func (a *MockAdapter) AuthorizeURL(state string, pkce *integration.PKCEChallenge, storeHint string) (string, error) {
	args := a.Called(state, pkce, storeHint)
	return args.String(0), args.Error(1)
}

func (a *MockAdapter) ExchangeCode(ctx context.Context, req integration.CodeExchange) (*integration.TokenSet, error) {
	args := a.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.TokenSet), args.Error(1)
}

func (a *MockAdapter) RefreshToken(ctx context.Context, refreshToken string) (*integration.TokenSet, error) {
	args := a.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.TokenSet), args.Error(1)
}

func (a *MockAdapter) IdentifySource(headers http.Header, rawBody []byte) (string, error) {
	args := a.Called(headers, rawBody)
	return args.String(0), args.Error(1)
}

func (a *MockAdapter) VerifyWebhookSignature(rawBody []byte, headers http.Header, secret string) bool {
	args := a.Called(rawBody, headers, secret)
	return args.Bool(0)
}

func (a *MockAdapter) ParseWebhook(headers http.Header, rawBody []byte) (*integration.WebhookEvent, error) {
	args := a.Called(headers, rawBody)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.WebhookEvent), args.Error(1)
}

func (a *MockAdapter) FetchOrder(ctx context.Context, creds integration.Credentials, orderID string) (*integration.RawOrder, error) {
	args := a.Called(ctx, creds, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.RawOrder), args.Error(1)
}

func (a *MockAdapter) FetchProduct(ctx context.Context, creds integration.Credentials, productID string) (*integration.RawProduct, error) {
	args := a.Called(ctx, creds, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.RawProduct), args.Error(1)
}

func (a *MockAdapter) ListOrders(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawOrder, error) {
	args := a.Called(ctx, creds, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.RawOrder), args.Error(1)
}

func (a *MockAdapter) ListProducts(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawProduct, error) {
	args := a.Called(ctx, creds, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.RawProduct), args.Error(1)
}

func (a *MockAdapter) RegisterWebhooks(ctx context.Context, creds integration.Credentials, callbackURL, secret string) (*integration.WebhookRegistration, error) {
	args := a.Called(ctx, creds, callbackURL, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.WebhookRegistration), args.Error(1)
}

func (a *MockAdapter) DeregisterWebhooks(ctx context.Context, creds integration.Credentials, callbackURL string) error {
	args := a.Called(ctx, creds, callbackURL)
	return args.Error(0)
}

var _ integration.MarketplaceAdapter = (*MockAdapter)(nil)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type testCallbackURLs struct{}

func (testCallbackURLs) WebhookURL(m string) string {
	return "https://sync.example.com/webhooks/" + strings.ToLower(m)
}

func (testCallbackURLs) OAuthRedirectURL(m string) string {
	return "https://sync.example.com/oauth/" + strings.ToLower(m) + "/callback"
}

type testEnv struct {
	db       *gorm.DB
	conns    *persistence.GormConnectionRepository
	ledger   *persistence.GormDedupLedger
	logs     *persistence.GormSyncLogRepository
	orders   *persistence.GormUnifiedOrderRepository
	products *persistence.GormUnifiedProductRepository
	cipher   *crypto.TokenCipher
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))

	cipher, err := crypto.NewTokenCipher("test-master-secret-0123456789abcdef", true)
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		conns:    persistence.NewGormConnectionRepository(db),
		ledger:   persistence.NewGormDedupLedger(db),
		logs:     persistence.NewGormSyncLogRepository(db),
		orders:   persistence.NewGormUnifiedOrderRepository(db),
		products: persistence.NewGormUnifiedProductRepository(db),
		cipher:   cipher,
	}
}

type connectionSeed struct {
	userID        uuid.UUID
	marketplace   integration.Marketplace
	storeID       string
	accessToken   string
	refreshToken  string
	expiresAt     *time.Time
	webhookSecret string
	lastSyncAt    *time.Time
}

func (e *testEnv) seedConnection(t *testing.T, s connectionSeed) *integration.Connection {
	t.Helper()
	if s.userID == uuid.Nil {
		s.userID = uuid.New()
	}
	if s.accessToken == "" {
		s.accessToken = "access-1"
	}

	accessEnc, err := e.cipher.Encrypt(s.marketplace, s.accessToken)
	require.NoError(t, err)
	conn, err := integration.NewConnection(s.userID, s.marketplace, accessEnc, s.storeID)
	require.NoError(t, err)

	if s.refreshToken != "" {
		refreshEnc, err := e.cipher.Encrypt(s.marketplace, s.refreshToken)
		require.NoError(t, err)
		conn.RefreshTokenEnc = &refreshEnc
	}
	conn.TokenExpiresAt = s.expiresAt
	conn.LastSyncAt = s.lastSyncAt
	require.NoError(t, e.conns.Save(context.Background(), conn))

	if s.webhookSecret != "" {
		secretEnc, err := e.cipher.Encrypt(s.marketplace, s.webhookSecret)
		require.NoError(t, err)
		require.NoError(t, e.conns.SaveWebhookSecret(context.Background(), conn.ID, &secretEnc, time.Now()))
	}

	reloaded, err := e.conns.FindByID(context.Background(), conn.ID)
	require.NoError(t, err)
	return reloaded
}

func (e *testEnv) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Count(&n).Error)
	return n
}

func timePtr(t time.Time) *time.Time {
	return &t
}
