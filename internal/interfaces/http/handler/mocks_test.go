package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appintegration "github.com/marketsync/backend/internal/application/integration"
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockConnectionManager is a mock implementation of ConnectionManager
type MockConnectionManager struct {
	mock.Mock
}

func (m *MockConnectionManager) List(ctx context.Context, userID uuid.UUID) ([]integration.Connection, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.Connection), args.Error(1)
}

func (m *MockConnectionManager) Get(ctx context.Context, userID uuid.UUID, mp integration.Marketplace) (*integration.Connection, error) {
	args := m.Called(ctx, userID, mp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Connection), args.Error(1)
}

func (m *MockConnectionManager) BeginAuthorization(ctx context.Context, userID uuid.UUID, mp integration.Marketplace, storeHint string) (*appintegration.AuthorizationStart, error) {
	args := m.Called(ctx, userID, mp, storeHint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appintegration.AuthorizationStart), args.Error(1)
}

func (m *MockConnectionManager) CompleteAuthorization(ctx context.Context, mp integration.Marketplace, cb appintegration.AuthorizationCallback) (*integration.Connection, error) {
	args := m.Called(ctx, mp, cb)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Connection), args.Error(1)
}

func (m *MockConnectionManager) ConnectWithCredentials(ctx context.Context, userID uuid.UUID, mp integration.Marketplace, storeURL, key, secret string) (*integration.Connection, error) {
	args := m.Called(ctx, userID, mp, storeURL, key, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Connection), args.Error(1)
}

func (m *MockConnectionManager) Disconnect(ctx context.Context, userID uuid.UUID, mp integration.Marketplace) error {
	return m.Called(ctx, userID, mp).Error(0)
}

func (m *MockConnectionManager) RequestResync(ctx context.Context, userID uuid.UUID, mp integration.Marketplace) error {
	return m.Called(ctx, userID, mp).Error(0)
}

func (m *MockConnectionManager) RecentSyncLogs(ctx context.Context, userID uuid.UUID, mp integration.Marketplace, limit int) ([]integration.SyncLog, error) {
	args := m.Called(ctx, userID, mp, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.SyncLog), args.Error(1)
}

// MockWebhookIngester is a mock implementation of WebhookIngester
type MockWebhookIngester struct {
	mock.Mock
}

func (m *MockWebhookIngester) Ingest(ctx context.Context, d appintegration.WebhookDelivery) (*appintegration.WebhookResult, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(*appintegration.WebhookResult), args.Error(1)
}

// withUser simulates the JWT middleware for the given user
func withUser(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.JWTUserIDKey, userID.String())
		c.Next()
	}
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
