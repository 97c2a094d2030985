package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/infrastructure/auth"
	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/marketsync/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestVerifier() *auth.JWTVerifier {
	return auth.NewJWTVerifier(config.JWTConfig{
		Secret: "test-secret-key-at-least-32-chars",
		Issuer: "test-issuer",
	})
}

func signToken(t *testing.T, v *auth.JWTVerifier, userID uuid.UUID, ttl time.Duration) string {
	t.Helper()
	token, err := v.Sign(userID, ttl)
	require.NoError(t, err)
	return token
}

func newJWTRouter(mw gin.HandlerFunc, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(mw)
	router.GET("/api/v1/connections", handler)
	router.POST("/webhooks/shopify", handler)
	router.GET("/health", handler)
	return router
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestJWTAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier()
	userID := uuid.New()

	router := newJWTRouter(JWTAuthMiddleware(verifier), func(c *gin.Context) {
		claims := GetJWTClaims(c)
		require.NotNil(t, claims)
		assert.Equal(t, userID.String(), GetJWTUserID(c))
		id, ok := GetJWTUserUUID(c)
		assert.True(t, ok)
		assert.Equal(t, userID, id)
		assert.Equal(t, userID.String(), logger.GetUserID(c.Request.Context()))
		okHandler(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, verifier, userID, time.Minute))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTAuthMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier()
	other := auth.NewJWTVerifier(config.JWTConfig{Secret: "another-secret-key-of-32-chars!!", Issuer: "test-issuer"})

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "ERR_TOKEN_INVALID"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "ERR_TOKEN_INVALID"},
		{"empty bearer", "Bearer ", "ERR_TOKEN_INVALID"},
		{"garbage", "Bearer not-a-jwt", "ERR_TOKEN_INVALID"},
		{"wrong secret", "Bearer " + signToken(t, other, uuid.New(), time.Minute), "ERR_TOKEN_INVALID"},
		{"expired", "Bearer " + signToken(t, verifier, uuid.New(), -time.Minute), "ERR_TOKEN_EXPIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newJWTRouter(JWTAuthMiddleware(verifier), okHandler)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestJWTAuthMiddleware_DefaultSkips(t *testing.T) {
	router := newJWTRouter(JWTAuthMiddleware(newTestVerifier()), okHandler)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodPost, "/webhooks/shopify"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, tc.path)
	}
}

func TestJWTAuthMiddleware_CustomOnError(t *testing.T) {
	var captured error
	cfg := DefaultJWTConfig(newTestVerifier())
	cfg.OnError = func(c *gin.Context, err error) {
		captured = err
		c.AbortWithStatus(http.StatusTeapot)
	}
	router := newJWTRouter(JWTAuthMiddlewareWithConfig(cfg), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, errors.Is(captured, auth.ErrInvalidToken))
}

func TestGetJWTUserUUID_NotFound(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetJWTClaims(c))
	assert.Empty(t, GetJWTUserID(c))
	_, ok := GetJWTUserUUID(c)
	assert.False(t, ok)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"bearer abc", "abc", false},
		{"Bearer   padded  ", "padded", false},
		{"Bearer ", "", true},
		{"Basic abc", "", true},
		{"Bear", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := bearerToken(tt.header)
		if tt.wantErr {
			assert.ErrorIs(t, err, auth.ErrInvalidToken, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestJWTAuthMiddleware_MissingSecretIsServerError(t *testing.T) {
	verifier := auth.NewJWTVerifier(config.JWTConfig{})
	router := newJWTRouter(JWTAuthMiddleware(verifier), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer some.token.value")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ERR_INTERNAL", errorCode(t, rec))
}

func TestClassifyAuthError_Unknown(t *testing.T) {
	f := classifyAuthError(errors.New("boom"))
	assert.Equal(t, http.StatusUnauthorized, f.status)
	assert.Equal(t, "ERR_UNAUTHORIZED", f.code)
}
