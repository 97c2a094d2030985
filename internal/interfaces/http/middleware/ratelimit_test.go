package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/infrastructure/ratelimit"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func doGet(router *gin.Engine, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(2)
	t.Cleanup(func() { _ = limiter.Close() })

	router := gin.New()
	router.Use(RateLimit(limiter, zaptest.NewLogger(t)))
	router.GET("/test", okHandler)

	assert.Equal(t, http.StatusOK, doGet(router, "/test", nil).Code)
	assert.Equal(t, http.StatusOK, doGet(router, "/test", nil).Code)

	rec := doGet(router, "/test", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_RATE_LIMITED")
}

func TestRateLimit_KeysByAuthenticatedUser(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1)
	t.Cleanup(func() { _ = limiter.Close() })
	verifier := newTestVerifier()

	router := gin.New()
	router.Use(JWTAuthMiddleware(verifier), RateLimit(limiter, nil))
	router.GET("/api/v1/connections", okHandler)

	alice := map[string]string{"Authorization": "Bearer " + signToken(t, verifier, uuid.New(), time.Minute)}
	bob := map[string]string{"Authorization": "Bearer " + signToken(t, verifier, uuid.New(), time.Minute)}

	assert.Equal(t, http.StatusOK, doGet(router, "/api/v1/connections", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(router, "/api/v1/connections", alice).Code)
	assert.Equal(t, http.StatusOK, doGet(router, "/api/v1/connections", bob).Code)
}

func TestRateLimitByKey_FailsOpen(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitByKey(brokenLimiter{}, zaptest.NewLogger(t), func(c *gin.Context) string {
		return c.Param("marketplace")
	}))
	router.GET("/webhooks/:marketplace", okHandler)

	assert.Equal(t, http.StatusOK, doGet(router, "/webhooks/shopify", nil).Code)
}
