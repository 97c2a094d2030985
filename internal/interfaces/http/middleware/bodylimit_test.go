package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// readAll mimics the webhook handler: read the raw body and map MaxBytesError to 413
func readAll(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"received": false})
		return
	}
	c.String(http.StatusOK, "%d", len(body))
}

func TestBodyLimit(t *testing.T) {
	tests := []struct {
		name          string
		limit         int64
		body          string
		contentLength int64
		opts          []BodyLimitOption
		wantStatus    int
		wantBody      string
	}{
		{
			name:          "within limit",
			limit:         1024,
			body:          `{"id":1}`,
			contentLength: 8,
			wantStatus:    http.StatusOK,
			wantBody:      "8",
		},
		{
			name:          "declared length over limit",
			limit:         100,
			body:          strings.Repeat("x", 200),
			contentLength: 200,
			wantStatus:    http.StatusRequestEntityTooLarge,
			wantBody:      "ERR_PAYLOAD_TOO_LARGE",
		},
		{
			name:          "declared length over limit with webhook body",
			limit:         100,
			body:          strings.Repeat("x", 200),
			contentLength: 200,
			opts:          []BodyLimitOption{WithRejectBody(gin.H{"received": false})},
			wantStatus:    http.StatusRequestEntityTooLarge,
			wantBody:      `{"received":false}`,
		},
		{
			name:          "undeclared length capped while reading",
			limit:         50,
			body:          strings.Repeat("x", 100),
			contentLength: -1,
			wantStatus:    http.StatusRequestEntityTooLarge,
			wantBody:      `{"received":false}`,
		},
		{
			name:          "zero limit disables the check",
			limit:         0,
			body:          strings.Repeat("x", 100),
			contentLength: 100,
			wantStatus:    http.StatusOK,
			wantBody:      "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(BodyLimit(tt.limit, tt.opts...))
			r.POST("/webhooks/:marketplace", readAll)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestBodyLimit_GETWithoutBody(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimit(10))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
