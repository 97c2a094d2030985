package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(previous)
	})
	return sr
}

func endedSpan(t *testing.T, sr *tracetest.SpanRecorder) (map[attribute.Key]attribute.Value, sdktrace.ReadOnlySpan) {
	t.Helper()
	spans := sr.Ended()
	require.Len(t, spans, 1)
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs, spans[0]
}

func TestTracing_Disabled(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(Tracing("test", WithTracingDisabled(true)))
	router.GET("/test", okHandler)

	assert.Equal(t, http.StatusOK, doGet(router, "/test", nil).Code)
	assert.Empty(t, sr.Ended())
}

func TestTracing_UntracedPaths(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(Tracing("test", WithUntracedPaths("/health")))
	router.GET("/health", okHandler)
	router.GET("/api/v1/ready", okHandler)

	doGet(router, "/health", nil)
	assert.Empty(t, sr.Ended())
	doGet(router, "/api/v1/ready", nil)
	assert.Len(t, sr.Ended(), 1)
}

func TestSpanAttributes_Webhook(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(RequestID(), Tracing("test"))
	router.Use(func(c *gin.Context) {
		c.Set(JWTUserIDKey, "user-123")
		c.Next()
	})
	router.Use(SpanAttributes())
	router.POST("/webhooks/:marketplace", okHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("X-Shopify-Topic", "orders/create")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	attrs, _ := endedSpan(t, sr)
	assert.Equal(t, "req-42", attrs[AttrRequestID].AsString())
	assert.Equal(t, "user-123", attrs[AttrUserID].AsString())
	assert.Equal(t, "SHOPIFY", attrs[AttrMarketplace].AsString())
	assert.Equal(t, "orders/create", attrs[AttrWebhookTopic].AsString())
}

func TestSpanAttributes_UnknownMarketplaceNotRecorded(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(Tracing("test"), SpanAttributes())
	router.POST("/webhooks/:marketplace", okHandler)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/amazon", nil))

	attrs, _ := endedSpan(t, sr)
	_, found := attrs[AttrMarketplace]
	assert.False(t, found)
}

func TestSpanStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		wantError bool
		wantDesc  string
	}{
		{"ok", http.StatusOK, nil, false, ""},
		{"rejected webhook", http.StatusUnauthorized, nil, false, ""},
		{"server error", http.StatusInternalServerError, nil, true, "Internal Server Error"},
		{"gin error message", http.StatusBadGateway, errors.New("marketplace unreachable"), true, "marketplace unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := setupTestTracer(t)

			router := gin.New()
			router.Use(Tracing("test"), SpanStatus())
			router.GET("/test", func(c *gin.Context) {
				if tt.err != nil {
					_ = c.Error(tt.err)
				}
				c.Status(tt.status)
			})
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

			attrs, span := endedSpan(t, sr)
			assert.Equal(t, int64(tt.status), attrs["http.response.status_code"].AsInt64())
			if tt.wantError {
				assert.Equal(t, codes.Error, span.Status().Code)
				assert.Equal(t, tt.wantDesc, span.Status().Description)
			} else {
				assert.NotEqual(t, codes.Error, span.Status().Code)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Len(t, truncate(strings.Repeat("a", 500), maxSpanRequestID), maxSpanRequestID)
	assert.Equal(t, "short", truncate("short", maxSpanRequestID))
}
