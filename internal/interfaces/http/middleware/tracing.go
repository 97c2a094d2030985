// Package middleware provides HTTP middleware for the sync service.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/marketsync/backend/internal/domain/integration"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys set by SpanAttributes.
const (
	AttrRequestID     = attribute.Key("marketsync.request_id")
	AttrUserID        = attribute.Key("marketsync.user_id")
	AttrMarketplace   = attribute.Key("marketsync.marketplace")
	AttrWebhookTopic  = attribute.Key("marketsync.webhook.topic")
	maxSpanRequestID  = 128
	maxSpanTopicBytes = 64
)

// topicHeaders carry the event topic of an inbound webhook, per marketplace.
var topicHeaders = []string{"X-Shopify-Topic", "X-Wc-Webhook-Topic", "X-Etsy-Topic"}

type tracingOptions struct {
	disabled bool
	skip     map[string]struct{}
}

// TracingOption tunes Tracing.
type TracingOption func(*tracingOptions)

// WithTracingDisabled turns Tracing into a pass-through.
func WithTracingDisabled(disabled bool) TracingOption {
	return func(o *tracingOptions) { o.disabled = disabled }
}

// WithUntracedPaths lists exact paths that never produce a span, such as probes.
func WithUntracedPaths(paths ...string) TracingOption {
	return func(o *tracingOptions) {
		for _, p := range paths {
			o.skip[p] = struct{}{}
		}
	}
}

// Tracing starts a server span per request through otelgin.
func Tracing(serviceName string, opts ...TracingOption) gin.HandlerFunc {
	o := tracingOptions{skip: map[string]struct{}{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.disabled {
		return func(c *gin.Context) { c.Next() }
	}
	var otelOpts []otelgin.Option
	if len(o.skip) > 0 {
		otelOpts = append(otelOpts, otelgin.WithFilter(func(r *http.Request) bool {
			_, skipped := o.skip[r.URL.Path]
			return !skipped
		}))
	}
	return otelgin.Middleware(serviceName, otelOpts...)
}

// SpanAttributes copies request_id, user_id, marketplace and webhook topic
// onto the active span. Run it after JWT on authenticated routes.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
			span.SetAttributes(requestAttributes(c)...)
		}
		c.Next()
	}
}

func requestAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := RequestIDFrom(c); id != "" {
		attrs = append(attrs, AttrRequestID.String(truncate(id, maxSpanRequestID)))
	}
	if userID := GetJWTUserID(c); userID != "" {
		attrs = append(attrs, AttrUserID.String(userID))
	}
	if m, err := integration.ParseMarketplace(c.Param("marketplace")); err == nil {
		attrs = append(attrs, AttrMarketplace.String(m.String()))
	}
	for _, h := range topicHeaders {
		if topic := strings.TrimSpace(c.GetHeader(h)); topic != "" {
			attrs = append(attrs, AttrWebhookTopic.String(truncate(topic, maxSpanTopicBytes)))
			break
		}
	}
	return attrs
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// SpanStatus records the response code and marks 5xx spans as errors.
// Rejected webhooks (4xx) are expected traffic and keep an unset status.
func SpanStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			msg := http.StatusText(status)
			if len(c.Errors) > 0 {
				msg = c.Errors.Last().Error()
			}
			span.SetStatus(codes.Error, msg)
		}
	}
}
