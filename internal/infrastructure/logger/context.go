package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	correlationKey
)

// Correlation identifies the request and sync target a unit of work belongs
// to. Empty fields are omitted from log entries.
type Correlation struct {
	RequestID    string
	UserID       string
	Marketplace  string
	ConnectionID string
}

// Fields renders the non-empty correlation values as zap fields.
func (c Correlation) Fields() []zap.Field {
	fields := make([]zap.Field, 0, 4)
	add := func(key, v string) {
		if v != "" {
			fields = append(fields, zap.String(key, v))
		}
	}
	add("request_id", c.RequestID)
	add("user_id", c.UserID)
	add("marketplace", c.Marketplace)
	add("connection_id", c.ConnectionID)
	return fields
}

// WithContext attaches l as the request-scoped logger.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the attached logger without correlation fields, or a
// nop logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// CorrelationFrom returns the correlation values carried by ctx.
func CorrelationFrom(ctx context.Context) Correlation {
	c, _ := ctx.Value(correlationKey).(Correlation)
	return c
}

func updateCorrelation(ctx context.Context, fn func(*Correlation)) context.Context {
	c := CorrelationFrom(ctx)
	fn(&c)
	return context.WithValue(ctx, correlationKey, c)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return updateCorrelation(ctx, func(c *Correlation) { c.RequestID = requestID })
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return updateCorrelation(ctx, func(c *Correlation) { c.UserID = userID })
}

// WithSyncTarget tags ctx with the marketplace and connection being synced.
// An empty connectionID keeps the previous value.
func WithSyncTarget(ctx context.Context, marketplace, connectionID string) context.Context {
	return updateCorrelation(ctx, func(c *Correlation) {
		c.Marketplace = marketplace
		if connectionID != "" {
			c.ConnectionID = connectionID
		}
	})
}

func GetRequestID(ctx context.Context) string { return CorrelationFrom(ctx).RequestID }

func GetUserID(ctx context.Context) string { return CorrelationFrom(ctx).UserID }

// GetTraceID returns the active trace id, or "" without a valid span.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// L returns the context logger with trace and correlation fields applied.
// Usage: logger.L(ctx).Info("Webhook refused", zap.String("outcome", o))
func L(ctx context.Context) *zap.Logger {
	return Enrich(ctx, FromContext(ctx))
}

// Enrich applies the trace and correlation fields of ctx to l, for
// components that own their logger rather than reading one from ctx.
func Enrich(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	fields := CorrelationFrom(ctx).Fields()
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}
