package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans started by the sync engine
const TracerName = "github.com/marketsync/backend"

// Span attribute keys
var (
	AttrMarketplace  = attribute.Key("marketsync.marketplace")
	AttrConnectionID = attribute.Key("marketsync.connection_id")
	AttrEventID      = attribute.Key("marketsync.event_id")
	AttrTopic        = attribute.Key("marketsync.topic")
	AttrErrorKind    = attribute.Key("marketsync.error_kind")
	AttrOutcome      = attribute.Key("marketsync.outcome")
)

// StartSpan starts an internal span from the global tracer provider.
// The caller must End the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// RecordError marks the span failed
func RecordError(span trace.Span, err error) {
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span successful
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// TraceID returns the current trace id or an empty string
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
