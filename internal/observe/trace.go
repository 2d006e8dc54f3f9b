package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/telebridge"

// Tracer returns the bridge's tracer from the global provider.
func Tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartSpan starts a span on [Tracer]. End it when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace ID of the span in ctx, or "" without one. It
// tags log lines and the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type callKey struct{}

type callIDs struct{ callSID, streamSID string }

// WithCall tags ctx with a call's identifiers for [Logger].
func WithCall(ctx context.Context, callSID, streamSID string) context.Context {
	return context.WithValue(ctx, callKey{}, callIDs{callSID, streamSID})
}

// Logger returns the default logger carrying whatever ctx knows: the call
// and stream SIDs set by [WithCall] and the active trace and span IDs.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if ids, ok := ctx.Value(callKey{}).(callIDs); ok {
		attrs = append(attrs, slog.String("call_sid", ids.callSID), slog.String("stream_sid", ids.streamSID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
