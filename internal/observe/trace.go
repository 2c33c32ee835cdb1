package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope under which all voice agent spans
// are created.
const tracerName = "github.com/HeckSmart/multilingual-voiceagent"

// Tracer returns the voice agent's [trace.Tracer], resolved against the
// globally registered provider so spans are dropped cleanly when tracing is
// not configured.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan is shorthand for Tracer().Start. Callers own the returned span
// and must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the active trace ID from ctx, or "" when ctx carries
// no valid span.
//
// The trace ID doubles as the correlation identifier surfaced to clients in
// the X-Correlation-ID response header, so a driver-app bug report can be
// matched to server logs and spans.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default [slog.Logger] with trace_id and span_id
// attributes taken from the span in ctx, so per-turn log lines can be joined
// with their traces. Without an active span it returns the default logger
// unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
