// Package tracing provides the process-wide OpenTelemetry tracer.
//
// Only the API is wired here. Without an SDK installed the global
// provider is a no-op, so instrumented paths cost nothing in
// environments that do not configure tracing.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "prism"

// Tracer returns the tracer for this service.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// Start begins a span with the given name and attributes.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, name, trace.WithAttributes(attrs...))
}
