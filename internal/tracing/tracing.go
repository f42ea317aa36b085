// Package tracing wires an OpenTelemetry tracer for the dispatcher and
// bridge lifecycle spans. When disabled (the default), a no-op tracer
// provider is installed so every Start/End call is free.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/dev-console/notifybridge"

// Init installs a tracer provider. enabled selects between a real
// batching span processor (samples everything — this core's call volume
// is low enough that always-on sampling is cheap) and otel's built-in
// no-op provider.
func Init(enabled bool) func(context.Context) error {
	if !enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns the package-scoped tracer, to be used for every
// dispatch.Invoke call and bridge lifecycle transition.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named for the tool/operation being traced.
func StartSpan(ctx context.Context, name string, attrs ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, attrs...)
}
