package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for the proxy request path,
// writing to a single local stdout sink; no remote collector is assumed.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracerProvider builds an SDK tracer provider that writes spans to
// stdout, tagged with serviceName as the otel resource's service.name.
func NewTracerProvider(serviceName string) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("obs: create stdout trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("obs: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider, provider.Shutdown, nil
}

// NewTracer returns a Tracer using the global tracer provider under the
// given instrumentation name.
func NewTracer(instrumentationName string) *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartRequestSpan opens a span for one proxied tool call, keyed by the
// request's correlation ID, so every stage is traceable back to the
// correlation ID that started the call.
func (t *Tracer) StartRequestSpan(ctx context.Context, correlationID, tool, action string) (context.Context, func(err error)) {
	if t == nil || t.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, "proxy.request",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.String("tool", tool),
			attribute.String("action", action),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
