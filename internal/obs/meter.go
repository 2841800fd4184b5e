package obs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// NewMeterProvider builds an SDK meter provider that periodically writes
// metrics to stdout — the secondary local-development sink alongside the
// Prometheus registry.
func NewMeterProvider(serviceName string) (*sdkmetric.MeterProvider, func(context.Context) error, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, nil, fmt.Errorf("obs: create stdout metric exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("obs: build resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(60*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider, provider.Shutdown, nil
}

// OTelMetrics mirrors the proxy.Observer events onto OpenTelemetry
// instruments so the stdout metric sink sees the same series the
// Prometheus registry does.
type OTelMetrics struct {
	calls         metric.Int64Counter
	latency       metric.Float64Histogram
	tokenChecks   metric.Int64Counter
	retryAttempts metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider.
func NewOTelMetrics(instrumentationName string) (*OTelMetrics, error) {
	meter := otel.Meter(instrumentationName)

	calls, err := meter.Int64Counter("proxy.calls",
		metric.WithDescription("Proxied tool calls by tool, action, and outcome"))
	if err != nil {
		return nil, fmt.Errorf("obs: create proxy.calls counter: %w", err)
	}
	latency, err := meter.Float64Histogram("proxy.latency",
		metric.WithDescription("Proxy call latency in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("obs: create proxy.latency histogram: %w", err)
	}
	tokenChecks, err := meter.Int64Counter("token.validations",
		metric.WithDescription("Token validation attempts by result"))
	if err != nil {
		return nil, fmt.Errorf("obs: create token.validations counter: %w", err)
	}
	retries, err := meter.Int64Counter("proxy.retries",
		metric.WithDescription("Retry attempts by tool and action"))
	if err != nil {
		return nil, fmt.Errorf("obs: create proxy.retries counter: %w", err)
	}

	return &OTelMetrics{
		calls:         calls,
		latency:       latency,
		tokenChecks:   tokenChecks,
		retryAttempts: retries,
	}, nil
}

// ObserveOutcome implements proxy.Observer.
func (m *OTelMetrics) ObserveOutcome(tool, action, outcome string) {
	m.calls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// ObserveLatency implements proxy.Observer.
func (m *OTelMetrics) ObserveLatency(tool, action string, d time.Duration) {
	m.latency.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("action", action),
	))
}

// ObserveTokenValidation implements proxy.Observer.
func (m *OTelMetrics) ObserveTokenValidation(ok bool) {
	m.tokenChecks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool("ok", ok),
	))
}

// ObserveRetry implements proxy.Observer.
func (m *OTelMetrics) ObserveRetry(tool, action string, attempt int) {
	m.retryAttempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("action", action),
		attribute.Int("attempt", attempt),
	))
}
