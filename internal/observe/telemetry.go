package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// TelemetryOption configures [Setup].
type TelemetryOption func(*telemetryConfig)

type telemetryConfig struct {
	service  string
	exporter sdktrace.SpanExporter
	ratio    float64
}

// WithServiceName overrides the reported service name ("parley").
func WithServiceName(name string) TelemetryOption {
	return func(c *telemetryConfig) {
		if name != "" {
			c.service = name
		}
	}
}

// WithSpanExporter batches finished spans to exp. Without it spans are
// recorded for log correlation only.
func WithSpanExporter(exp sdktrace.SpanExporter) TelemetryOption {
	return func(c *telemetryConfig) { c.exporter = exp }
}

// WithSampleRatio samples the given fraction of root turns. Child spans
// follow their parent.
func WithSampleRatio(r float64) TelemetryOption {
	return func(c *telemetryConfig) {
		if r >= 0 && r <= 1 {
			c.ratio = r
		}
	}
}

// Setup installs the global meter provider (read by the Prometheus exporter
// behind /metrics), the global tracer provider and the W3C trace-context
// propagator. The returned function flushes and stops both providers.
func Setup(ctx context.Context, version string, opts ...TelemetryOption) (func(context.Context) error, error) {
	c := telemetryConfig{service: "parley", ratio: 1}
	for _, o := range opts {
		o(&c)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.service),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.ratio))),
	}
	if c.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(c.exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
