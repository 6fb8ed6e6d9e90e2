// Package observe provides the observability primitives shared by the parley
// binaries: OpenTelemetry metrics, tracing helpers, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format by [Setup]. Tests should build their own [Metrics]
// with [NewMetrics] and a ManualReader-backed provider instead of touching
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/parley"

// Metrics holds every metric instrument parley records.
type Metrics struct {
	// TurnDuration tracks the wall time of a whole dispatched turn, from
	// request validation to synthesized audio.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks backend completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// Turns counts dispatched turns by model and status.
	Turns metric.Int64Counter

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider calls by provider and kind.
	ProviderErrors metric.Int64Counter

	// ActiveTurns is the number of turns currently being dispatched.
	ActiveTurns metric.Int64UpDownCounter

	// CircuitStateChanges counts circuit breaker transitions by breaker name
	// and target state.
	CircuitStateChanges metric.Int64Counter

	// HTTPRequestDuration tracks HTTP handler latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Hosted completions and
// synthesis routinely take several seconds, so the tail reaches 30 s.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("Latency of a dispatched turn from request to audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("parley.llm.duration",
		metric.WithDescription("Latency of backend completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("parley.turns",
		metric.WithDescription("Dispatched turns by model and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Provider calls by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Failed provider calls by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTurns, err = m.Int64UpDownCounter("parley.active_turns",
		metric.WithDescription("Turns currently being dispatched."),
	); err != nil {
		return nil, err
	}
	if met.CircuitStateChanges, err = m.Int64Counter("parley.circuit.state_changes",
		metric.WithDescription("Circuit breaker transitions by breaker and state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] built on the global
// meter provider. It panics if instrument creation fails, which the global
// provider never does.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records the outcome and duration of one dispatched turn.
func (m *Metrics) RecordTurn(ctx context.Context, model, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCircuitStateChange increments the circuit transition counter.
func (m *Metrics) RecordCircuitStateChange(ctx context.Context, breaker, state string) {
	m.CircuitStateChanges.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}
