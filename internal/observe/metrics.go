// Package observe provides application-wide observability primitives for
// the companion server: OpenTelemetry metrics, distributed tracing, and
// structured logging setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all companion metrics.
const meterName = "github.com/Jaaaxx/DnD-Companion"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTUtteranceDuration tracks spoken length of finalized utterances.
	STTUtteranceDuration metric.Float64Histogram

	// LLMDuration tracks model call latency. Use with attribute:
	//   attribute.String("task", "correction"|"attribution"|"autoaudio"|"health"|"recap")
	LLMDuration metric.Float64Histogram

	// CatalogSearchDuration tracks audio catalog search latency. Use with
	// attribute: attribute.String("source", ...)
	CatalogSearchDuration metric.Float64Histogram

	// --- Counters ---

	// Segments counts transcript segments by stage. Use with attribute:
	//   attribute.String("stage", "ingested"|"corrected"|"merged"|"attributed")
	Segments metric.Int64Counter

	// AudioTriggers counts fired audio by origin. Use with attributes:
	//   attribute.String("origin", "keyword"|"scene"|"manual"|"auto"),
	//   attribute.String("kind", "music"|"effect")
	AudioTriggers metric.Int64Counter

	// HealthEvents counts detected health events by outcome. Use with
	// attribute: attribute.String("outcome", "detected"|"confirmed"|"rejected")
	HealthEvents metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SaveFailures counts failed transcript persistence attempts.
	SaveFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live game sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model-call and catalog-search latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTUtteranceDuration, err = m.Float64Histogram("companion.stt.utterance.duration",
		metric.WithDescription("Spoken length of finalized utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("companion.llm.duration",
		metric.WithDescription("Latency of model calls by task."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CatalogSearchDuration, err = m.Float64Histogram("companion.catalog.search.duration",
		metric.WithDescription("Latency of audio catalog searches by source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("companion.transcript.segments",
		metric.WithDescription("Total transcript segments by processing stage."),
	); err != nil {
		return nil, err
	}
	if met.AudioTriggers, err = m.Int64Counter("companion.audio.triggers",
		metric.WithDescription("Total fired audio by origin and kind."),
	); err != nil {
		return nil, err
	}
	if met.HealthEvents, err = m.Int64Counter("companion.health.events",
		metric.WithDescription("Total health events by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("companion.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SaveFailures, err = m.Int64Counter("companion.transcript.save_failures",
		metric.WithDescription("Total failed transcript persistence attempts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("companion.active_sessions",
		metric.WithDescription("Number of live game sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment records a transcript segment counter increment for a stage.
func (m *Metrics) RecordSegment(ctx context.Context, stage string) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordTrigger records a fired audio counter increment.
func (m *Metrics) RecordTrigger(ctx context.Context, origin, kind string) {
	m.AudioTriggers.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("origin", origin),
			attribute.String("kind", kind),
		),
	)
}

// RecordHealthEvent records a health event counter increment by outcome.
func (m *Metrics) RecordHealthEvent(ctx context.Context, outcome string) {
	m.HealthEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
