// Package observe provides application-wide observability primitives for
// hushling: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed in
// Prometheus format on /metrics via [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hushling metrics.
const meterName = "github.com/MrWong99/hushling"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Detection ---

	// TickDuration tracks the latency of one analysis tick (snapshot,
	// feature extraction and classification).
	TickDuration metric.Float64Histogram

	// Ticks counts analysis ticks that reached classification.
	Ticks metric.Int64Counter

	// TickErrors counts failed ticks. Use with attribute:
	//   attribute.String("stage", ...)
	TickErrors metric.Int64Counter

	// Classifications counts classifier outputs. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("class", ...)
	Classifications metric.Int64Counter

	// ClassifierFallbacks counts calls served by a fallback backend.
	ClassifierFallbacks metric.Int64Counter

	// BandEnergy is the most recent normalised cry-band energy.
	BandEnergy metric.Float64Gauge

	// Triggers counts playback triggers. Use with attribute:
	//   attribute.String("source", "classifier"|"band"|"manual")
	Triggers metric.Int64Counter

	// --- Playback ---

	// PlaybackCycles counts finished playback cycles. Use with attribute:
	//   attribute.String("status", "completed"|"failed")
	PlaybackCycles metric.Int64Counter

	// PlaybackDuration tracks the wall time of playback cycles.
	PlaybackDuration metric.Float64Histogram

	// PlaybackActive is 1 while a playback cycle runs.
	PlaybackActive metric.Int64UpDownCounter

	// Volume is the most recent volume requested from the player.
	Volume metric.Float64Gauge

	// --- Lifecycle ---

	// EngineRestarts counts supervisor restarts after capture failures.
	EngineRestarts metric.Int64Counter

	// Recordings counts shush recordings. Use with attribute:
	//   attribute.String("status", ...)
	Recordings metric.Int64Counter

	// ConfigReloads counts hot reloads. Use with attribute:
	//   attribute.String("status", ...)
	ConfigReloads metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// per-tick analysis latency.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// playbackBuckets covers playback cycles from a few seconds to several
// minutes.
var playbackBuckets = []float64{
	5, 10, 20, 30, 45, 60, 90, 120, 180, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("hushling.engine.tick.duration",
		metric.WithDescription("Latency of one analysis tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("hushling.playback.duration",
		metric.WithDescription("Wall time of playback cycles."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Ticks, err = m.Int64Counter("hushling.engine.ticks",
		metric.WithDescription("Total analysis ticks that reached classification."),
	); err != nil {
		return nil, err
	}
	if met.TickErrors, err = m.Int64Counter("hushling.engine.tick_errors",
		metric.WithDescription("Total failed analysis ticks by stage."),
	); err != nil {
		return nil, err
	}
	if met.Classifications, err = m.Int64Counter("hushling.classifier.classifications",
		metric.WithDescription("Total classifier results by backend and class."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierFallbacks, err = m.Int64Counter("hushling.classifier.fallbacks",
		metric.WithDescription("Total classifications served by a fallback backend."),
	); err != nil {
		return nil, err
	}
	if met.Triggers, err = m.Int64Counter("hushling.engine.triggers",
		metric.WithDescription("Total playback triggers by source."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackCycles, err = m.Int64Counter("hushling.playback.cycles",
		metric.WithDescription("Total playback cycles by status."),
	); err != nil {
		return nil, err
	}
	if met.EngineRestarts, err = m.Int64Counter("hushling.supervisor.restarts",
		metric.WithDescription("Total engine restarts after capture failures."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("hushling.recorder.recordings",
		metric.WithDescription("Total shush recordings by status."),
	); err != nil {
		return nil, err
	}
	if met.ConfigReloads, err = m.Int64Counter("hushling.config.reloads",
		metric.WithDescription("Total configuration hot reloads by status."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.PlaybackActive, err = m.Int64UpDownCounter("hushling.playback.active",
		metric.WithDescription("1 while a playback cycle is running."),
	); err != nil {
		return nil, err
	}
	if met.BandEnergy, err = m.Float64Gauge("hushling.audio.band_energy",
		metric.WithDescription("Most recent normalised cry-band energy."),
	); err != nil {
		return nil, err
	}
	if met.Volume, err = m.Float64Gauge("hushling.playback.volume",
		metric.WithDescription("Most recent requested playback volume."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hushling.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordTick records one completed analysis tick.
func (m *Metrics) RecordTick(ctx context.Context, d time.Duration) {
	m.Ticks.Add(ctx, 1)
	m.TickDuration.Record(ctx, d.Seconds())
}

// RecordTickError records a failed tick at the given stage.
func (m *Metrics) RecordTickError(ctx context.Context, stage string) {
	m.TickErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordClassification records one classifier result.
func (m *Metrics) RecordClassification(ctx context.Context, backend, class string) {
	m.Classifications.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("class", class),
		),
	)
}

// RecordClassifierFallback records a classification served by a fallback
// backend.
func (m *Metrics) RecordClassifierFallback(ctx context.Context, backend string) {
	m.ClassifierFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordTrigger records a playback trigger from source.
func (m *Metrics) RecordTrigger(ctx context.Context, source string) {
	m.Triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordPlaybackCycle records a finished playback cycle.
func (m *Metrics) RecordPlaybackCycle(ctx context.Context, status string, d time.Duration) {
	m.PlaybackCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.PlaybackDuration.Record(ctx, d.Seconds())
}

// RecordRecording records a shush recording attempt.
func (m *Metrics) RecordRecording(ctx context.Context, status string) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(ctx context.Context, status string) {
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
