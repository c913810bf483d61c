// Package observe provides application-wide observability primitives for
// voxconv: OpenTelemetry metrics, distributed tracing, structured logging,
// error monitoring and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all voxconv metrics.
const meterName = "github.com/MrWong99/voxconv"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TTSTimeToFirstAudio tracks the delay between dispatching an utterance
	// and receiving its first audio chunk.
	TTSTimeToFirstAudio metric.Float64Histogram

	// UtteranceDuration tracks how long utterances stay active.
	UtteranceDuration metric.Float64Histogram

	// RecognitionDuration tracks the length of recognition sessions.
	RecognitionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Utterances counts finished utterances by outcome. Use with attribute:
	//   attribute.String("status", "completed"|"cancelled"|"failed")
	Utterances metric.Int64Counter

	// TranscriptSegments counts recognised segments. Use with attribute:
	//   attribute.String("kind", "interim"|"final")
	TranscriptSegments metric.Int64Counter

	// TranscriptShares counts share uploads by status.
	TranscriptShares metric.Int64Counter

	// --- Gauges ---

	// ActiveViews tracks the number of connected client views.
	ActiveViews metric.Int64UpDownCounter

	// ActiveRecognitions tracks the number of listening sessions.
	ActiveRecognitions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers utterances and listening sessions, which run for
// seconds to minutes.
var sessionBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTSTimeToFirstAudio, err = m.Float64Histogram("voxconv.tts.first_audio",
		metric.WithDescription("Delay between dispatching an utterance and its first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxconv.tts.utterance.duration",
		metric.WithDescription("Time an utterance stays active."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("voxconv.stt.session.duration",
		metric.WithDescription("Length of recognition sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxconv.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxconv.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxconv.tts.utterances",
		metric.WithDescription("Total utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptSegments, err = m.Int64Counter("voxconv.stt.segments",
		metric.WithDescription("Total recognised segments by kind."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptShares, err = m.Int64Counter("voxconv.transcript.shares",
		metric.WithDescription("Total transcript share uploads by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveViews, err = m.Int64UpDownCounter("voxconv.active_views",
		metric.WithDescription("Number of connected client views."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecognitions, err = m.Int64UpDownCounter("voxconv.active_recognitions",
		metric.WithDescription("Number of listening recognition sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxconv.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
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

// RecordUtterance records a finished utterance and how long it was active.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Utterances.Add(ctx, 1, attrs)
	m.UtteranceDuration.Record(ctx, seconds, attrs)
}

// RecordSegment records one recognised segment.
func (m *Metrics) RecordSegment(ctx context.Context, final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.TranscriptSegments.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordShare records a transcript share upload.
func (m *Metrics) RecordShare(ctx context.Context, status string) {
	m.TranscriptShares.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
