// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FramesDecoded counts audio frames decoded and committed to the output
	// clock. Use with attribute: attribute.String("call_id", ...)
	FramesDecoded metric.Int64Counter

	// DecodeErrors counts malformed binary frames dropped by the decoder.
	DecodeErrors metric.Int64Counter

	// LeadDrops counts frames discarded by the scheduler's look-ahead cap.
	LeadDrops metric.Int64Counter

	// BytesReceived counts binary payload bytes taken off the transport,
	// including frames later rejected by the decoder.
	BytesReceived metric.Int64Counter

	// Underruns counts playhead resynchronisations to the device clock.
	Underruns metric.Int64Counter

	// MetadataFrames counts text frames received on the feed.
	MetadataFrames metric.Int64Counter

	// --- Histograms ---

	// ScheduleLead tracks how far ahead of the device clock each buffer was
	// committed. Persistent growth toward the cap means the feed is running
	// faster than real time.
	ScheduleLead metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live listen sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// leadBuckets defines histogram bucket boundaries (in seconds) sized around
// the scheduler's 20 ms chunks and 500 ms default look-ahead cap.
var leadBuckets = []float64{
	0.005, 0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.5, 1, 2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesDecoded, err = m.Int64Counter("earshot.frames.decoded",
		metric.WithDescription("Total audio frames decoded and committed to the output clock, by call."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("earshot.frames.decode_errors",
		metric.WithDescription("Total malformed binary frames dropped by the decoder, by call."),
	); err != nil {
		return nil, err
	}
	if met.LeadDrops, err = m.Int64Counter("earshot.frames.lead_drops",
		metric.WithDescription("Total frames discarded by the scheduler look-ahead cap, by call."),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("earshot.bytes.received",
		metric.WithDescription("Total binary payload bytes received from the feed, by call."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("earshot.underruns",
		metric.WithDescription("Total playhead resynchronisations to the device clock, by call."),
	); err != nil {
		return nil, err
	}
	if met.MetadataFrames, err = m.Int64Counter("earshot.metadata.frames",
		metric.WithDescription("Total text metadata frames received on the feed, by call."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ScheduleLead, err = m.Float64Histogram("earshot.schedule.lead",
		metric.WithDescription("How far ahead of the device clock each buffer was committed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("earshot.active_sessions",
		metric.WithDescription("Number of live listen sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// callAttr builds the standard per-call attribute set.
func callAttr(callID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("call_id", callID))
}

// RecordFrameDecoded records one committed frame and its schedule lead.
func (m *Metrics) RecordFrameDecoded(ctx context.Context, callID string, lead time.Duration) {
	attrs := callAttr(callID)
	m.FramesDecoded.Add(ctx, 1, attrs)
	m.ScheduleLead.Record(ctx, lead.Seconds(), attrs)
}

// RecordDecodeError records one malformed frame dropped by the decoder.
func (m *Metrics) RecordDecodeError(ctx context.Context, callID string) {
	m.DecodeErrors.Add(ctx, 1, callAttr(callID))
}

// RecordLeadDrop records one frame discarded by the look-ahead cap.
func (m *Metrics) RecordLeadDrop(ctx context.Context, callID string) {
	m.LeadDrops.Add(ctx, 1, callAttr(callID))
}

// RecordBytesReceived records binary payload bytes taken off the transport.
func (m *Metrics) RecordBytesReceived(ctx context.Context, callID string, n int) {
	m.BytesReceived.Add(ctx, int64(n), callAttr(callID))
}

// RecordUnderrun records one playhead resynchronisation.
func (m *Metrics) RecordUnderrun(ctx context.Context, callID string) {
	m.Underruns.Add(ctx, 1, callAttr(callID))
}

// RecordMetadataFrame records one text frame received on the feed.
func (m *Metrics) RecordMetadataFrame(ctx context.Context, callID string) {
	m.MetadataFrames.Add(ctx, 1, callAttr(callID))
}

// AddActiveSessions adjusts the live-session gauge by delta (+1 on session
// start, -1 on stop).
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	m.ActiveSessions.Add(ctx, delta)
}
