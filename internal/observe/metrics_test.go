package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValueForCall finds the int64 sum data point carrying call_id=callID.
func sumValueForCall(t *testing.T, rm metricdata.ResourceMetrics, name, callID string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "call_id" && kv.Value.AsString() == callID {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with call_id=%s", name, callID)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrameDecoded(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameDecoded(ctx, "call-1", 40*time.Millisecond)
	m.RecordFrameDecoded(ctx, "call-1", 60*time.Millisecond)
	m.RecordFrameDecoded(ctx, "call-2", 20*time.Millisecond)

	rm := collect(t, reader)

	if got := sumValueForCall(t, rm, "earshot.frames.decoded", "call-1"); got != 2 {
		t.Errorf("frames.decoded for call-1 = %d, want 2", got)
	}
	if got := sumValueForCall(t, rm, "earshot.frames.decoded", "call-2"); got != 1 {
		t.Errorf("frames.decoded for call-2 = %d, want 1", got)
	}

	met := findMetric(rm, "earshot.schedule.lead")
	if met == nil {
		t.Fatal("schedule.lead metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("schedule.lead is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("schedule.lead sample count = %d, want 3", total)
	}
}

func TestFrameCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecodeError(ctx, "call-1")
	m.RecordLeadDrop(ctx, "call-1")
	m.RecordLeadDrop(ctx, "call-1")
	m.RecordUnderrun(ctx, "call-1")
	m.RecordMetadataFrame(ctx, "call-1")

	rm := collect(t, reader)

	checks := []struct {
		name string
		want int64
	}{
		{"earshot.frames.decode_errors", 1},
		{"earshot.frames.lead_drops", 2},
		{"earshot.underruns", 1},
		{"earshot.metadata.frames", 1},
	}
	for _, tc := range checks {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumValueForCall(t, rm, tc.name, "call-1"); got != tc.want {
				t.Errorf("counter value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordBytesReceived(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBytesReceived(ctx, "call-1", 1280)
	m.RecordBytesReceived(ctx, "call-1", 1280)
	m.RecordBytesReceived(ctx, "call-1", 7)

	rm := collect(t, reader)
	if got := sumValueForCall(t, rm, "earshot.bytes.received", "call-1"); got != 2567 {
		t.Errorf("bytes.received = %d, want 2567", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AddActiveSessions(ctx, 1)
	m.AddActiveSessions(ctx, 1)
	m.AddActiveSessions(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "earshot.active_sessions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "earshot.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
