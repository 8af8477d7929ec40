package observe

import (
	"context"
	"testing"

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

// sumValue extracts the single data point of an int64 sum metric.
func sumValue(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", m.Name)
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("metric %s: expected 1 data point, got %d", m.Name, len(sum.DataPoints))
	}
	return sum.DataPoints[0].Value
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.FramesStaged == nil || m.StagedBytes == nil || m.HTTPRequestDuration == nil {
		t.Error("expected all instruments to be initialised")
	}
}

func TestRecordStagedFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStagedFrame(ctx, 320, 320, false)
	m.RecordStagedFrame(ctx, 320, 100, true) // ring dropped 220 bytes

	rm := collect(t, reader)

	if got := sumValue(t, findMetric(rm, "sonatap.frames.staged")); got != 2 {
		t.Errorf("frames staged: got %d, want 2", got)
	}
	if got := sumValue(t, findMetric(rm, "sonatap.frames.bytes")); got != 640 {
		t.Errorf("frame bytes: got %d, want 640", got)
	}
	if got := sumValue(t, findMetric(rm, "sonatap.stage.overflows")); got != 1 {
		t.Errorf("overflows: got %d, want 1", got)
	}
	if got := sumValue(t, findMetric(rm, "sonatap.stage.held_bytes")); got != 420 {
		t.Errorf("held bytes: got %d, want 420", got)
	}
}

func TestRecordDrain(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStagedFrame(ctx, 500, 500, false)
	m.RecordDrain(ctx, 500)

	rm := collect(t, reader)

	if got := sumValue(t, findMetric(rm, "sonatap.stage.drains")); got != 1 {
		t.Errorf("drains: got %d, want 1", got)
	}
	if got := sumValue(t, findMetric(rm, "sonatap.stage.drained_bytes")); got != 500 {
		t.Errorf("drained bytes: got %d, want 500", got)
	}
	if got := sumValue(t, findMetric(rm, "sonatap.stage.held_bytes")); got != 0 {
		t.Errorf("held bytes after drain: got %d, want 0", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics must return the same instance")
	}
}
