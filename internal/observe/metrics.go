// Package observe provides application-wide observability primitives for
// sonatap: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all sonatap metrics.
const meterName = "github.com/sonatap/sonatap"

// Metrics holds all OpenTelemetry metric instruments for the capture
// service. All fields are safe for concurrent use; the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// FramesStaged counts frames written into the staging ring.
	FramesStaged metric.Int64Counter

	// FrameBytes counts payload bytes written into the staging ring.
	FrameBytes metric.Int64Counter

	// StageOverflows counts ring writes that dropped staged bytes to fit.
	StageOverflows metric.Int64Counter

	// StageDrains counts drain requests against the staging ring.
	StageDrains metric.Int64Counter

	// DrainedBytes counts bytes handed out by drains.
	DrainedBytes metric.Int64Counter

	// StagedBytes tracks the bytes currently held in the staging ring.
	StagedBytes metric.Int64UpDownCounter

	// CapturesActive tracks the number of live capture sessions.
	CapturesActive metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesStaged, err = m.Int64Counter("sonatap.frames.staged",
		metric.WithDescription("Total frames written into the staging ring."),
	); err != nil {
		return nil, err
	}
	if met.FrameBytes, err = m.Int64Counter("sonatap.frames.bytes",
		metric.WithDescription("Total payload bytes written into the staging ring."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.StageOverflows, err = m.Int64Counter("sonatap.stage.overflows",
		metric.WithDescription("Total ring writes that dropped staged bytes to make room."),
	); err != nil {
		return nil, err
	}
	if met.StageDrains, err = m.Int64Counter("sonatap.stage.drains",
		metric.WithDescription("Total drain requests against the staging ring."),
	); err != nil {
		return nil, err
	}
	if met.DrainedBytes, err = m.Int64Counter("sonatap.stage.drained_bytes",
		metric.WithDescription("Total bytes handed out by drains."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.StagedBytes, err = m.Int64UpDownCounter("sonatap.stage.held_bytes",
		metric.WithDescription("Bytes currently held in the staging ring."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.CapturesActive, err = m.Int64UpDownCounter("sonatap.captures.active",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sonatap.http.request.duration",
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

// RecordStagedFrame records one frame written into the staging ring.
// heldDelta is the change in held bytes caused by the write (negative when
// the ring dropped more than it gained).
func (m *Metrics) RecordStagedFrame(ctx context.Context, payloadBytes, heldDelta int, overflowed bool) {
	m.FramesStaged.Add(ctx, 1)
	m.FrameBytes.Add(ctx, int64(payloadBytes))
	m.StagedBytes.Add(ctx, int64(heldDelta))
	if overflowed {
		m.StageOverflows.Add(ctx, 1)
	}
}

// RecordDrain records one drain of the staging ring.
func (m *Metrics) RecordDrain(ctx context.Context, drainedBytes int) {
	m.StageDrains.Add(ctx, 1)
	m.DrainedBytes.Add(ctx, int64(drainedBytes))
	m.StagedBytes.Add(ctx, -int64(drainedBytes))
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
