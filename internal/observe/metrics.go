// Package observe provides the service's OpenTelemetry metrics and the HTTP
// middleware that records request latency.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with a
// ManualReader-backed provider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ayusman/signbridge"

// Reasons a frame is dropped without a prediction.
const (
	DropMalformed    = "malformed"
	DropDecode       = "decode"
	DropDetector     = "detector"
	DropBackpressure = "backpressure"
	DropRateLimit    = "rate_limit"
	DropOutOfOrder   = "out_of_order"
)

// Metrics holds all metric instruments. The underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesReceived counts inbound frame messages, valid or not.
	FramesReceived metric.Int64Counter

	// FramesDropped counts frames that produced no prediction. Use with
	// attribute.String("reason", ...).
	FramesDropped metric.Int64Counter

	// Predictions counts prediction messages sent to clients.
	Predictions metric.Int64Counter

	// Commits counts committed words. Use with attribute.String("token", ...).
	Commits metric.Int64Counter

	// ActiveSessions tracks the number of open recognition sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PipelineDuration tracks decode-to-decision latency per frame.
	PipelineDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds, sized for per-frame inference.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesReceived, err = m.Int64Counter("signbridge.frames.received",
		metric.WithDescription("Inbound frame messages."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("signbridge.frames.dropped",
		metric.WithDescription("Frames dropped without a prediction, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Predictions, err = m.Int64Counter("signbridge.predictions",
		metric.WithDescription("Prediction messages sent."),
	); err != nil {
		return nil, err
	}
	if met.Commits, err = m.Int64Counter("signbridge.commits",
		metric.WithDescription("Committed words by token."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("signbridge.active_sessions",
		metric.WithDescription("Number of open recognition sessions."),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("signbridge.pipeline.duration",
		metric.WithDescription("Per-frame latency from decode to decision."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("signbridge.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance built from
// [otel.GetMeterProvider] on first call.
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

// RecordDrop increments FramesDropped for reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCommit increments Commits for token.
func (m *Metrics) RecordCommit(ctx context.Context, token string) {
	m.Commits.Add(ctx, 1, metric.WithAttributes(attribute.String("token", token)))
}
