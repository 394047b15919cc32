package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/murmurlabs/murmurd/pipeline"

// latencyBuckets are histogram bucket boundaries in seconds, tuned for
// dictation stage latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

type metrics struct {
	runs           metric.Int64Counter
	droppedSamples metric.Int64Counter
	stageDuration  metric.Float64Histogram
}

func newMetrics() *metrics {
	m := otel.Meter(meterName)
	met := &metrics{}
	var err error

	if met.runs, err = m.Int64Counter("murmur.runs",
		metric.WithDescription("Total dictation runs by outcome."),
	); err != nil {
		met.runs = nil
	}
	if met.droppedSamples, err = m.Int64Counter("murmur.dropped_samples",
		metric.WithDescription("Session ring samples lost to overflow."),
	); err != nil {
		met.droppedSamples = nil
	}
	if met.stageDuration, err = m.Float64Histogram("murmur.stage.duration",
		metric.WithDescription("Latency of pipeline stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		met.stageDuration = nil
	}
	return met
}

func (m *metrics) recordRun(outcome string) {
	if m.runs == nil {
		return
	}
	m.runs.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) recordDropped(n int64) {
	if m.droppedSamples == nil || n <= 0 {
		return
	}
	m.droppedSamples.Add(context.Background(), n)
}

func (m *metrics) recordStage(stage string, seconds float64) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.Record(context.Background(), seconds,
		metric.WithAttributes(attribute.String("stage", stage)))
}
