package report

import (
	"context"

	"scopeleak/internal/platform/metrics"
)

// MetricsSink mirrors the latest usage into Prometheus gauges.
type MetricsSink struct {
	metrics *metrics.Metrics
}

func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Report(_ context.Context, r Round) error {
	s.metrics.SetUsage(r.Usage.Total, r.Usage.NotDisposed, r.Usage.Released, r.Usage.Unknown)
	return nil
}
