package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the harness.
type Metrics struct {
	HandlesTotal       prometheus.Gauge
	HandlesNotDisposed prometheus.Gauge
	HandlesReleased    prometheus.Gauge
	HandlesUnknown     prometheus.Gauge
	BatchesTotal       prometheus.Counter
	OperationsFailed   prometheus.Counter
	ReleasesFailed     prometheus.Counter
	BatchDuration      prometheus.Histogram
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HandlesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scopeleak_handles_total",
			Help: "Number of handles ever registered in the usage registry",
		}),
		HandlesNotDisposed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scopeleak_handles_not_disposed",
			Help: "Handles still usable at the last snapshot",
		}),
		HandlesReleased: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scopeleak_handles_released",
			Help: "Handles that rejected the probe as released at the last snapshot",
		}),
		HandlesUnknown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scopeleak_handles_unknown",
			Help: "Handles whose probe failed for another reason at the last snapshot",
		}),
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scopeleak_batches_total",
			Help: "Total number of batches run",
		}),
		OperationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "scopeleak_operations_failed_total",
			Help: "Total number of no-op operations that failed inside a batch",
		}),
		ReleasesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "scopeleak_releases_failed_total",
			Help: "Total number of scope releases that returned an error",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scopeleak_batch_duration_seconds",
			Help:    "Wall time of one batch from first scope to last release",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveBatch records one finished batch.
func (m *Metrics) ObserveBatch(duration time.Duration, failedOps, failedReleases int) {
	m.BatchesTotal.Inc()
	m.BatchDuration.Observe(duration.Seconds())
	m.OperationsFailed.Add(float64(failedOps))
	m.ReleasesFailed.Add(float64(failedReleases))
}

// SetUsage publishes the latest snapshot counts.
func (m *Metrics) SetUsage(total, notDisposed, released, unknown int) {
	m.HandlesTotal.Set(float64(total))
	m.HandlesNotDisposed.Set(float64(notDisposed))
	m.HandlesReleased.Set(float64(released))
	m.HandlesUnknown.Set(float64(unknown))
}
