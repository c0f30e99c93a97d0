package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/instantiate/internal/metrics"
)

type managerMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newManagerMetrics() managerMetrics {
	return managerMetrics{
		operations: metrics.CounterVec(prometheus.CounterOpts{
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Deploy and destroy outcomes",
		}, []string{"operation", "outcome"}),
		duration: metrics.HistogramVec(prometheus.HistogramOpts{
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Deploy and destroy wall time",
			Buckets:   metrics.DurationBuckets,
		}, []string{"operation"}),
	}
}

func (m managerMetrics) observe(operation, outcome string, start time.Time) {
	m.operations.With(prometheus.Labels{"operation": operation, "outcome": outcome}).Inc()
	m.duration.With(prometheus.Labels{"operation": operation}).Observe(time.Since(start).Seconds())
}
