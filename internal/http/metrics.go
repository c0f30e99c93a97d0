package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/instantiate/internal/metrics"
)

type routerMetrics struct {
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
}

func newRouterMetrics() routerMetrics {
	return routerMetrics{
		requestTotal: metrics.CounterVec(prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: metrics.HistogramVec(prometheus.HistogramOpts{
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route", "status"}),
		rateLimitHits: metrics.CounterVec(prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route"}),
		webhooks: metrics.CounterVec(prometheus.CounterOpts{
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by provider and outcome",
		}, []string{"provider", "outcome"}),
	}
}

func (m routerMetrics) recordRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

func (m routerMetrics) recordRateLimitHit(route string) {
	m.rateLimitHits.With(prometheus.Labels{"route": route}).Inc()
}

func (m routerMetrics) recordWebhook(provider, outcome string) {
	if provider == "" {
		provider = "unknown"
	}
	m.webhooks.With(prometheus.Labels{"provider": provider, "outcome": outcome}).Inc()
}
