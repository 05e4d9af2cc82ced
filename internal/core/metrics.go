package core

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "campaigntasks"

// PrometheusMetrics records request and task queue metrics on its own
// registry. It implements MetricsCollector and the task queue's recorder.
type PrometheusMetrics struct {
	registry       *prometheus.Registry
	requestLatency *prometheus.HistogramVec
	requestCount   *prometheus.CounterVec
	taskOperations *prometheus.CounterVec
}

// NewPrometheusMetrics registers the service metrics plus the Go runtime and
// process collectors on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests by route.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "endpoint", "status"}),
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "endpoint", "status"}),
		taskOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_operations_total",
			Help:      "Task queue operations by kind and outcome.",
		}, []string{"op", "outcome"}),
	}
}

// RecordRequest implements MetricsCollector.
func (m *PrometheusMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.requestLatency.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
	m.requestCount.WithLabelValues(method, endpoint, status).Inc()
}

// RecordTaskOperation counts one create, edit or delete and its outcome.
func (m *PrometheusMetrics) RecordTaskOperation(op, outcome string) {
	m.taskOperations.WithLabelValues(op, outcome).Inc()
}

// Registry exposes the registry for tests and additional collectors.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
