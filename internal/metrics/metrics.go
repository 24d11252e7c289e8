// Package metrics holds the Prometheus instrumentation for the host.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the host.
type Metrics struct {
	registry *prometheus.Registry

	// Plugin RPC metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	RestartsTotal    *prometheus.CounterVec
	CollectorsActive prometheus.Gauge

	// Pipeline metrics
	ReadingsForwardedTotal prometheus.Counter
	PollErrorsTotal        *prometheus.CounterVec
}

// New creates and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_requests_total",
				Help: "Total number of RPC requests sent to plugins",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_request_duration_seconds",
				Help:    "Duration of plugin RPC requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		RestartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_restarts_total",
				Help: "Total number of plugin process restarts",
			},
			[]string{"collector"},
		),
		CollectorsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "collectors_active",
				Help: "Number of collector plugins currently serving",
			},
		),

		ReadingsForwardedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sensor_readings_forwarded_total",
				Help: "Total number of sensor readings forwarded to sinks",
			},
		),
		PollErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_errors_total",
				Help: "Total number of failed fetchSensors polls",
			},
			[]string{"collector"},
		),
	}

	m.registerMetrics()
	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.RequestsTotal)
	m.registry.MustRegister(m.RequestDuration)
	m.registry.MustRegister(m.RestartsTotal)
	m.registry.MustRegister(m.CollectorsActive)
	m.registry.MustRegister(m.ReadingsForwardedTotal)
	m.registry.MustRegister(m.PollErrorsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
