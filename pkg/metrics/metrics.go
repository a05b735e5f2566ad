// Package metrics provides metrics collection capabilities for the application.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metrics collectors for the application.
type Metrics struct {
	// Registry is the Prometheus registry for all metrics.
	Registry *prometheus.Registry

	// Admin API metrics
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestInFlight *prometheus.GaugeVec

	// Lifecycle metrics
	ServiceUp           *prometheus.GaugeVec
	ServiceInitTotal    *prometheus.CounterVec
	ServiceErrorTotal   *prometheus.CounterVec
	HealthCheckLatency  *prometheus.HistogramVec
	HealthCheckFailures *prometheus.CounterVec
	SystemDegraded      prometheus.Gauge

	// Bundle metrics
	BundleInstances  *prometheus.GaugeVec
	InstanceRestarts *prometheus.CounterVec
}

// Config holds the configuration for metrics.
type Config struct {
	// Namespace is the Prometheus namespace for all metrics.
	Namespace string
	// Subsystem is the Prometheus subsystem for all metrics.
	Subsystem string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "conductor",
		Subsystem: "",
	}
}

// New creates a new metrics collector with the given configuration.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,

		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_total",
				Help:      "Total number of requests received",
			},
			[]string{"method", "path", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RequestInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_in_flight",
				Help:      "Number of requests currently being served",
			},
			[]string{"handler"},
		),

		ServiceUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "service_up",
				Help:      "Whether a managed service is ready (1) or not (0)",
			},
			[]string{"service"},
		),

		ServiceInitTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "service_init_total",
				Help:      "Total number of successful service initializations",
			},
			[]string{"service"},
		),

		ServiceErrorTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "service_error_total",
				Help:      "Total number of service lifecycle errors",
			},
			[]string{"service"},
		),

		HealthCheckLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "health_check_latency_seconds",
				Help:      "Health check latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		HealthCheckFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "health_check_failures_total",
				Help:      "Total number of failed health checks",
			},
			[]string{"service"},
		),

		SystemDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "system_degraded",
				Help:      "Whether aggregate system health is degraded or worse (1) or healthy (0)",
			},
		),

		BundleInstances: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "bundle_instances",
				Help:      "Number of instances per bundle by status",
			},
			[]string{"bundle", "status"},
		),

		InstanceRestarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "instance_restarts_total",
				Help:      "Total number of automatic instance restarts",
			},
			[]string{"bundle", "service"},
		),
	}

	return m
}

// RecordRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	m.RequestCount.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns an HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
