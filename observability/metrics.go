package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	fusionMetricsOnce sync.Once
	fusionRegistry    *FusionMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP API
// activity of the fusion daemon.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusion",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusion",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fusion",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusion",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limits or quotas.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module = normalizeLabel(module)
	method = normalizeLabel(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the module and reason.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(module), normalizeLabel(reason)).Inc()
}

// FusionMetrics implements fusion.Metrics on Prometheus collectors.
type FusionMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	volume      prometheus.Gauge
}

// Fusion returns the process-wide engine metrics.
func Fusion() *FusionMetrics {
	fusionMetricsOnce.Do(func() {
		fusionRegistry = &FusionMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusion",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine messages segmented by operation and result code.",
			}, []string{"op", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fusion",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency of engine messages including settlement.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			}, []string{"op"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusion",
				Subsystem: "engine",
				Name:      "transitions_total",
				Help:      "Committed order status transitions.",
			}, []string{"from", "to"}),
			volume: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fusion",
				Subsystem: "engine",
				Name:      "total_volume",
				Help:      "Gross amount settled across all fills.",
			}),
		}
		prometheus.MustRegister(
			fusionRegistry.operations,
			fusionRegistry.latency,
			fusionRegistry.transitions,
			fusionRegistry.volume,
		)
	})
	return fusionRegistry
}

// ObserveOperation records one engine message. An empty code means success.
func (m *FusionMetrics) ObserveOperation(op, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.operations.WithLabelValues(normalizeLabel(op), code).Inc()
	m.latency.WithLabelValues(normalizeLabel(op)).Observe(elapsed.Seconds())
}

// ObserveTransition counts a committed status change.
func (m *FusionMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// SetTotalVolume publishes the running volume.
func (m *FusionMetrics) SetTotalVolume(volume float64) {
	if m == nil {
		return
	}
	m.volume.Set(volume)
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
