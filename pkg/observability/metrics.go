// Package observability wires Prometheus metrics and OpenTelemetry tracing
// into a session through the session.Instrumentation interface. Everything
// here is optional; sessions default to no-op instrumentation.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the session metrics collectors.
type MetricsConfig struct {
	// Namespace defaults to "mcp".
	Namespace string
	Subsystem string

	// HistogramBuckets are latency buckets in milliseconds.
	HistogramBuckets []float64

	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels

	// Registerer defaults to the process-global registry.
	Registerer prometheus.Registerer
}

// SessionMetrics holds the collectors for one process's sessions.
type SessionMetrics struct {
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	inboundTotal     *prometheus.CounterVec
	pendingRequests  prometheus.Gauge
	stateTransitions *prometheus.CounterVec
}

// NewSessionMetrics creates and registers the collectors. Double
// registration on the same registry is tolerated so several sessions can
// share one SessionMetrics.
func NewSessionMetrics(cfg MetricsConfig) (*SessionMetrics, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "mcp"
	}
	if cfg.HistogramBuckets == nil {
		cfg.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	m := &SessionMetrics{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "request_duration_milliseconds",
				Help:        "Duration of outbound requests in milliseconds",
				Buckets:     cfg.HistogramBuckets,
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"method", "status"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "request_total",
				Help:        "Total number of outbound requests",
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"method", "status"},
		),
		inboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "inbound_total",
				Help:        "Total number of inbound requests and notifications dispatched",
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"method", "kind", "status"},
		),
		pendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "pending_requests",
				Help:        "Outbound requests awaiting a response",
				ConstLabels: cfg.ConstLabels,
			},
		),
		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "state_transitions_total",
				Help:        "Session state machine transitions",
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"from", "to"},
		),
	}

	collectors := []prometheus.Collector{
		m.requestDuration,
		m.requestTotal,
		m.inboundTotal,
		m.pendingRequests,
		m.stateTransitions,
	}
	for _, c := range collectors {
		if err := cfg.Registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return m, nil
}

// Handler returns the Prometheus exposition handler for the default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *SessionMetrics) observeRequest(method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	m.requestDuration.WithLabelValues(method, status).Observe(ms)
	m.requestTotal.WithLabelValues(method, status).Inc()
}

func (m *SessionMetrics) observeInbound(method, kind, status string) {
	m.inboundTotal.WithLabelValues(method, kind, status).Inc()
}

func (m *SessionMetrics) observePending(n int) {
	m.pendingRequests.Set(float64(n))
}

func (m *SessionMetrics) observeTransition(from, to string) {
	m.stateTransitions.WithLabelValues(from, to).Inc()
}
