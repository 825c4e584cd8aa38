package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Warden.
// Uses a custom registry, no global state. All Record methods are nil-safe.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Policy decisions.
	DecisionsTotal *prometheus.CounterVec

	// Dispatcher.
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Isolation worker and runners.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	ApprovalQueueDepth     prometheus.Gauge
	WebhookDeliveriesTotal *prometheus.CounterVec
	QuotaVerdictsTotal     *prometheus.CounterVec

	// HTTP admin API.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "sandbox",
			Name:      "decisions_total",
			Help:      "Sandbox policy decisions by recorded outcome.",
		}, []string{"mode", "outcome", "audit_only"}),

		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Tool dispatches by final status and route.",
		}, []string{"status", "route"}),

		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "executions_total",
			Help:      "Isolation worker executions.",
		}, []string{"type", "status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "execution_duration_seconds",
			Help:      "Isolation worker execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"type"}),

		ApprovalQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "approval",
			Name:      "queue_depth",
			Help:      "Work requests waiting for approval.",
		}),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "alerting",
			Name:      "webhook_deliveries_total",
			Help:      "Denial alert webhook deliveries.",
		}, []string{"outcome"}),

		QuotaVerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "quota",
			Name:      "verdicts_total",
			Help:      "Planner quota verdicts that stopped a dispatch.",
		}, []string{"verdict"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.DispatchesTotal,
		m.DispatchDuration,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.ApprovalQueueDepth,
		m.WebhookDeliveriesTotal,
		m.QuotaVerdictsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordDispatch counts one finished dispatch.
func (m *MetricsCollector) RecordDispatch(status, route string, seconds float64) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(status, route).Inc()
	m.DispatchDuration.WithLabelValues(status).Observe(seconds)
}

// RecordWebhookDelivery satisfies alerting.DeliveryRecorder.
func (m *MetricsCollector) RecordWebhookDelivery(outcome string) {
	if m == nil {
		return
	}
	m.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// SetApprovalDepth is fed from the approval queue's depth callback.
func (m *MetricsCollector) SetApprovalDepth(depth int) {
	if m == nil {
		return
	}
	m.ApprovalQueueDepth.Set(float64(depth))
}
