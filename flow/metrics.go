package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus-compatible metrics for engine monitoring.
//
// Metrics exposed (all namespaced with "flowrun_"):
//
//  1. executions_running (gauge): executions currently RUNNING.
//  2. executions_total (counter): terminal executions by status label.
//  3. node_latency_ms (histogram): node execution duration by node type
//     and success label.
//  4. node_failures_total (counter): executor errors by node type.
//  5. trigger_fires_total (counter): trigger submissions by kind
//     (manual, schedule, file_event).
//
// All methods are nil-safe: a nil *Metrics records nothing, so the
// engine can call them unconditionally.
type Metrics struct {
	executionsRunning prometheus.Gauge
	executionsTotal   *prometheus.CounterVec
	nodeLatency       *prometheus.HistogramVec
	nodeFailures      *prometheus.CounterVec
	triggerFires      *prometheus.CounterVec
}

// NewMetrics creates and registers the engine metrics with the provided
// registerer (use prometheus.DefaultRegisterer for the global registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowrun",
			Name:      "executions_running",
			Help:      "Number of executions currently running.",
		}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowrun",
			Name:      "executions_total",
			Help:      "Terminal executions by status.",
		}, []string{"status"}),
		nodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowrun",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_type", "status"}),
		nodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowrun",
			Name:      "node_failures_total",
			Help:      "Executor errors by node type.",
		}, []string{"node_type"}),
		triggerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowrun",
			Name:      "trigger_fires_total",
			Help:      "Trigger submissions by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.executionsRunning,
		m.executionsTotal,
		m.nodeLatency,
		m.nodeFailures,
		m.triggerFires,
	)

	return m
}

// ExecutionStarted increments the running gauge.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.executionsRunning.Inc()
}

// ExecutionFinished decrements the running gauge and counts the
// terminal status.
func (m *Metrics) ExecutionFinished(status ExecutionStatus) {
	if m == nil {
		return
	}
	m.executionsRunning.Dec()
	m.executionsTotal.WithLabelValues(string(status)).Inc()
}

// NodeExecuted records a node's duration and outcome.
func (m *Metrics) NodeExecuted(nodeType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
		m.nodeFailures.WithLabelValues(nodeType).Inc()
	}
	m.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(duration.Milliseconds()))
}

// TriggerFired counts a trigger submission by kind.
func (m *Metrics) TriggerFired(kind string) {
	if m == nil {
		return
	}
	m.triggerFires.WithLabelValues(kind).Inc()
}
