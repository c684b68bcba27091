// Package observability exposes the Prometheus metrics for the runtime:
// conversation turns, lane queue pressure, background tasks, memory size,
// and dashboard HTTP traffic.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector, registered against its own registry so
// tests can build isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	// TurnCounter tracks conversation turns by source and status
	// (success|error).
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: source
	TurnDuration *prometheus.HistogramVec

	// OverflowRecoveries counts context-overflow recovery cycles by kind
	// (compact|truncate).
	OverflowRecoveries *prometheus.CounterVec

	// QueueDepth is the current global lane queue depth.
	QueueDepth prometheus.Gauge

	// ActiveLanes is the number of live conversation lanes.
	ActiveLanes prometheus.Gauge

	// TaskCounter counts background task completions by terminal status.
	TaskCounter *prometheus.CounterVec

	// AutonomousTicks counts autonomous loop outcomes
	// (run|skip|failure).
	AutonomousTicks *prometheus.CounterVec

	// MemoryEntries is the current raw memory entry count.
	MemoryEntries prometheus.Gauge

	// HTTPRequestCounter counts dashboard requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures dashboard request latency in seconds.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxclaw_turns_total",
				Help: "Total conversation turns by source and status",
			},
			[]string{"source", "status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nxclaw_turn_duration_seconds",
				Help:    "End-to-end conversation turn latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		),

		OverflowRecoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxclaw_overflow_recoveries_total",
				Help: "Context-overflow recovery cycles by kind",
			},
			[]string{"kind"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nxclaw_queue_depth",
				Help: "Current global lane queue depth",
			},
		),

		ActiveLanes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nxclaw_active_lanes",
				Help: "Current number of live conversation lanes",
			},
		),

		TaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxclaw_tasks_total",
				Help: "Background task completions by terminal status",
			},
			[]string{"status"},
		),

		AutonomousTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxclaw_autonomous_ticks_total",
				Help: "Autonomous loop outcomes",
			},
			[]string{"outcome"},
		),

		MemoryEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nxclaw_memory_entries",
				Help: "Current raw memory entry count",
			},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxclaw_http_requests_total",
				Help: "Total dashboard HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nxclaw_http_request_duration_seconds",
				Help:    "Dashboard HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
	}
}

// RecordTurn records one conversation turn outcome.
func (m *Metrics) RecordTurn(source, status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(source, status).Inc()
	m.TurnDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordOverflowRecovery records one recovery cycle.
func (m *Metrics) RecordOverflowRecovery(kind string) {
	m.OverflowRecoveries.WithLabelValues(kind).Inc()
}

// RecordTask records a finished background task.
func (m *Metrics) RecordTask(status string) {
	m.TaskCounter.WithLabelValues(status).Inc()
}

// RecordAutonomousTick records an autonomous loop outcome.
func (m *Metrics) RecordAutonomousTick(outcome string) {
	m.AutonomousTicks.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one dashboard request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// SetPressure updates the queue and lane gauges from a state snapshot.
func (m *Metrics) SetPressure(queueDepth, activeLanes int) {
	m.QueueDepth.Set(float64(queueDepth))
	m.ActiveLanes.Set(float64(activeLanes))
}
