package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CrewMesh
type Metrics struct {
	// Routing metrics
	TasksRouted     *prometheus.CounterVec
	TasksRejected   prometheus.Counter
	RoutingDuration prometheus.Histogram
	PriorityBumps   *prometheus.CounterVec

	// Agent metrics
	AgentsRegistered prometheus.Gauge
	AgentLoad        *prometheus.GaugeVec
	AgentUtilization *prometheus.GaugeVec

	// Outcome metrics
	OutcomesTotal      *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec

	// Messaging metrics
	MessagesSent      *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	BroadcastDropped  prometheus.Counter

	// Learning metrics
	PatternsActive     *prometheus.GaugeVec
	ImprovementsActive prometheus.Gauge

	// System metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			// Routing metrics
			TasksRouted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crewmesh_tasks_routed_total",
					Help: "Total number of tasks routed to an agent",
				},
				[]string{"agent_id", "priority"},
			),
			TasksRejected: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "crewmesh_tasks_rejected_total",
					Help: "Total number of tasks rejected because no agent was available",
				},
			),
			RoutingDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "crewmesh_routing_duration_seconds",
					Help:    "Time spent scoring and selecting an agent",
					Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs to 1.6s
				},
			),
			PriorityBumps: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crewmesh_priority_bumps_total",
					Help: "Total number of automatic priority escalations",
				},
				[]string{"from", "to"},
			),

			// Agent metrics
			AgentsRegistered: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "crewmesh_agents_registered",
					Help: "Number of registered agents",
				},
			),
			AgentLoad: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "crewmesh_agent_load",
					Help: "Current task count per agent",
				},
				[]string{"agent_id"},
			),
			AgentUtilization: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "crewmesh_agent_utilization",
					Help: "Current load over capacity per agent, 0 to 1",
				},
				[]string{"agent_id"},
			),

			// Outcome metrics
			OutcomesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crewmesh_outcomes_total",
					Help: "Total number of reported task outcomes",
				},
				[]string{"agent_id", "success"},
			),
			CompletionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "crewmesh_completion_duration_seconds",
					Help:    "Task completion time in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to 2.3hrs
				},
				[]string{"agent_id"},
			),

			// Messaging metrics
			MessagesSent: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crewmesh_messages_sent_total",
					Help: "Total number of messages accepted into the durable queue",
				},
				[]string{"type"},
			),
			MessagesDelivered: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crewmesh_messages_delivered_total",
					Help: "Total number of messages read and archived by recipients",
				},
				[]string{"type"},
			),
			BroadcastDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "crewmesh_broadcast_dropped_total",
					Help: "Total number of ephemeral notifications that could not be published",
				},
			),

			// Learning metrics
			PatternsActive: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "crewmesh_patterns_active",
					Help: "Number of active learned patterns",
				},
				[]string{"type"}, // task, failure
			),
			ImprovementsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "crewmesh_improvements_active",
					Help: "Number of improvement proposals from the latest analysis run",
				},
			),

			// System metrics
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crewmesh_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "crewmesh_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordRouting records a completed routing decision
func (m *Metrics) RecordRouting(agentID, priority string, elapsed time.Duration) {
	m.TasksRouted.WithLabelValues(agentID, priority).Inc()
	m.RoutingDuration.Observe(elapsed.Seconds())
}

// RecordOutcome records a reported task outcome
func (m *Metrics) RecordOutcome(agentID string, success bool, completionTime time.Duration) {
	m.OutcomesTotal.WithLabelValues(agentID, strconv.FormatBool(success)).Inc()
	m.CompletionDuration.WithLabelValues(agentID).Observe(completionTime.Seconds())
}

// SetAgentLoad updates the per-agent load gauges
func (m *Metrics) SetAgentLoad(agentID string, load int, utilization float64) {
	m.AgentLoad.WithLabelValues(agentID).Set(float64(load))
	m.AgentUtilization.WithLabelValues(agentID).Set(utilization)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
