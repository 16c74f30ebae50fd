// Package metrics provides Prometheus instrumentation for the attack engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors the orchestrator exposes.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	AttacksTotal  *prometheus.CounterVec
	AttacksActive prometheus.Gauge

	AgentRequestsTotal *prometheus.CounterVec
	AgentHealth        *prometheus.GaugeVec

	ErrorsTotal *prometheus.CounterVec

	BackpressureLevel prometheus.Gauge
	BufferedResults   prometheus.Gauge
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer
// (pass a fresh prometheus.NewRegistry() in tests to avoid global collisions).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_agent_requests_issued_total",
			Help: "Total number of requests issued to agents",
		}, []string{"service", "agent", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_agent_request_duration_seconds",
			Help:    "Agent request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service", "agent"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_requests_in_flight",
			Help: "Requests currently in flight across all agents",
		}),
		AttacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_attacks_total",
			Help: "Total number of attacks started, by final status",
		}, []string{"service", "status"}),
		AttacksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_attacks_active",
			Help: "Attacks currently running",
		}),
		AgentRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_agent_outcomes_total",
			Help: "Per-agent request outcomes",
		}, []string{"service", "agent", "outcome"}),
		AgentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_agent_health",
			Help: "Computed agent health score in [0,1]",
		}, []string{"service", "agent"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_errors_total",
			Help: "Total classified errors by kind",
		}, []string{"service", "kind"}),
		BackpressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_backpressure_level",
			Help: "Current backpressure severity (0=none..4=critical)",
		}),
		BufferedResults: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_buffered_results",
			Help: "Results currently queued in the buffered writer",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
			m.AttacksTotal, m.AttacksActive,
			m.AgentRequestsTotal, m.AgentHealth,
			m.ErrorsTotal, m.BackpressureLevel, m.BufferedResults,
		)
	}
	return m
}

// RecordAgentRequest records one completed agent RPC.
func (m *Metrics) RecordAgentRequest(service, agent, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(service, agent, status).Inc()
	m.RequestDuration.WithLabelValues(service, agent).Observe(d.Seconds())
}

// RecordAttackFinished records a terminal attack status.
func (m *Metrics) RecordAttackFinished(service, status string) {
	m.AttacksTotal.WithLabelValues(service, status).Inc()
}

// RecordError increments the error counter for kind.
func (m *Metrics) RecordError(service, kind string) {
	m.ErrorsTotal.WithLabelValues(service, kind).Inc()
}

// SetAgentHealth records an agent's computed health score.
func (m *Metrics) SetAgentHealth(service, agent string, health float64) {
	m.AgentHealth.WithLabelValues(service, agent).Set(health)
}

// RecordAgentOutcome increments the per-agent outcome counter.
func (m *Metrics) RecordAgentOutcome(service, agent, outcome string) {
	m.AgentRequestsTotal.WithLabelValues(service, agent, outcome).Inc()
}
