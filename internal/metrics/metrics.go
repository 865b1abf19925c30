// Package metrics exposes Prometheus collectors for the orchestrator's
// spend, admission, and workflow activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zaggy/mcc/pkg/models"
)

// Metrics holds all Prometheus metric collectors for mcc.
type Metrics struct {
	registry *prometheus.Registry

	// LLM call metrics.
	CallsTotal       *prometheus.CounterVec
	TokensTotal      *prometheus.CounterVec
	SpendMicroUSD    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// Budget metrics.
	BlocksTotal         *prometheus.CounterVec
	AlertsTotal         *prometheus.CounterVec
	InFlightReservation prometheus.Gauge
	Paused              prometheus.Gauge

	// Workflow metrics.
	TaskTransitionsTotal *prometheus.CounterVec
	MessagesRoutedTotal  prometheus.Counter
	EscalationsTotal     *prometheus.CounterVec

	// Server lifecycle.
	StartTime prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcc_llm_calls_total",
			Help: "Total number of LLM calls by admission outcome.",
		}, []string{"outcome", "agent_type"}),

		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcc_llm_tokens_total",
			Help: "Total tokens consumed by direction and model.",
		}, []string{"direction", "model"}),

		SpendMicroUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcc_spend_microusd_total",
			Help: "Total settled spend in micro-USD by project.",
		}, []string{"project"}),

		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcc_provider_duration_seconds",
			Help:    "LLM provider call duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model"}),

		BlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcc_budget_blocks_total",
			Help: "Total calls refused by a budget limit.",
		}, []string{"scope_type"}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcc_budget_alerts_total",
			Help: "Total budget threshold alerts by severity.",
		}, []string{"severity"}),

		InFlightReservation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcc_inflight_reservations",
			Help: "Number of admitted calls not yet settled or released.",
		}),

		Paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcc_paused",
			Help: "1 while the system-wide spending pause is engaged.",
		}),

		TaskTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcc_task_transitions_total",
			Help: "Total task status transitions by destination status.",
		}, []string{"to"}),

		MessagesRoutedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcc_messages_routed_total",
			Help: "Total messages routed between agents.",
		}),

		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcc_escalations_total",
			Help: "Total escalations raised, by cause.",
		}, []string{"cause"}),

		StartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcc_server_start_time_seconds",
			Help: "Unix timestamp when the process started.",
		}),
	}

	reg.MustRegister(
		m.CallsTotal,
		m.TokensTotal,
		m.SpendMicroUSD,
		m.ProviderDuration,
		m.BlocksTotal,
		m.AlertsTotal,
		m.InFlightReservation,
		m.Paused,
		m.TaskTransitionsTotal,
		m.MessagesRoutedTotal,
		m.EscalationsTotal,
		m.StartTime,
	)

	m.StartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCall counts an admitted or refused call.
func (m *Metrics) RecordCall(outcome string, agentType models.AgentType) {
	m.CallsTotal.WithLabelValues(outcome, string(agentType)).Inc()
}

// RecordSettle records a settled usage record's tokens and cost.
func (m *Metrics) RecordSettle(r *models.UsageRecord) {
	m.TokensTotal.WithLabelValues("in", r.Model).Add(float64(r.TokensIn))
	m.TokensTotal.WithLabelValues("out", r.Model).Add(float64(r.TokensOut))
	project := r.Attribution.ProjectID
	if project == "" {
		project = "none"
	}
	m.SpendMicroUSD.WithLabelValues(project).Add(float64(r.Cost))
	m.ProviderDuration.WithLabelValues(r.Model).Observe(r.Duration.Seconds())
}

// RecordBlock counts a budget refusal at the given scope.
func (m *Metrics) RecordBlock(scope models.ScopeType) {
	m.BlocksTotal.WithLabelValues(string(scope)).Inc()
}

// RecordAlert counts a threshold alert.
func (m *Metrics) RecordAlert(severity string) {
	m.AlertsTotal.WithLabelValues(severity).Inc()
}

// SetInFlight publishes the current reservation count.
func (m *Metrics) SetInFlight(n int) {
	m.InFlightReservation.Set(float64(n))
}

// SetPaused publishes the pause state.
func (m *Metrics) SetPaused(paused bool) {
	if paused {
		m.Paused.Set(1)
	} else {
		m.Paused.Set(0)
	}
}

// RecordTransition counts a task status change.
func (m *Metrics) RecordTransition(to models.TaskStatus) {
	m.TaskTransitionsTotal.WithLabelValues(string(to)).Inc()
}

// RecordMessage counts a routed message.
func (m *Metrics) RecordMessage() {
	m.MessagesRoutedTotal.Inc()
}

// RecordEscalation counts an escalation by cause.
func (m *Metrics) RecordEscalation(budgetBlocked bool) {
	cause := "provider_failure"
	if budgetBlocked {
		cause = "budget_block"
	}
	m.EscalationsTotal.WithLabelValues(cause).Inc()
}
