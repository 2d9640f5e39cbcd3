// Package metrics exposes Prometheus instrumentation for the selection engine.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec
	CyclesSkipped      *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	StageScore         *prometheus.HistogramVec
	ExecutionDuration  *prometheus.HistogramVec
	CollaboratorErrors *prometheus.CounterVec
	InFlightCycles     prometheus.Gauge
	AgentsRegistered   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_cycles_total",
				Help: "Selection cycles run, by outcome",
			},
			[]string{"agent_id", "outcome"},
		),
		CyclesSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_cycles_skipped_total",
				Help: "Cycles skipped because the previous cycle was still in flight",
			},
			[]string{"agent_id"},
		),
		DecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_decisions_total",
				Help: "Recorded decisions, by kind",
			},
			[]string{"agent_id", "kind", "task_type"},
		),
		StageScore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpilot_stage_score",
				Help:    "Candidate scores at each pipeline stage",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"stage"},
		),
		ExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpilot_execution_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
			},
			[]string{"task_type", "success"},
		),
		CollaboratorErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_collaborator_errors_total",
				Help: "Degraded pipeline paths, by collaborator",
			},
			[]string{"collaborator"},
		),
		InFlightCycles: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskpilot_cycles_in_flight",
			Help: "Cycles currently running",
		}),
		AgentsRegistered: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskpilot_agents_registered",
			Help: "Agents registered with the engine",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordCycle counts a finished cycle.
func (m *Metrics) RecordCycle(agentID, outcome string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(agentID, outcome).Inc()
}

// RecordSkip counts a cycle skipped by the re-entrancy guard.
func (m *Metrics) RecordSkip(agentID string) {
	if m == nil {
		return
	}
	m.CyclesSkipped.WithLabelValues(agentID).Inc()
}

// RecordDecision counts a decision log entry.
func (m *Metrics) RecordDecision(agentID, kind, taskType string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(agentID, kind, taskType).Inc()
}

// ObserveStage records a candidate score at a pipeline stage.
func (m *Metrics) ObserveStage(stage string, score float64) {
	if m == nil {
		return
	}
	m.StageScore.WithLabelValues(stage).Observe(score)
}

// ObserveExecution records a task execution.
func (m *Metrics) ObserveExecution(taskType string, success bool, seconds float64) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.ExecutionDuration.WithLabelValues(taskType, label).Observe(seconds)
}

// CollaboratorError counts a degraded pipeline path.
func (m *Metrics) CollaboratorError(name string) {
	if m == nil {
		return
	}
	m.CollaboratorErrors.WithLabelValues(name).Inc()
}

// CycleStarted and CycleFinished track in-flight cycles.
func (m *Metrics) CycleStarted() {
	if m == nil {
		return
	}
	m.InFlightCycles.Inc()
}

func (m *Metrics) CycleFinished() {
	if m == nil {
		return
	}
	m.InFlightCycles.Dec()
}

// SetAgents sets the registered agent gauge.
func (m *Metrics) SetAgents(n int) {
	if m == nil {
		return
	}
	m.AgentsRegistered.Set(float64(n))
}
