// Package metrics registers executor counters on the default Prometheus
// registry. No HTTP exposition happens here; an embedding process decides
// whether and where to serve them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhasesCompleted counts phases that reached COMPLETE
	PhasesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autopack",
		Name:      "phases_completed_total",
		Help:      "Phases that reached the COMPLETE state",
	})

	// PhasesFailed counts terminal failures by failure class
	PhasesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopack",
		Name:      "phases_failed_total",
		Help:      "Phases that reached the FAILED state",
	}, []string{"failure_class"})

	// TokensConsumed counts LLM tokens by agent role
	TokensConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopack",
		Name:      "tokens_consumed_total",
		Help:      "LLM tokens consumed by builder and auditor calls",
	}, []string{"role"})

	// BuilderAttempts counts builder rounds by disposition
	BuilderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopack",
		Name:      "builder_attempts_total",
		Help:      "Builder rounds by outcome disposition",
	}, []string{"disposition"})

	// BudgetEscalations counts one-time token budget escalations
	BudgetEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autopack",
		Name:      "budget_escalations_total",
		Help:      "Token budget escalations fired",
	})

	// CIRuns counts CI invocations by status
	CIRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopack",
		Name:      "ci_runs_total",
		Help:      "CI runs by final status",
	}, []string{"status"})

	// DoctorSessions counts diagnostic sessions by failure class
	DoctorSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopack",
		Name:      "doctor_sessions_total",
		Help:      "Diagnostics sessions by failure class",
	}, []string{"failure_class"})

	// PhaseDuration observes end-to-end phase execution time
	PhaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autopack",
		Name:      "phase_duration_seconds",
		Help:      "End-to-end phase execution duration",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
