package estimator

import (
	"fmt"
	"math"

	"github.com/autopack-ai/autopack/internal/events"
)

// Escalation policy constants
const (
	EscalationFactor     = 1.25
	UtilizationThreshold = 95.0
)

// Escalator decides one-time token ceiling escalations for a single phase.
// The fired flag is phase-local in-memory state: the executor holds
// single-writer access to a phase, so the check-then-set needs no lock. The
// persisted escalation_level column records the outcome for audit.
type Escalator struct {
	runID   string
	phaseID string
	fired   bool
}

// NewEscalator creates an escalator scoped to one phase execution
func NewEscalator(runID, phaseID string) *Escalator {
	return &Escalator{runID: runID, phaseID: phaseID}
}

// Fired reports whether this phase has already escalated
func (e *Escalator) Fired() bool {
	return e.fired
}

// ShouldEscalate reports whether the latest attempt's telemetry warrants an
// escalation. Truncation or near-total output utilization both qualify, but
// only the first time: subsequent truncations within the same phase do not
// escalate further.
func (e *Escalator) ShouldEscalate(wasTruncated bool, outputUtilization float64) bool {
	if e.fired {
		return false
	}
	return wasTruncated || outputUtilization >= UtilizationThreshold
}

// EscalatedBudget computes the new ceiling: min(round(base*1.25), 64000).
// The hard cap applies even when base*1.25 exceeds it.
func EscalatedBudget(base int64) int64 {
	escalated := int64(math.Round(float64(base) * EscalationFactor))
	if escalated > MaxTokensHardCap {
		return MaxTokensHardCap
	}
	return escalated
}

// Escalate marks the escalation fired and returns the new ceiling plus the
// telemetry event recording the decision. baseSource states which value the
// base was taken from, for forensic traceability.
func (e *Escalator) Escalate(base int64, baseSource events.BaseSource,
	wasTruncated bool, outputUtilization float64) (int64, *events.TokenBudgetEscalationEvent) {
	e.fired = true

	retryMax := EscalatedBudget(base)
	reason := "output_utilization"
	if wasTruncated {
		reason = "truncated"
	}

	ev := events.NewEscalationEvent(
		e.runID, e.phaseID,
		base, baseSource,
		retryMax, EscalationFactor,
		fmt.Sprintf("%s: escalating ceiling %d -> %d", reason, base, retryMax),
		wasTruncated, outputUtilization,
	)
	return retryMax, ev
}
