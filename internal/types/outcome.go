package types

import "fmt"

// Disposition tags the outcome of a single builder/auditor attempt.
// Attempts report their outcome as data instead of using error types for
// control flow; Go errors are reserved for infrastructure faults (storage,
// IO) that the state machine cannot interpret.
type Disposition string

const (
	// DispositionSucceeded means the attempt produced an applicable patch
	DispositionSucceeded Disposition = "succeeded"
	// DispositionTransientExhausted means transient errors persisted past the
	// inline retry budget
	DispositionTransientExhausted Disposition = "transient_exhausted"
	// DispositionDeterministicFailed means the failure would repeat given
	// identical inputs (validation, schema, patch-apply) and is never retried inline
	DispositionDeterministicFailed Disposition = "deterministic_failed"
	// DispositionBudgetExceeded means a run- or phase-level token budget was hit
	DispositionBudgetExceeded Disposition = "budget_exceeded"
	// DispositionFatal means an unclassified programming error surfaced
	DispositionFatal Disposition = "fatal"
)

// IsValid checks if the disposition value is valid
func (d Disposition) IsValid() bool {
	switch d {
	case DispositionSucceeded, DispositionTransientExhausted,
		DispositionDeterministicFailed, DispositionBudgetExceeded, DispositionFatal:
		return true
	}
	return false
}

// AttemptOutcome is the result of one builder (and optional auditor) round.
type AttemptOutcome struct {
	Disposition Disposition `json:"disposition"`
	Status      string      `json:"status"`          // short machine status, e.g. "patch_applied"
	Detail      string      `json:"detail"`          // human-readable context for the ledger
	PatchPaths  []string    `json:"patch_paths"`     // files the patch touches
	TokensUsed  int64       `json:"tokens_used"`     // input+output tokens consumed by the round
	Truncated   bool        `json:"truncated"`       // output hit the ceiling
	Utilization float64     `json:"utilization_pct"` // output tokens / ceiling * 100
	Hint        string      `json:"hint,omitempty"`  // accumulated guidance for the next retry
}

// Success reports whether the attempt produced an applicable patch
func (o *AttemptOutcome) Success() bool {
	return o.Disposition == DispositionSucceeded
}

func (o *AttemptOutcome) String() string {
	return fmt.Sprintf("%s (%s)", o.Disposition, o.Status)
}
