// Package events defines the append-only telemetry event records the
// executor writes during phase execution.
//
// Telemetry is a pure audit trail: rows are written in attempt order, never
// updated or deleted, and never read back to drive control flow. Offline
// tuning and the `autopack telemetry` report are the only consumers.
package events

import (
	"time"
)

// BaseSource identifies which value an escalation was computed from.
// "selected_budget" means we escalated from the estimator's intent;
// "actual_max_tokens" means we escalated from the ceiling that was actually
// enforced. The distinction matters when diagnosing why an escalation did or
// didn't help.
type BaseSource string

const (
	BaseSelectedBudget    BaseSource = "selected_budget"
	BaseActualMaxTokens   BaseSource = "actual_max_tokens"
	BaseTokensUsed        BaseSource = "tokens_used"
	BaseComplexityDefault BaseSource = "complexity_default"
)

// IsValid checks if the base source value is valid
func (b BaseSource) IsValid() bool {
	switch b {
	case BaseSelectedBudget, BaseActualMaxTokens, BaseTokensUsed, BaseComplexityDefault:
		return true
	}
	return false
}

// TokenEstimationEvent records predicted vs. actual tokens for one LLM call
// attempt. One row per call.
type TokenEstimationEvent struct {
	ID              string    `json:"id"`
	RunID           string    `json:"run_id"`
	PhaseID         string    `json:"phase_id"`
	RetryAttempt    int       `json:"retry_attempt"`
	Category        string    `json:"category"`
	Complexity      string    `json:"complexity"`
	PredictedTokens int64     `json:"predicted_tokens"`
	ActualTokens    int64     `json:"actual_tokens"`
	WasteRatio      float64   `json:"waste_ratio"`   // predicted/actual, a ratio not a percent
	SMAPEPercent    float64   `json:"smape_percent"` // symmetric mean abs pct error of the estimate
	Truncated       bool      `json:"truncated"`
	StopReason      string    `json:"stop_reason"`
	CreatedAt       time.Time `json:"created_at"`
}

// TokenBudgetEscalationEvent records one escalation decision.
type TokenBudgetEscalationEvent struct {
	ID                string     `json:"id"`
	RunID             string     `json:"run_id"`
	PhaseID           string     `json:"phase_id"`
	BaseValue         int64      `json:"base_value"`
	BaseSource        BaseSource `json:"base_source"`
	RetryMaxTokens    int64      `json:"retry_max_tokens"`
	EscalationFactor  float64    `json:"escalation_factor"`
	Reason            string     `json:"reason"`
	WasTruncated      bool       `json:"was_truncated"`
	OutputUtilization float64    `json:"output_utilization"`
	CreatedAt         time.Time  `json:"created_at"`
}

// DoctorOutcomeEvent records a diagnostics-driven recommendation and the
// eventual phase outcome it fed into.
type DoctorOutcomeEvent struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	PhaseID        string    `json:"phase_id"`
	FailureClass   string    `json:"failure_class"`
	Recommendation string    `json:"recommendation"`
	LedgerSummary  string    `json:"ledger_summary"`
	PhaseOutcome   string    `json:"phase_outcome"`
	CreatedAt      time.Time `json:"created_at"`
}
