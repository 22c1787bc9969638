package ci

import "fmt"

// QualityReport is the quality-gate verdict fed into finalization
type QualityReport struct {
	IsBlocked bool   `json:"is_blocked"`
	Reason    string `json:"reason,omitempty"`
}

// Decision is the finalizer's verdict on whether a phase may complete
type Decision struct {
	CanComplete bool   `json:"can_complete"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// Finalizer decides whether a phase may transition to COMPLETE given its CI
// result, test regression delta, and quality-gate report.
type Finalizer struct{}

// NewFinalizer creates a finalizer
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Decide blocks completion when CI failed, when the regression severity is
// high, or when the quality report is blocked. A skipped CI run counts as
// passing. Nil delta and nil quality report mean no signal, not a veto.
func (f *Finalizer) Decide(ciResult *Result, delta *TestDelta, quality *QualityReport) *Decision {
	if ciResult != nil && !ciResult.Passed {
		reason := ciResult.Message
		if reason == "" {
			reason = "CI checks failed"
		}
		return &Decision{CanComplete: false, Status: "ci_failed", Reason: reason}
	}

	if severity := delta.RegressionSeverity(); severity == SeverityHigh {
		return &Decision{
			CanComplete: false,
			Status:      "regression",
			Reason: fmt.Sprintf("%d newly-failing previously-passing tests (severity %s)",
				delta.NewlyFailingCount, severity),
		}
	}

	if quality != nil && quality.IsBlocked {
		reason := quality.Reason
		if reason == "" {
			reason = "quality gate report is blocking"
		}
		return &Decision{CanComplete: false, Status: "quality_blocked", Reason: reason}
	}

	status := "passed"
	reason := "CI passed"
	if ciResult != nil && ciResult.Skipped {
		status = "skipped"
		reason = "CI skipped by configuration"
	}
	return &Decision{CanComplete: true, Status: status, Reason: reason}
}

// CoverageDelta extracts the coverage delta from a parsed CI result payload.
// Returns nil, never 0.0, whenever coverage data is absent: a real 0.0 delta
// is a legitimate measurement while "unknown" must not masquerade as
// "no change".
func CoverageDelta(result map[string]interface{}) *float64 {
	if result == nil {
		return nil
	}
	raw, ok := result["coverage"]
	if !ok || raw == nil {
		return nil
	}
	coverage, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	deltaRaw, ok := coverage["delta"]
	if !ok || deltaRaw == nil {
		return nil
	}
	switch v := deltaRaw.(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	default:
		return nil
	}
}
