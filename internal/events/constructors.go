package events

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// WasteRatio computes predicted/actual as a ratio. Returns 0 when actual is
// zero (no output to compare against).
func WasteRatio(predicted, actual int64) float64 {
	if actual <= 0 {
		return 0
	}
	return float64(predicted) / float64(actual)
}

// SMAPEPercent computes the symmetric mean absolute percentage error of a
// single prediction, in [0, 200].
func SMAPEPercent(predicted, actual int64) float64 {
	denom := (math.Abs(float64(predicted)) + math.Abs(float64(actual))) / 2
	if denom == 0 {
		return 0
	}
	return math.Abs(float64(predicted)-float64(actual)) / denom * 100
}

// NewTokenEstimationEvent creates an estimation telemetry row with the
// derived waste ratio and SMAPE filled in.
func NewTokenEstimationEvent(runID, phaseID string, retryAttempt int, category, complexity string,
	predicted, actual int64, truncated bool, stopReason string) *TokenEstimationEvent {
	return &TokenEstimationEvent{
		ID:              uuid.New().String(),
		RunID:           runID,
		PhaseID:         phaseID,
		RetryAttempt:    retryAttempt,
		Category:        category,
		Complexity:      complexity,
		PredictedTokens: predicted,
		ActualTokens:    actual,
		WasteRatio:      WasteRatio(predicted, actual),
		SMAPEPercent:    SMAPEPercent(predicted, actual),
		Truncated:       truncated,
		StopReason:      stopReason,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewEscalationEvent creates an escalation telemetry row
func NewEscalationEvent(runID, phaseID string, baseValue int64, baseSource BaseSource,
	retryMaxTokens int64, factor float64, reason string, wasTruncated bool, utilization float64) *TokenBudgetEscalationEvent {
	return &TokenBudgetEscalationEvent{
		ID:                uuid.New().String(),
		RunID:             runID,
		PhaseID:           phaseID,
		BaseValue:         baseValue,
		BaseSource:        baseSource,
		RetryMaxTokens:    retryMaxTokens,
		EscalationFactor:  factor,
		Reason:            reason,
		WasTruncated:      wasTruncated,
		OutputUtilization: utilization,
		CreatedAt:         time.Now().UTC(),
	}
}

// NewDoctorOutcomeEvent creates a diagnostics outcome telemetry row
func NewDoctorOutcomeEvent(runID, phaseID, failureClass, recommendation, ledgerSummary, phaseOutcome string) *DoctorOutcomeEvent {
	return &DoctorOutcomeEvent{
		ID:             uuid.New().String(),
		RunID:          runID,
		PhaseID:        phaseID,
		FailureClass:   failureClass,
		Recommendation: recommendation,
		LedgerSummary:  ledgerSummary,
		PhaseOutcome:   phaseOutcome,
		CreatedAt:      time.Now().UTC(),
	}
}
