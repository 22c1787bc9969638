package events

import (
	"math"
	"testing"
)

func TestWasteRatioIsRatioNotPercent(t *testing.T) {
	// 2000 predicted, 1000 actual: ratio 2.0, not 200
	if got := WasteRatio(2000, 1000); got != 2.0 {
		t.Errorf("expected 2.0, got %v", got)
	}
	if got := WasteRatio(500, 1000); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
	if got := WasteRatio(1000, 0); got != 0 {
		t.Errorf("zero actual should yield 0, got %v", got)
	}
}

func TestSMAPEPercent(t *testing.T) {
	// Exact prediction: 0% error
	if got := SMAPEPercent(1000, 1000); got != 0 {
		t.Errorf("exact prediction should be 0, got %v", got)
	}
	// 2x over-prediction: |2000-1000| / 1500 * 100 = 66.67
	got := SMAPEPercent(2000, 1000)
	if math.Abs(got-66.666) > 0.01 {
		t.Errorf("expected ~66.67, got %v", got)
	}
	if got := SMAPEPercent(0, 0); got != 0 {
		t.Errorf("both zero should be 0, got %v", got)
	}
}

func TestNewTokenEstimationEventDerivedFields(t *testing.T) {
	ev := NewTokenEstimationEvent("run1", "run1:p1", 2, "implementation", "medium",
		12_000, 8_000, true, "max_tokens")
	if ev.ID == "" {
		t.Error("event id should be populated")
	}
	if ev.WasteRatio != 1.5 {
		t.Errorf("expected waste ratio 1.5, got %v", ev.WasteRatio)
	}
	if !ev.Truncated || ev.StopReason != "max_tokens" {
		t.Error("truncation fields should round-trip")
	}
	if ev.RetryAttempt != 2 {
		t.Errorf("retry attempt should round-trip, got %d", ev.RetryAttempt)
	}
}

func TestBaseSourceValidation(t *testing.T) {
	for _, s := range []BaseSource{BaseSelectedBudget, BaseActualMaxTokens, BaseTokensUsed, BaseComplexityDefault} {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if BaseSource("guesswork").IsValid() {
		t.Error("unknown base source should be invalid")
	}
}
