package budget

import (
	"errors"
	"testing"

	"github.com/autopack-ai/autopack/internal/types"
)

func capOf(v int64) *int64 { return &v }

func TestNilCapNeverExhausted(t *testing.T) {
	for _, used := range []int64{0, 1, 1_000_000, 1 << 40} {
		if IsBudgetExhausted(nil, used) {
			t.Errorf("nil cap must never exhaust (used=%d)", used)
		}
		if got := BudgetRemainingPct(nil, used); got != 1.0 {
			t.Errorf("nil cap remaining should be 1.0, got %v (used=%d)", got, used)
		}
	}
}

func TestExhaustionBoundary(t *testing.T) {
	cases := []struct {
		cap       int64
		used      int64
		exhausted bool
	}{
		{1000, 999, false},
		{1000, 1000, true},
		{1000, 1001, true},
		{1, 0, false},
		{1, 1, true},
	}
	for _, tc := range cases {
		if got := IsBudgetExhausted(capOf(tc.cap), tc.used); got != tc.exhausted {
			t.Errorf("cap=%d used=%d: expected exhausted=%v, got %v", tc.cap, tc.used, tc.exhausted, got)
		}
	}
}

func TestRemainingPctMonotonicAndClamped(t *testing.T) {
	cap := capOf(10_000)
	prev := 1.1
	for used := int64(0); used <= 15_000; used += 500 {
		got := BudgetRemainingPct(cap, used)
		if got < 0.0 || got > 1.0 {
			t.Fatalf("remaining pct out of range at used=%d: %v", used, got)
		}
		if got > prev {
			t.Fatalf("remaining pct increased at used=%d: %v > %v", used, got, prev)
		}
		prev = got
	}
	if BudgetRemainingPct(cap, 20_000) != 0.0 {
		t.Error("overspent budget should clamp to 0.0")
	}
}

func TestPhaseCapMultipliers(t *testing.T) {
	if got := PhaseTokenCap(100_000, types.CategoryResearch); got != 150_000 {
		t.Errorf("research cap: expected 150000, got %d", got)
	}
	if got := PhaseTokenCap(100_000, types.CategoryAudit); got != 30_000 {
		t.Errorf("audit cap: expected 30000, got %d", got)
	}
	if got := PhaseTokenCap(100_000, types.CategoryImplementation); got != 100_000 {
		t.Errorf("implementation cap: expected default, got %d", got)
	}
	// Zero default falls back to the package default
	if got := PhaseTokenCap(0, types.CategoryImplementation); got != DefaultPhaseTokenCap {
		t.Errorf("zero default: expected %d, got %d", DefaultPhaseTokenCap, got)
	}
}

func TestCheckRunBudgetSentinel(t *testing.T) {
	run := &types.Run{ID: "run1", TokenCap: capOf(500), TokensUsed: 500}
	err := CheckRunBudget(run)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}

	run.TokensUsed = 499
	if err := CheckRunBudget(run); err != nil {
		t.Errorf("under budget should pass: %v", err)
	}

	run.TokenCap = nil
	run.TokensUsed = 1 << 50
	if err := CheckRunBudget(run); err != nil {
		t.Errorf("unlimited run should pass: %v", err)
	}
}

func TestCheckPhaseBudgetSentinel(t *testing.T) {
	phase := &types.Phase{
		PhaseID:    "run1:audit-1",
		Category:   types.CategoryAudit,
		TokensUsed: 30_000, // audit multiplier 0.3 on 100k default
	}
	err := CheckPhaseBudget(phase, 100_000)
	if !errors.Is(err, ErrPhaseBudgetExceeded) {
		t.Fatalf("expected ErrPhaseBudgetExceeded, got %v", err)
	}

	phase.TokensUsed = 29_999
	if err := CheckPhaseBudget(phase, 100_000); err != nil {
		t.Errorf("under phase budget should pass: %v", err)
	}
}
