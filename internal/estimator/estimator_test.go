package estimator

import (
	"testing"

	"github.com/autopack-ai/autopack/internal/types"
)

func phaseWith(category types.TaskCategory, complexity types.Complexity, deliverables int) *types.Phase {
	scope := types.Scope{}
	for i := 0; i < deliverables; i++ {
		scope.Deliverables = append(scope.Deliverables, "deliverable")
	}
	return &types.Phase{
		PhaseID:    "run1:p1",
		RunID:      "run1",
		Category:   category,
		Complexity: complexity,
		Scope:      scope,
	}
}

func TestBaselineBuffer(t *testing.T) {
	est := EstimatePhase(phaseWith(types.CategoryImplementation, types.ComplexityMedium, 2))
	if est.BufferFactor != BufferBaseline {
		t.Errorf("expected baseline buffer %v, got %v", BufferBaseline, est.BufferFactor)
	}
	if est.ExpectedTokens != 4800 {
		t.Errorf("expected 2*2400 tokens, got %d", est.ExpectedTokens)
	}
	if est.SelectedBudget != 5760 { // 4800 * 1.2
		t.Errorf("expected selected budget 5760, got %d", est.SelectedBudget)
	}
}

func TestBufferSelection(t *testing.T) {
	cases := []struct {
		name   string
		phase  *types.Phase
		buffer float64
	}{
		{"low confidence (unknown category)", phaseWith("unknown", types.ComplexityMedium, 1), BufferLowConfidence},
		{"many deliverables", phaseWith(types.CategoryImplementation, types.ComplexityMedium, 8), BufferManyDeliv},
		{"high risk high complexity", phaseWith(types.CategoryMigration, types.ComplexityHigh, 2), BufferHighRisk},
		{"doc synthesis", phaseWith(types.CategoryDocSynthesis, types.ComplexityLow, 1), BufferDocSynthesis},
	}
	for _, tc := range cases {
		est := EstimatePhase(tc.phase)
		if est.BufferFactor != tc.buffer {
			t.Errorf("%s: expected buffer %v, got %v", tc.name, tc.buffer, est.BufferFactor)
		}
	}
}

func TestSelectedBudgetBounds(t *testing.T) {
	// Tiny phase floors at the minimum budget
	est := EstimatePhase(phaseWith(types.CategoryAudit, types.ComplexityLow, 1))
	if est.SelectedBudget < MinSelectedBudget {
		t.Errorf("selected budget below floor: %d", est.SelectedBudget)
	}

	// Enormous phase clamps at the hard cap
	est = EstimatePhase(phaseWith(types.CategoryDocSynthesis, types.ComplexityHigh, 30))
	if est.SelectedBudget != MaxTokensHardCap {
		t.Errorf("expected hard cap %d, got %d", MaxTokensHardCap, est.SelectedBudget)
	}
}

func TestEnforceCeiling(t *testing.T) {
	cases := []struct {
		caller int64
		budget int64
		want   int64
	}{
		{4096, 16707, 16707}, // caller must not undercut the estimator
		{20000, 16707, 20000},
		{0, 8000, 8000},
		{-5, 8000, 8000}, // negative caller value treated as absent
		{8000, 8000, 8000},
	}
	for _, tc := range cases {
		if got := EnforceCeiling(tc.caller, tc.budget); got != tc.want {
			t.Errorf("EnforceCeiling(%d, %d): expected %d, got %d", tc.caller, tc.budget, tc.want, got)
		}
	}
}
