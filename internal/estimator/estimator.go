// Package estimator sizes the output token budget for each LLM call and
// decides one-time budget escalations after truncation evidence.
package estimator

import (
	"math"

	"github.com/autopack-ai/autopack/internal/types"
)

// Budget bounds. MaxTokensHardCap bounds the worst-case cost of a single
// call regardless of multiplier math.
const (
	MinSelectedBudget int64 = 1024
	MaxTokensHardCap  int64 = 64000
)

// Buffer margins applied to the raw estimate. When several apply, the
// largest wins.
const (
	BufferBaseline       = 1.2
	BufferLowConfidence  = 1.4
	BufferManyDeliv      = 1.6
	BufferHighRisk       = 1.6
	BufferDocSynthesis   = 2.2
	manyDeliverableCount = 8
)

// perDeliverableTokens is the raw output estimate per deliverable by category
var perDeliverableTokens = map[types.TaskCategory]int64{
	types.CategoryImplementation: 2400,
	types.CategoryRefactor:       2000,
	types.CategoryTesting:        1800,
	types.CategoryResearch:       1200,
	types.CategoryAudit:          800,
	types.CategoryMigration:      2600,
	types.CategoryDocSynthesis:   3200,
	types.CategorySpecSynthesis:  3000,
}

// complexityMultipliers scales the raw estimate by planner complexity
var complexityMultipliers = map[types.Complexity]float64{
	types.ComplexityLow:    0.6,
	types.ComplexityMedium: 1.0,
	types.ComplexityHigh:   1.7,
}

// Estimate is the estimator's output for one phase: the expected token count
// and the budget it intends to enforce. SelectedBudget is intent; the
// enforced ceiling is decided by EnforceCeiling at the call site.
type Estimate struct {
	ExpectedTokens int64   `json:"expected_tokens"`
	SelectedBudget int64   `json:"selected_budget"`
	BufferFactor   float64 `json:"buffer_factor"`
	Confidence     float64 `json:"confidence"` // 0.0-1.0
}

// Estimate computes the expected output tokens and selected budget for a
// phase from its category, complexity, and deliverable count.
func EstimatePhase(phase *types.Phase) Estimate {
	perDeliv, known := perDeliverableTokens[phase.Category]
	if !known {
		perDeliv = 2000
	}

	deliverables := len(phase.Scope.Deliverables)
	if deliverables == 0 {
		deliverables = 1
	}

	complexityMult, knownComplexity := complexityMultipliers[phase.Complexity]
	if !knownComplexity {
		complexityMult = 1.0
	}

	// Scope breadth widens the estimate: broad read-only context tends to
	// produce longer patches.
	breadthMult := 1.0 + 0.05*float64(len(phase.Scope.ReadOnlyContext))
	if breadthMult > 1.5 {
		breadthMult = 1.5
	}

	expected := int64(math.Round(float64(perDeliv) * float64(deliverables) * complexityMult * breadthMult))

	confidence := 0.8
	if !known || !knownComplexity {
		confidence = 0.4
	}

	buffer := BufferBaseline
	if confidence < 0.5 {
		buffer = math.Max(buffer, BufferLowConfidence)
	}
	if deliverables >= manyDeliverableCount {
		buffer = math.Max(buffer, BufferManyDeliv)
	}
	if phase.Category.IsHighRisk() && phase.Complexity == types.ComplexityHigh {
		buffer = math.Max(buffer, BufferHighRisk)
	}
	if phase.Category.IsSynthesis() {
		// Synthesis phases front-load content and truncate near the end;
		// they get the widest margin.
		buffer = math.Max(buffer, BufferDocSynthesis)
	}

	selected := int64(math.Round(float64(expected) * buffer))
	if selected < MinSelectedBudget {
		selected = MinSelectedBudget
	}
	if selected > MaxTokensHardCap {
		selected = MaxTokensHardCap
	}

	return Estimate{
		ExpectedTokens: expected,
		SelectedBudget: selected,
		BufferFactor:   buffer,
		Confidence:     confidence,
	}
}

// EnforceCeiling computes the max_tokens ceiling actually passed to the LLM
// call: max(caller-supplied value or 0, estimator budget). A caller-supplied
// ceiling must never silently undercut the estimator's computed budget.
func EnforceCeiling(callerMax, selectedBudget int64) int64 {
	if callerMax < 0 {
		callerMax = 0
	}
	if callerMax > selectedBudget {
		return callerMax
	}
	return selectedBudget
}
