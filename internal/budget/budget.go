// Package budget computes run- and phase-level token budget exhaustion.
//
// All checks are pure functions over a cap and a usage counter so the
// executor can call them before and during attempts without threading any
// tracker state. A nil cap means unlimited.
package budget

import (
	"errors"
	"fmt"

	"github.com/autopack-ai/autopack/internal/types"
)

// ErrBudgetExhausted is the sentinel for a run-level token budget breach
var ErrBudgetExhausted = errors.New("run token budget exhausted")

// ErrPhaseBudgetExceeded is the sentinel for a phase-level token budget breach
var ErrPhaseBudgetExceeded = errors.New("phase token budget exceeded")

// DefaultPhaseTokenCap is the per-phase cap before category multipliers
const DefaultPhaseTokenCap int64 = 200_000

// categoryMultipliers scales the default phase cap per task category.
// Research phases read widely and need headroom; audit phases only emit
// findings and get a fraction of the default.
var categoryMultipliers = map[types.TaskCategory]float64{
	types.CategoryResearch:      1.5,
	types.CategoryAudit:         0.3,
	types.CategoryDocSynthesis:  1.25,
	types.CategorySpecSynthesis: 1.25,
}

// IsBudgetExhausted reports whether the run-level budget is spent.
// A nil cap means unlimited and is never exhausted.
func IsBudgetExhausted(tokenCap *int64, tokensUsed int64) bool {
	if tokenCap == nil {
		return false
	}
	return tokensUsed >= *tokenCap
}

// BudgetRemainingPct returns the remaining fraction of the run budget in
// [0.0, 1.0]. Unlimited budgets always report 1.0; overspent budgets clamp
// to 0.0.
func BudgetRemainingPct(tokenCap *int64, tokensUsed int64) float64 {
	if tokenCap == nil {
		return 1.0
	}
	if *tokenCap <= 0 {
		return 0.0
	}
	remaining := 1.0 - float64(tokensUsed)/float64(*tokenCap)
	if remaining < 0 {
		return 0.0
	}
	if remaining > 1.0 {
		return 1.0
	}
	return remaining
}

// PhaseTokenCap derives the phase-level cap from the default cap and the
// phase's category multiplier.
func PhaseTokenCap(defaultCap int64, category types.TaskCategory) int64 {
	if defaultCap <= 0 {
		defaultCap = DefaultPhaseTokenCap
	}
	if mult, ok := categoryMultipliers[category]; ok {
		return int64(float64(defaultCap) * mult)
	}
	return defaultCap
}

// IsPhaseBudgetExceeded reports whether the phase has spent its derived cap
func IsPhaseBudgetExceeded(defaultCap int64, category types.TaskCategory, tokensUsed int64) bool {
	cap := PhaseTokenCap(defaultCap, category)
	return tokensUsed >= cap
}

// PhaseBudgetRemainingPct returns the remaining fraction of the phase budget
func PhaseBudgetRemainingPct(defaultCap int64, category types.TaskCategory, tokensUsed int64) float64 {
	cap := PhaseTokenCap(defaultCap, category)
	return BudgetRemainingPct(&cap, tokensUsed)
}

// CheckRunBudget returns a wrapped ErrBudgetExhausted when the run budget is
// spent. The executor treats this as a forced FAILED transition, never a
// retry.
func CheckRunBudget(run *types.Run) error {
	if !IsBudgetExhausted(run.TokenCap, run.TokensUsed) {
		return nil
	}
	return fmt.Errorf("run %s used %d of %d tokens: %w",
		run.ID, run.TokensUsed, *run.TokenCap, ErrBudgetExhausted)
}

// CheckPhaseBudget returns a wrapped ErrPhaseBudgetExceeded when the phase
// budget is spent.
func CheckPhaseBudget(phase *types.Phase, defaultCap int64) error {
	if !IsPhaseBudgetExceeded(defaultCap, phase.Category, phase.TokensUsed) {
		return nil
	}
	return fmt.Errorf("phase %s (%s) used %d of %d tokens: %w",
		phase.PhaseID, phase.Category, phase.TokensUsed,
		PhaseTokenCap(defaultCap, phase.Category), ErrPhaseBudgetExceeded)
}
