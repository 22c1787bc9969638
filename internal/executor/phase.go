package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/autopack-ai/autopack/internal/ai"
	"github.com/autopack-ai/autopack/internal/budget"
	"github.com/autopack-ai/autopack/internal/ci"
	"github.com/autopack-ai/autopack/internal/doctor"
	"github.com/autopack-ai/autopack/internal/estimator"
	"github.com/autopack-ai/autopack/internal/events"
	"github.com/autopack-ai/autopack/internal/metrics"
	"github.com/autopack-ai/autopack/internal/types"
)

// ExecutePhase drives one phase from QUEUED to a terminal state. The
// returned error is reserved for infrastructure faults (storage, context
// cancellation); a phase that merely fails its work ends FAILED with a
// persisted failure reason and a nil error.
func (e *Executor) ExecutePhase(ctx context.Context, phase *types.Phase) error {
	if err := phase.Validate(); err != nil {
		return fmt.Errorf("invalid phase: %w", err)
	}
	if phase.State != types.PhaseQueued {
		return fmt.Errorf("phase %s is %s, expected QUEUED", phase.PhaseID, phase.State)
	}

	// The EXECUTING transition is persisted before any LLM call so a crash
	// leaves a detectable stuck phase instead of a silently re-runnable one.
	if err := e.store.TransitionPhase(ctx, phase.PhaseID, types.PhaseExecuting, ""); err != nil {
		return fmt.Errorf("failed to mark phase executing: %w", err)
	}
	phase.State = types.PhaseExecuting

	start := time.Now()
	err := e.runAttemptLoop(ctx, phase, start)
	metrics.PhaseDuration.Observe(time.Since(start).Seconds())
	return err
}

// runAttemptLoop is the builder/auditor attempt loop with budget gates,
// one-time escalation, and CI-gated finalization.
func (e *Executor) runAttemptLoop(ctx context.Context, phase *types.Phase, start time.Time) error {
	maxAttempts := phase.MaxBuilderAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.limits.MaxBuilderAttempts
	}

	escalator := estimator.NewEscalator(phase.RunID, phase.PhaseID)
	var ceilingOverride int64
	var hint string
	exhaustClass := doctor.ClassAgentError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.checkBudgets(ctx, phase); err != nil {
			if errors.Is(err, budget.ErrBudgetExhausted) || errors.Is(err, budget.ErrPhaseBudgetExceeded) {
				return e.failPhase(ctx, phase, doctor.ClassBudgetExhausted, err.Error(), start)
			}
			return err
		}

		fmt.Printf("Phase %s: builder attempt %d/%d\n", phase.PhaseID, attempt, maxAttempts)
		phase.RetryAttempt = attempt

		round, err := e.runner.RunBuilderRound(ctx, phase, hint, ceilingOverride, attempt)
		if err != nil {
			return fmt.Errorf("builder round: %w", err)
		}

		phase.BuilderAttempts++
		if err := e.accountTokens(ctx, phase, "builder", round.Outcome.TokensUsed); err != nil {
			return err
		}
		metrics.BuilderAttempts.WithLabelValues(string(round.Outcome.Disposition)).Inc()

		// Escalate the ceiling at most once per phase, then re-run the builder
		// on the next attempt with the raised ceiling.
		if escalator.ShouldEscalate(round.Outcome.Truncated, round.Outcome.Utilization) {
			newCeiling, ev := escalator.Escalate(
				round.EnforcedMax, events.BaseActualMaxTokens,
				round.Outcome.Truncated, round.Outcome.Utilization)
			ceilingOverride = newCeiling
			phase.EscalationLevel = 1
			metrics.BudgetEscalations.Inc()
			if appendErr := e.store.AppendEscalationEvent(ctx, ev); appendErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to record escalation for %s: %v\n", phase.PhaseID, appendErr)
			}
		}

		switch round.Outcome.Disposition {
		case types.DispositionSucceeded:
			done, ferr := e.auditAndFinalize(ctx, phase, round, attempt, start)
			if ferr != nil || done {
				return ferr
			}
			// Audit rejected: carry the rejection forward as a hint.
			hint = appendHint(hint, round.Outcome.Hint)

		case types.DispositionFatal:
			return e.failPhase(ctx, phase, doctor.ClassAgentError,
				fmt.Sprintf("fatal builder error: %s", round.Outcome.Detail), start)

		case types.DispositionDeterministicFailed:
			// Deterministic failures are never retried inline but do consume an
			// attempt; the hint tells the next builder round what to avoid.
			if round.Outcome.Status == "scope_violation" || round.Outcome.Status == "patch_unparseable" {
				exhaustClass = doctor.ClassPatchApply
			}
			hint = appendHint(hint, fmt.Sprintf("attempt %d failed (%s): %s",
				attempt, round.Outcome.Status, round.Outcome.Detail))

		case types.DispositionTransientExhausted:
			hint = appendHint(hint, fmt.Sprintf("attempt %d hit repeated transient errors: %s",
				attempt, round.Outcome.Detail))
		}

		if err := e.store.SavePhaseProgress(ctx, phase); err != nil {
			return fmt.Errorf("failed to save phase progress: %w", err)
		}
	}

	return e.failPhase(ctx, phase, exhaustClass,
		fmt.Sprintf("max builder attempts (%d) reached without an applicable approved patch", maxAttempts), start)
}

// auditAndFinalize runs the auditor gate and, on approval, the CI-gated
// finalization. Returns done=true when the phase reached a terminal state;
// done=false sends the loop into another builder attempt.
func (e *Executor) auditAndFinalize(ctx context.Context, phase *types.Phase, round *ai.RoundResult, attempt int, start time.Time) (bool, error) {
	report, err := e.runner.RunAuditorRound(ctx, phase, round.LLM.PatchContent, attempt)
	if err != nil {
		// Auditor infrastructure failures degrade to a rejection, not a phase
		// failure: the builder output may still pass on a later attempt.
		fmt.Fprintf(os.Stderr, "Warning: auditor round failed for %s: %v\n", phase.PhaseID, err)
		report = &ai.AuditReport{Approved: false, MajorIssues: 1, Summary: err.Error()}
	}

	phase.AuditorAttempts++
	phase.MinorIssues += report.MinorIssues
	phase.MajorIssues += report.MajorIssues
	if err := e.accountTokens(ctx, phase, "auditor", report.TokensUsed); err != nil {
		return false, err
	}

	if !report.Approved {
		round.Outcome.Hint = fmt.Sprintf("auditor rejected the patch (%d major, %d minor): %s",
			report.MajorIssues, report.MinorIssues, report.Summary)
		if err := e.store.SavePhaseProgress(ctx, phase); err != nil {
			return false, fmt.Errorf("failed to save phase progress: %w", err)
		}
		maxAuditor := phase.MaxAuditorAttempts
		if maxAuditor <= 0 {
			maxAuditor = e.limits.MaxAuditorAttempts
		}
		if phase.AuditorAttempts >= maxAuditor {
			return true, e.failPhase(ctx, phase, doctor.ClassAgentError,
				fmt.Sprintf("auditor rejected the patch %d time(s) without approval: %s",
					phase.AuditorAttempts, report.Summary), start)
		}
		return false, nil
	}

	ciResult := e.ciRunner.Run(ctx, phase.PhaseID)
	metrics.CIRuns.WithLabelValues(ciResult.Status).Inc()

	var delta *ci.TestDelta
	if e.baseline != nil && !ciResult.Skipped {
		delta, err = e.baseline.Compare(ciResult.FailingTests)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: baseline compare failed for %s: %v\n", phase.PhaseID, err)
			delta = nil
		}
	}

	var quality *ci.QualityReport
	if e.quality != nil {
		quality = e.quality(ctx, phase)
	}

	decision := e.finalizer.Decide(ciResult, delta, quality)
	if !decision.CanComplete {
		reason := fmt.Sprintf("%s: %s", decision.Status, decision.Reason)
		if decision.Status == "ci_failed" || decision.Status == "regression" {
			return true, e.failPhase(ctx, phase, doctor.ClassCIFail, reason, start)
		}
		return true, e.failPhase(ctx, phase, doctor.ClassAgentError, reason, start)
	}

	if e.baseline != nil && !ciResult.Skipped {
		if err := e.baseline.Record(ciResult.FailingTests); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to update CI baseline: %v\n", err)
		}
	}

	if err := e.store.SavePhaseProgress(ctx, phase); err != nil {
		return true, fmt.Errorf("failed to save phase progress: %w", err)
	}
	if err := e.store.TransitionPhase(ctx, phase.PhaseID, types.PhaseComplete, ""); err != nil {
		return true, fmt.Errorf("failed to mark phase complete: %w", err)
	}
	phase.State = types.PhaseComplete
	metrics.PhasesCompleted.Inc()

	e.writeProof(phase, round, ciResult, ci.CoverageDelta(ciResult.Raw), start, true, "")
	fmt.Printf("Phase %s: COMPLETE (%s)\n", phase.PhaseID, decision.Reason)
	return true, nil
}

// failPhase transitions the phase to FAILED, runs diagnostics for the
// failure class, and writes a failure proof. Diagnostics are best-effort.
func (e *Executor) failPhase(ctx context.Context, phase *types.Phase, failureClass, reason string, start time.Time) error {
	phase.FailureReason = reason
	if err := e.store.SavePhaseProgress(ctx, phase); err != nil {
		return fmt.Errorf("failed to save phase progress: %w", err)
	}
	if err := e.store.TransitionPhase(ctx, phase.PhaseID, types.PhaseFailed, reason); err != nil {
		return fmt.Errorf("failed to mark phase failed: %w", err)
	}
	phase.State = types.PhaseFailed
	metrics.PhasesFailed.WithLabelValues(failureClass).Inc()
	metrics.DoctorSessions.WithLabelValues(failureClass).Inc()

	if _, err := e.doctor.Diagnose(ctx, failureClass, phase); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: diagnostics failed for %s: %v\n", phase.PhaseID, err)
	}

	e.writeProof(phase, nil, nil, nil, start, false, reason)
	fmt.Printf("Phase %s: FAILED (%s)\n", phase.PhaseID, reason)
	return nil
}

// accountTokens attributes consumed tokens to the phase, its tier, and the
// run. Token counters are monotonic; a zero delta is a no-op.
func (e *Executor) accountTokens(ctx context.Context, phase *types.Phase, role string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	phase.TokensUsed += tokens
	metrics.TokensConsumed.WithLabelValues(role).Add(float64(tokens))

	if err := e.store.AddRunTokens(ctx, phase.RunID, tokens); err != nil {
		return fmt.Errorf("failed to account run tokens: %w", err)
	}
	if err := e.store.AddTierTokens(ctx, phase.TierID, tokens); err != nil {
		return fmt.Errorf("failed to account tier tokens: %w", err)
	}
	return nil
}

func appendHint(existing, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return existing
	}
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}
