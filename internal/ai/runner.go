package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/autopack-ai/autopack/internal/estimator"
	"github.com/autopack-ai/autopack/internal/events"
	"github.com/autopack-ai/autopack/internal/recovery"
	"github.com/autopack-ai/autopack/internal/types"
)

// TelemetrySink receives the append-only estimation rows the runner writes,
// one per LLM call attempt. Satisfied by the storage layer.
type TelemetrySink interface {
	AppendTokenEstimationEvent(ctx context.Context, ev *events.TokenEstimationEvent) error
}

// RunnerConfig holds attempt runner configuration
type RunnerConfig struct {
	Client             Client
	Telemetry          TelemetrySink // optional
	Retry              recovery.RetryConfig
	Breaker            *recovery.CircuitBreaker // optional
	MaxConcurrentCalls int64                    // 0 = unlimited
	BuilderModel       string
	AuditorModel       string
}

// AttemptRunner executes exactly one Builder round (and optionally one
// Auditor round) for a phase. Transient provider failures are retried once
// inline via the recovery wrapper; everything else is reported to the caller
// as an outcome tag, never an exception.
type AttemptRunner struct {
	client       Client
	telemetry    TelemetrySink
	retry        recovery.RetryConfig
	breaker      *recovery.CircuitBreaker
	sem          *semaphore.Weighted
	builderModel string
	auditorModel string
}

// NewAttemptRunner creates an attempt runner
func NewAttemptRunner(cfg RunnerConfig) (*AttemptRunner, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = recovery.DefaultRetryConfig()
	}
	if cfg.BuilderModel == "" {
		cfg.BuilderModel = BuilderModel()
	}
	if cfg.AuditorModel == "" {
		cfg.AuditorModel = AuditorModel()
	}

	r := &AttemptRunner{
		client:       cfg.Client,
		telemetry:    cfg.Telemetry,
		retry:        cfg.Retry,
		breaker:      cfg.Breaker,
		builderModel: cfg.BuilderModel,
		auditorModel: cfg.AuditorModel,
	}
	if cfg.MaxConcurrentCalls > 0 {
		r.sem = semaphore.NewWeighted(cfg.MaxConcurrentCalls)
	}
	return r, nil
}

// RoundResult carries everything the state machine needs from one builder
// round: the outcome tag, the estimator's sizing, the ceiling that was
// actually enforced, and the raw LLM result for escalation telemetry.
type RoundResult struct {
	Outcome     types.AttemptOutcome
	Estimate    estimator.Estimate
	EnforcedMax int64
	LLM         *types.LLMResult
}

// RunBuilderRound executes one builder call for the phase. ceilingOverride
// carries an escalated ceiling from a previous attempt (0 = none); the
// enforced ceiling is always max(override, estimator budget) so an override
// can raise but never undercut the estimator. attempt is the 1-based attempt
// number the executor is on, recorded verbatim in telemetry.
func (r *AttemptRunner) RunBuilderRound(ctx context.Context, phase *types.Phase, hint string, ceilingOverride int64, attempt int) (*RoundResult, error) {
	est := estimator.EstimatePhase(phase)
	enforced := estimator.EnforceCeiling(ceilingOverride, est.SelectedBudget)

	req := types.LLMRequest{
		Role:        types.RoleBuilder,
		PhaseID:     phase.PhaseID,
		RunID:       phase.RunID,
		Prompt:      buildBuilderPrompt(phase, hint),
		FileContext: phase.Scope.ReadOnlyContext,
		MaxTokens:   enforced,
		Model:       r.builderModel,
	}

	llm, dispo, detail := r.complete(ctx, "builder_call", req)
	res := &RoundResult{Estimate: est, EnforcedMax: enforced, LLM: llm}

	if llm != nil {
		res.Outcome.TokensUsed = llm.TokensUsed()
		res.Outcome.Truncated = llm.Truncated
		res.Outcome.Utilization = llm.OutputUtilization(enforced)
		r.recordEstimation(ctx, phase, attempt, est.SelectedBudget, llm)
	}

	if dispo != types.DispositionSucceeded {
		res.Outcome.Disposition = dispo
		res.Outcome.Status = "builder_call_failed"
		res.Outcome.Detail = detail
		return res, nil
	}

	// A patch-mode response with no file headers can never apply.
	paths := PatchPaths(llm.PatchContent)
	if phase.BuilderMode == types.BuilderModePatch && len(paths) == 0 {
		err := fmt.Errorf("%w: no file headers in builder output", recovery.ErrPatchApply)
		res.Outcome.Disposition = dispositionFor(recovery.Classify(err))
		res.Outcome.Status = "patch_unparseable"
		res.Outcome.Detail = err.Error()
		return res, nil
	}

	// Scope check before the patch is considered applicable. A violation is
	// deterministic: the same patch against the same scope fails identically.
	if err := phase.Scope.ValidatePatchPaths(paths); err != nil {
		err = fmt.Errorf("%w: %v", recovery.ErrPatchApply, err)
		res.Outcome.Disposition = dispositionFor(recovery.Classify(err))
		res.Outcome.Status = "scope_violation"
		res.Outcome.Detail = err.Error()
		res.Outcome.PatchPaths = paths
		return res, nil
	}

	res.Outcome.Disposition = types.DispositionSucceeded
	res.Outcome.Status = "patch_produced"
	res.Outcome.PatchPaths = paths
	return res, nil
}

// AuditReport is the auditor round's verdict on a builder patch
type AuditReport struct {
	Approved    bool   `json:"approved"`
	MinorIssues int    `json:"minor_issues"`
	MajorIssues int    `json:"major_issues"`
	Summary     string `json:"summary"`
	TokensUsed  int64  `json:"-"`
}

// RunAuditorRound reviews the builder's patch. Auditor failures degrade to
// an unapproved report rather than failing the attempt: the auditor is a
// gate, not a dependency.
func (r *AttemptRunner) RunAuditorRound(ctx context.Context, phase *types.Phase, patch string, attempt int) (*AuditReport, error) {
	est := estimator.EstimatePhase(phase)
	// Auditor output is a short verdict; a quarter of the builder budget is
	// plenty and keeps review cost bounded.
	ceiling := estimator.EnforceCeiling(0, est.SelectedBudget/4)

	req := types.LLMRequest{
		Role:      types.RoleAuditor,
		PhaseID:   phase.PhaseID,
		RunID:     phase.RunID,
		Prompt:    buildAuditorPrompt(phase, patch),
		MaxTokens: ceiling,
		Model:     r.auditorModel,
	}

	llm, dispo, detail := r.complete(ctx, "auditor_call", req)
	if dispo != types.DispositionSucceeded {
		return nil, fmt.Errorf("auditor call failed (%s): %s", dispo, detail)
	}
	r.recordEstimation(ctx, phase, attempt, ceiling, llm)

	report := &AuditReport{TokensUsed: llm.TokensUsed()}
	if err := json.Unmarshal([]byte(extractJSON(llm.PatchContent)), report); err != nil {
		// Unparseable verdicts are treated as major-issue rejections so a
		// degraded auditor never silently approves.
		return &AuditReport{Approved: false, MajorIssues: 1,
			Summary: "auditor response was not parseable", TokensUsed: llm.TokensUsed()}, nil
	}
	return report, nil
}

// complete wraps one LLM call in the semaphore and inline transient retry,
// translating the final error into a disposition tag.
func (r *AttemptRunner) complete(ctx context.Context, operation string, req types.LLMRequest) (*types.LLMResult, types.Disposition, string) {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, types.DispositionFatal, fmt.Sprintf("failed to acquire call slot: %v", err)
		}
		defer r.sem.Release(1)
	}

	var llm *types.LLMResult
	_, err := recovery.ExecuteWithRetry(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := r.client.Complete(attemptCtx, req)
		if apiErr != nil {
			return apiErr
		}
		if !resp.Success {
			msg := resp.Error
			if msg == "" {
				msg = "provider reported failure without detail"
			}
			return fmt.Errorf("%s: %s", operation, msg)
		}
		llm = resp
		return nil
	}, r.retry, recovery.Wait, r.breaker)

	if err == nil {
		return llm, types.DispositionSucceeded, ""
	}
	return llm, dispositionFor(recovery.Classify(err)), err.Error()
}

// dispositionFor maps a recovery class onto the attempt outcome tag
func dispositionFor(class recovery.Class) types.Disposition {
	switch class {
	case recovery.ClassTransient:
		return types.DispositionTransientExhausted
	case recovery.ClassDeterministic:
		return types.DispositionDeterministicFailed
	default:
		return types.DispositionFatal
	}
}

// recordEstimation writes the per-call estimation telemetry row (best-effort)
func (r *AttemptRunner) recordEstimation(ctx context.Context, phase *types.Phase, attempt int, predicted int64, llm *types.LLMResult) {
	if r.telemetry == nil || llm == nil {
		return
	}
	ev := events.NewTokenEstimationEvent(
		phase.RunID, phase.PhaseID, attempt,
		string(phase.Category), string(phase.Complexity),
		predicted, llm.OutputTokens, llm.Truncated, llm.StopReason,
	)
	if err := r.telemetry.AppendTokenEstimationEvent(ctx, ev); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record estimation telemetry for %s: %v\n", phase.PhaseID, err)
	}
}

// extractJSON strips markdown fences the model sometimes wraps around JSON
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
