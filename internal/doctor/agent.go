// Package doctor captures forensic evidence when a phase fails: a bounded
// sequence of read-only probes per failure class, summarized into a ledger
// entry and a retry hint for the next attempt.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/autopack-ai/autopack/internal/events"
	"github.com/autopack-ai/autopack/internal/types"
)

// Failure classes the doctor knows probe sequences for
const (
	ClassPatchApply      = "patch_apply_error"
	ClassCIFail          = "ci_fail"
	ClassBudgetExhausted = "budget_exhausted"
	ClassAgentError      = "agent_error"
)

// OutcomeSink receives the diagnostic outcome telemetry row
type OutcomeSink interface {
	AppendDoctorOutcomeEvent(ctx context.Context, ev *events.DoctorOutcomeEvent) error
}

// Diagnosis is the doctor's report for one failed phase
type Diagnosis struct {
	FailureClass  string         `json:"failure_class"`
	LedgerSummary string         `json:"ledger_summary"`
	RetryHint     string         `json:"retry_hint,omitempty"`
	ArtifactPaths []string       `json:"artifact_paths,omitempty"`
	Probes        []*ProbeResult `json:"probes"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AgentConfig holds diagnostics agent configuration
type AgentConfig struct {
	ArtifactDir string // where probe transcripts are persisted
	SandboxDir  string // optional dir for filesystem-touching probes
	Runner      RunnerOptions
	Telemetry   OutcomeSink // optional
}

// Agent runs the diagnostic probe sequence for a failed phase
type Agent struct {
	artifactDir string
	sandboxDir  string
	runnerOpts  RunnerOptions
	telemetry   OutcomeSink
}

// NewAgent creates a diagnostics agent
func NewAgent(cfg AgentConfig) *Agent {
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = ".autopack/diagnostics"
	}
	cfg.Runner.SandboxDir = cfg.SandboxDir
	return &Agent{
		artifactDir: cfg.ArtifactDir,
		sandboxDir:  cfg.SandboxDir,
		runnerOpts:  cfg.Runner,
		telemetry:   cfg.Telemetry,
	}
}

// Diagnose runs the probe sequence for the failure class and persists a
// transcript artifact. Every probe failure is absorbed into the report; the
// only errors returned are programming errors (nil phase).
func (a *Agent) Diagnose(ctx context.Context, failureClass string, phase *types.Phase) (*Diagnosis, error) {
	if phase == nil {
		return nil, fmt.Errorf("phase is required")
	}

	runner := NewCommandRunner(a.runnerOpts)
	diagnosis := &Diagnosis{
		FailureClass: failureClass,
		CreatedAt:    time.Now().UTC(),
	}

	for _, command := range probesFor(failureClass) {
		diagnosis.Probes = append(diagnosis.Probes, runner.Run(ctx, command))
	}

	diagnosis.LedgerSummary = a.summarize(failureClass, phase, diagnosis.Probes)
	diagnosis.RetryHint = retryHintFor(failureClass, phase)

	if path := a.persistTranscript(phase.PhaseID, diagnosis); path != "" {
		diagnosis.ArtifactPaths = append(diagnosis.ArtifactPaths, path)
	}

	a.recordOutcome(ctx, phase, diagnosis)
	return diagnosis, nil
}

// probesFor returns the read-only probe sequence for a failure class
func probesFor(failureClass string) []string {
	switch failureClass {
	case ClassPatchApply:
		return []string{
			"git status --porcelain",
			"git diff --stat",
			"git log --oneline -5",
			"ls -la",
		}
	case ClassCIFail:
		return []string{
			"git status --porcelain",
			"git diff --stat",
			"cat autopack_ci.yaml",
			"ls .autopack/ci",
		}
	case ClassBudgetExhausted:
		return []string{
			"git diff --stat",
			"git log --oneline -3",
		}
	case ClassAgentError:
		return []string{
			"git status --porcelain",
			"env | grep -i autopack",
		}
	default:
		return []string{
			"git status --porcelain",
			"git log --oneline -3",
		}
	}
}

// retryHintFor produces guidance the next builder attempt can use
func retryHintFor(failureClass string, phase *types.Phase) string {
	switch failureClass {
	case ClassPatchApply:
		return "previous patch did not apply cleanly; regenerate against current file contents and keep hunks minimal"
	case ClassCIFail:
		return "CI checks failed on the previous attempt; inspect failing tests before changing further files"
	case ClassBudgetExhausted:
		return "" // no retry follows a budget exhaustion
	case ClassAgentError:
		return fmt.Sprintf("agent call failed on attempt %d; simplify the change and stay within the deliverables", phase.RetryAttempt)
	default:
		return ""
	}
}

// summarize builds the one-paragraph ledger entry
func (a *Agent) summarize(failureClass string, phase *types.Phase, probes []*ProbeResult) string {
	executed := 0
	failed := 0
	var firstError string
	for _, p := range probes {
		if p.Skipped {
			continue
		}
		executed++
		if p.Err != "" {
			failed++
			if firstError == "" {
				firstError = fmt.Sprintf("%s: %s", p.Command, p.Err)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "phase %s failed with %s after %d builder attempt(s); ran %d probe(s)",
		phase.PhaseID, failureClass, phase.BuilderAttempts, executed)
	if failed > 0 {
		fmt.Fprintf(&b, ", %d probe(s) errored (first: %s)", failed, firstError)
	}
	return b.String()
}

// persistTranscript writes the full diagnosis JSON (best-effort)
func (a *Agent) persistTranscript(phaseID string, diagnosis *Diagnosis) string {
	if err := os.MkdirAll(a.artifactDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create diagnostics dir: %v\n", err)
		return ""
	}
	data, err := json.MarshalIndent(diagnosis, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to marshal diagnosis: %v\n", err)
		return ""
	}
	name := fmt.Sprintf("doctor-%s-%d.json", sanitize(phaseID), diagnosis.CreatedAt.Unix())
	path := filepath.Join(a.artifactDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to persist diagnosis: %v\n", err)
		return ""
	}
	return path
}

// recordOutcome writes the doctor telemetry row (best-effort)
func (a *Agent) recordOutcome(ctx context.Context, phase *types.Phase, diagnosis *Diagnosis) {
	if a.telemetry == nil {
		return
	}
	ev := events.NewDoctorOutcomeEvent(
		phase.RunID, phase.PhaseID,
		diagnosis.FailureClass, diagnosis.RetryHint,
		diagnosis.LedgerSummary, string(phase.State),
	)
	if err := a.telemetry.AppendDoctorOutcomeEvent(ctx, ev); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record doctor outcome for %s: %v\n", phase.PhaseID, err)
	}
}

func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
