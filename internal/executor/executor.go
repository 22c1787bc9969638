// Package executor drives the phase execution state machine: it takes a
// QUEUED phase through builder/auditor attempts, budget gates, one-time
// token escalation, and CI-gated finalization to a terminal state.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/autopack-ai/autopack/internal/ai"
	"github.com/autopack-ai/autopack/internal/budget"
	"github.com/autopack-ai/autopack/internal/ci"
	"github.com/autopack-ai/autopack/internal/config"
	"github.com/autopack-ai/autopack/internal/doctor"
	"github.com/autopack-ai/autopack/internal/recovery"
	"github.com/autopack-ai/autopack/internal/storage"
	"github.com/autopack-ai/autopack/internal/types"
)

// QualityGate supplies the quality report fed into finalization.
// Nil gate or nil report means no signal, not a veto.
type QualityGate func(ctx context.Context, phase *types.Phase) *ci.QualityReport

// Config holds executor configuration
type Config struct {
	Store    storage.Storage
	Client   ai.Client
	CIConfig *ci.Config             // nil = CI skipped
	Limits   *config.ExecutorLimits // nil = defaults
	Quality  QualityGate            // optional
	ProofDir string                 // default ".autopack/proofs"

	// DoctorArtifactDir and DoctorSandboxDir configure the diagnostics agent
	DoctorArtifactDir string
	DoctorSandboxDir  string
}

// DefaultConfig returns default executor configuration
func DefaultConfig() *Config {
	return &Config{
		CIConfig: ci.DefaultConfig(),
		ProofDir: ".autopack/proofs",
	}
}

// Executor executes phases against a run
type Executor struct {
	store     storage.Storage
	runner    *ai.AttemptRunner
	ciRunner  *ci.Runner
	baseline  *ci.BaselineTracker
	finalizer *ci.Finalizer
	doctor    *doctor.Agent
	quality   QualityGate
	limits    config.ExecutorLimits
	proofDir  string
}

// New creates an executor from the config
func New(cfg *Config) (*Executor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("llm client is required")
	}

	limits := config.DefaultExecutorLimits()
	if cfg.Limits != nil {
		limits = *cfg.Limits
		if err := limits.Validate(); err != nil {
			return nil, fmt.Errorf("invalid executor limits: %w", err)
		}
	}

	runner, err := ai.NewAttemptRunner(ai.RunnerConfig{
		Client:             cfg.Client,
		Telemetry:          cfg.Store,
		Breaker:            recovery.DefaultCircuitBreaker(),
		MaxConcurrentCalls: limits.MaxConcurrentLLMCalls,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt runner: %w", err)
	}

	ciConfig := cfg.CIConfig
	if ciConfig == nil {
		ciConfig = ci.DefaultConfig()
	}
	if limits.SkipCI {
		ciConfig.Skip = true
	}
	ciRunner, err := ci.NewRunner(ciConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CI runner: %w", err)
	}

	var baseline *ci.BaselineTracker
	if ciConfig.BaselinePath != "" {
		baseline, err = ci.NewBaselineTracker(ciConfig.BaselinePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create baseline tracker: %w", err)
		}
	}

	proofDir := cfg.ProofDir
	if proofDir == "" {
		proofDir = ".autopack/proofs"
	}

	return &Executor{
		store:     cfg.Store,
		runner:    runner,
		ciRunner:  ciRunner,
		baseline:  baseline,
		finalizer: ci.NewFinalizer(),
		doctor: doctor.NewAgent(doctor.AgentConfig{
			ArtifactDir: cfg.DoctorArtifactDir,
			SandboxDir:  cfg.DoctorSandboxDir,
			Telemetry:   cfg.Store,
			Runner: doctor.RunnerOptions{
				CommandTimeout: time.Duration(limits.DoctorCommandTimeoutSeconds) * time.Second,
			},
		}),
		quality:  cfg.Quality,
		limits:   limits,
		proofDir: proofDir,
	}, nil
}

// ExecuteQueuedPhases executes a run's QUEUED phases in order, stopping on
// the first infrastructure error. Phase failures do not stop the run; the
// run budget gate inside ExecutePhase does.
func (e *Executor) ExecuteQueuedPhases(ctx context.Context, runID string) error {
	phases, err := e.store.ListQueuedPhases(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list queued phases: %w", err)
	}

	for _, phase := range phases {
		if err := e.ExecutePhase(ctx, phase); err != nil {
			return fmt.Errorf("phase %s: %w", phase.PhaseID, err)
		}
	}
	return nil
}

// checkBudgets gates an attempt on the run- and phase-level token budgets
func (e *Executor) checkBudgets(ctx context.Context, phase *types.Phase) error {
	run, err := e.store.GetRun(ctx, phase.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", phase.RunID, err)
	}
	if err := budget.CheckRunBudget(run); err != nil {
		return err
	}
	return budget.CheckPhaseBudget(phase, e.limits.DefaultPhaseTokenCap)
}
