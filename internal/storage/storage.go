// Package storage persists runs, tiers, phases, and telemetry. The default
// backend is SQLite; PostgreSQL is available for shared deployments.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/autopack-ai/autopack/internal/events"
	"github.com/autopack-ai/autopack/internal/storage/postgres"
	"github.com/autopack-ai/autopack/internal/storage/sqlite"
	"github.com/autopack-ai/autopack/internal/types"
)

// Storage defines the interface for run/tier/phase storage backends
type Storage interface {
	// Runs
	CreateRun(ctx context.Context, run *types.Run) error
	GetRun(ctx context.Context, id string) (*types.Run, error)
	ListRuns(ctx context.Context) ([]*types.Run, error)
	// UpdateRunState enforces the monotonic run state machine: regressions
	// and transitions out of a terminal DONE_* state are rejected.
	UpdateRunState(ctx context.Context, id string, state types.RunState) error
	// AddRunTokens increments the run's monotonic token counter
	AddRunTokens(ctx context.Context, id string, delta int64) error

	// Tiers
	CreateTier(ctx context.Context, tier *types.Tier) error // assigns tier.ID
	GetTier(ctx context.Context, ref types.TierRef) (*types.Tier, error)
	ListTiers(ctx context.Context, runID string) ([]*types.Tier, error)
	UpdateTierState(ctx context.Context, ref types.TierRef, state types.TierState) error
	AddTierTokens(ctx context.Context, ref types.TierRef, delta int64) error

	// Phases
	CreatePhase(ctx context.Context, phase *types.Phase) error
	GetPhase(ctx context.Context, phaseID string) (*types.Phase, error)
	ListPhases(ctx context.Context, runID string) ([]*types.Phase, error)
	ListQueuedPhases(ctx context.Context, runID string) ([]*types.Phase, error)
	// TransitionPhase enforces the phase state machine edges. FAILED requires
	// a non-empty failure reason.
	TransitionPhase(ctx context.Context, phaseID string, next types.PhaseState, failureReason string) error
	// SavePhaseProgress persists the mutable execution counters (attempts,
	// tokens, escalation level, issue counts) without touching state.
	SavePhaseProgress(ctx context.Context, phase *types.Phase) error
	// FindStuckPhases returns EXECUTING phases not updated within the window,
	// usually orphans left by a crashed executor.
	FindStuckPhases(ctx context.Context, olderThan time.Duration) ([]*types.Phase, error)

	// Telemetry (append-only, never read back for control flow)
	AppendTokenEstimationEvent(ctx context.Context, ev *events.TokenEstimationEvent) error
	AppendEscalationEvent(ctx context.Context, ev *events.TokenBudgetEscalationEvent) error
	AppendDoctorOutcomeEvent(ctx context.Context, ev *events.DoctorOutcomeEvent) error
	TelemetryReport(ctx context.Context, runID string) (*events.TelemetryReport, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Backend selects the storage backend: "sqlite" (default) or "postgres"
	Backend string

	// Path is the SQLite database file path.
	// Default: ".autopack/autopack.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string

	// Postgres holds connection settings when Backend is "postgres"
	Postgres *postgres.Config
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: "sqlite",
		Path:    ".autopack/autopack.db",
	}
}

// NewStorage creates a storage backend from the config
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "", "sqlite":
		if cfg.Path == "" {
			cfg.Path = ".autopack/autopack.db"
		}
		return sqlite.New(cfg.Path)
	case "postgres":
		return postgres.New(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
