// Package postgres implements the storage interface on PostgreSQL for
// shared deployments where multiple executors point at one database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopack-ai/autopack/internal/types"
)

// PostgresStorage implements the Storage interface using PostgreSQL
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "autopack",
		User:            "autopack",
		SSLMode:         "prefer",
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		HealthCheck:     1 * time.Minute,
	}
}

// New creates a new PostgreSQL storage backend with connection pooling
func New(ctx context.Context, cfg *Config) (*PostgresStorage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the connection pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// CreateRun inserts a new run record
func (s *PostgresStorage) CreateRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	now := time.Now().UTC()
	var cap sql.NullInt64
	if run.TokenCap != nil {
		cap = sql.NullInt64{Int64: *run.TokenCap, Valid: true}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, state, safety_profile, run_scope, token_cap,
			tokens_used, max_phases, max_duration_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.State, run.SafetyProfile, run.RunScope, cap,
		run.TokensUsed, run.MaxPhases, run.MaxDurationMinutes, now, now)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	run.CreatedAt = now
	run.UpdatedAt = now
	return nil
}

// GetRun retrieves a run by ID
func (s *PostgresStorage) GetRun(ctx context.Context, id string) (*types.Run, error) {
	return scanRun(s.pool.QueryRow(ctx, `
		SELECT id, state, safety_profile, run_scope, token_cap, tokens_used,
			max_phases, max_duration_minutes, created_at, updated_at
		FROM runs WHERE id = $1`, id))
}

// ListRuns returns all runs, newest first
func (s *PostgresStorage) ListRuns(ctx context.Context) ([]*types.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, state, safety_profile, run_scope, token_cap, tokens_used,
			max_phases, max_duration_minutes, created_at, updated_at
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRunState transitions a run, enforcing the monotonic state machine
func (s *PostgresStorage) UpdateRunState(ctx context.Context, id string, state types.RunState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	run, err := scanRun(tx.QueryRow(ctx, `
		SELECT id, state, safety_profile, run_scope, token_cap, tokens_used,
			max_phases, max_duration_minutes, created_at, updated_at
		FROM runs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if err := run.CanTransitionTo(state); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE runs SET state = $1, updated_at = $2 WHERE id = $3`,
		state, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update run %s state: %w", id, err)
	}
	return tx.Commit(ctx)
}

// AddRunTokens increments the run's monotonic token counter
func (s *PostgresStorage) AddRunTokens(ctx context.Context, id string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("token delta cannot be negative (got %d)", delta)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET tokens_used = tokens_used + $1, updated_at = $2 WHERE id = $3`,
		delta, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to add run tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// CreateTier inserts a new tier and assigns its surrogate key
func (s *PostgresStorage) CreateTier(ctx context.Context, tier *types.Tier) error {
	if tier.RunID == "" || tier.Name == "" {
		return fmt.Errorf("tier run_id and name are required")
	}
	if tier.State == "" {
		tier.State = types.TierPending
	}

	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tiers (run_id, name, tier_index, state, tokens_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		tier.RunID, tier.Name, tier.TierIndex, tier.State, tier.TokensUsed, now, now).
		Scan(&tier.ID)
	if err != nil {
		return fmt.Errorf("failed to create tier %s: %w", tier.Name, err)
	}
	tier.CreatedAt = now
	tier.UpdatedAt = now
	return nil
}

// GetTier retrieves a tier by its typed reference
func (s *PostgresStorage) GetTier(ctx context.Context, ref types.TierRef) (*types.Tier, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("tier ref is not set")
	}
	return scanTier(s.pool.QueryRow(ctx, `
		SELECT id, run_id, name, tier_index, state, tokens_used, created_at, updated_at
		FROM tiers WHERE id = $1`, ref.Int64()))
}

// ListTiers returns a run's tiers in tier order
func (s *PostgresStorage) ListTiers(ctx context.Context, runID string) ([]*types.Tier, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, name, tier_index, state, tokens_used, created_at, updated_at
		FROM tiers WHERE run_id = $1 ORDER BY tier_index, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []*types.Tier
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

// UpdateTierState updates a tier's state
func (s *PostgresStorage) UpdateTierState(ctx context.Context, ref types.TierRef, state types.TierState) error {
	if !state.IsValid() {
		return fmt.Errorf("invalid tier state: %s", state)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tiers SET state = $1, updated_at = $2 WHERE id = $3`,
		state, time.Now().UTC(), ref.Int64())
	if err != nil {
		return fmt.Errorf("failed to update tier state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tier not found: %s", ref)
	}
	return nil
}

// AddTierTokens increments a tier's token counter
func (s *PostgresStorage) AddTierTokens(ctx context.Context, ref types.TierRef, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("token delta cannot be negative (got %d)", delta)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tiers SET tokens_used = tokens_used + $1, updated_at = $2 WHERE id = $3`,
		delta, time.Now().UTC(), ref.Int64())
	if err != nil {
		return fmt.Errorf("failed to add tier tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tier not found: %s", ref)
	}
	return nil
}

const phaseColumns = `phase_id, run_id, tier_id, phase_index, name, description,
	scope, state, task_category, complexity, builder_mode,
	max_builder_attempts, max_auditor_attempts,
	retry_attempt, revision_epoch, escalation_level, tokens_used,
	builder_attempts, auditor_attempts, minor_issues, major_issues,
	failure_reason, created_at, updated_at`

// CreatePhase inserts a new phase record
func (s *PostgresStorage) CreatePhase(ctx context.Context, phase *types.Phase) error {
	if err := phase.Validate(); err != nil {
		return fmt.Errorf("invalid phase: %w", err)
	}

	scopeJSON, err := json.Marshal(phase.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal phase scope: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO phases (phase_id, run_id, tier_id, phase_index, name, description,
			scope, state, task_category, complexity, builder_mode,
			max_builder_attempts, max_auditor_attempts,
			retry_attempt, revision_epoch, escalation_level, tokens_used,
			builder_attempts, auditor_attempts, minor_issues, major_issues,
			failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		phase.PhaseID, phase.RunID, phase.TierID.Int64(), phase.PhaseIndex,
		phase.Name, phase.Description, string(scopeJSON), phase.State,
		phase.Category, phase.Complexity, phase.BuilderMode,
		phase.MaxBuilderAttempts, phase.MaxAuditorAttempts,
		phase.RetryAttempt, phase.RevisionEpoch, phase.EscalationLevel, phase.TokensUsed,
		phase.BuilderAttempts, phase.AuditorAttempts, phase.MinorIssues, phase.MajorIssues,
		phase.FailureReason, now, now)
	if err != nil {
		return fmt.Errorf("failed to create phase %s: %w", phase.PhaseID, err)
	}
	phase.CreatedAt = now
	phase.UpdatedAt = now
	return nil
}

// GetPhase retrieves a phase by ID
func (s *PostgresStorage) GetPhase(ctx context.Context, phaseID string) (*types.Phase, error) {
	return scanPhase(s.pool.QueryRow(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE phase_id = $1`, phaseID))
}

// ListPhases returns all phases of a run in execution order
func (s *PostgresStorage) ListPhases(ctx context.Context, runID string) ([]*types.Phase, error) {
	return s.queryPhases(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE run_id = $1 ORDER BY phase_index, phase_id`, runID)
}

// ListQueuedPhases returns the run's QUEUED phases in execution order
func (s *PostgresStorage) ListQueuedPhases(ctx context.Context, runID string) ([]*types.Phase, error) {
	return s.queryPhases(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE run_id = $1 AND state = $2 ORDER BY phase_index, phase_id`,
		runID, types.PhaseQueued)
}

// TransitionPhase moves a phase through the state machine under a row lock
func (s *PostgresStorage) TransitionPhase(ctx context.Context, phaseID string, next types.PhaseState, failureReason string) error {
	if next == types.PhaseFailed && failureReason == "" {
		return fmt.Errorf("phase %s: FAILED transition requires a failure reason", phaseID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	phase, err := scanPhase(tx.QueryRow(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE phase_id = $1 FOR UPDATE`, phaseID))
	if err != nil {
		return err
	}
	if err := phase.CanTransitionTo(next); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE phases SET state = $1, failure_reason = $2, updated_at = $3 WHERE phase_id = $4`,
		next, failureReason, time.Now().UTC(), phaseID); err != nil {
		return fmt.Errorf("failed to transition phase %s: %w", phaseID, err)
	}
	return tx.Commit(ctx)
}

// SavePhaseProgress persists the mutable execution counters
func (s *PostgresStorage) SavePhaseProgress(ctx context.Context, phase *types.Phase) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE phases SET
			retry_attempt = $1, revision_epoch = $2, escalation_level = $3,
			tokens_used = $4, builder_attempts = $5, auditor_attempts = $6,
			minor_issues = $7, major_issues = $8, updated_at = $9
		WHERE phase_id = $10`,
		phase.RetryAttempt, phase.RevisionEpoch, phase.EscalationLevel,
		phase.TokensUsed, phase.BuilderAttempts, phase.AuditorAttempts,
		phase.MinorIssues, phase.MajorIssues, time.Now().UTC(), phase.PhaseID)
	if err != nil {
		return fmt.Errorf("failed to save phase progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("phase not found: %s", phase.PhaseID)
	}
	return nil
}

// FindStuckPhases returns EXECUTING phases not updated within the window
func (s *PostgresStorage) FindStuckPhases(ctx context.Context, olderThan time.Duration) ([]*types.Phase, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.queryPhases(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE state = $1 AND updated_at < $2 ORDER BY updated_at`,
		types.PhaseExecuting, cutoff)
}

func (s *PostgresStorage) queryPhases(ctx context.Context, query string, args ...interface{}) ([]*types.Phase, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	defer rows.Close()

	var phases []*types.Phase
	for rows.Next() {
		phase, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		phases = append(phases, phase)
	}
	return phases, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*types.Run, error) {
	var run types.Run
	var cap sql.NullInt64
	err := row.Scan(&run.ID, &run.State, &run.SafetyProfile, &run.RunScope,
		&cap, &run.TokensUsed, &run.MaxPhases, &run.MaxDurationMinutes,
		&run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if cap.Valid {
		run.TokenCap = &cap.Int64
	}
	return &run, nil
}

func scanTier(row rowScanner) (*types.Tier, error) {
	var tier types.Tier
	err := row.Scan(&tier.ID, &tier.RunID, &tier.Name, &tier.TierIndex,
		&tier.State, &tier.TokensUsed, &tier.CreatedAt, &tier.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tier not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tier: %w", err)
	}
	return &tier, nil
}

func scanPhase(row rowScanner) (*types.Phase, error) {
	var phase types.Phase
	var tierID int64
	var scopeJSON []byte
	err := row.Scan(&phase.PhaseID, &phase.RunID, &tierID, &phase.PhaseIndex,
		&phase.Name, &phase.Description, &scopeJSON, &phase.State,
		&phase.Category, &phase.Complexity, &phase.BuilderMode,
		&phase.MaxBuilderAttempts, &phase.MaxAuditorAttempts,
		&phase.RetryAttempt, &phase.RevisionEpoch, &phase.EscalationLevel, &phase.TokensUsed,
		&phase.BuilderAttempts, &phase.AuditorAttempts, &phase.MinorIssues, &phase.MajorIssues,
		&phase.FailureReason, &phase.CreatedAt, &phase.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("phase not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan phase: %w", err)
	}

	phase.TierID = types.NewTierRef(tierID)
	if err := json.Unmarshal(scopeJSON, &phase.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal phase scope: %w", err)
	}
	return &phase, nil
}
