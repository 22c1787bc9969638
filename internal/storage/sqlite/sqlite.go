// Package sqlite implements the storage interface on SQLite, the default
// single-workstation backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/autopack-ai/autopack/internal/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend at the given path.
// ":memory:" creates an in-memory database.
func New(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	now := time.Now().UTC()
	var cap sql.NullInt64
	if run.TokenCap != nil {
		cap = sql.NullInt64{Int64: *run.TokenCap, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, state, safety_profile, run_scope, token_cap,
			tokens_used, max_phases, max_duration_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, state, safety_profile, run_scope, token_cap, tokens_used,
			max_phases, max_duration_minutes, created_at, updated_at
		FROM runs WHERE id = ?`, id))
}

// ListRuns returns all runs, newest first
func (s *SQLiteStorage) ListRuns(ctx context.Context) ([]*types.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
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
func (s *SQLiteStorage) UpdateRunState(ctx context.Context, id string, state types.RunState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := scanRun(tx.QueryRowContext(ctx, `
		SELECT id, state, safety_profile, run_scope, token_cap, tokens_used,
			max_phases, max_duration_minutes, created_at, updated_at
		FROM runs WHERE id = ?`, id))
	if err != nil {
		return err
	}
	if err := run.CanTransitionTo(state); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update run %s state: %w", id, err)
	}
	return tx.Commit()
}

// AddRunTokens increments the run's monotonic token counter
func (s *SQLiteStorage) AddRunTokens(ctx context.Context, id string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("token delta cannot be negative (got %d)", delta)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET tokens_used = tokens_used + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to add run tokens: %w", err)
	}
	return requireRow(result, "run", id)
}

// CreateTier inserts a new tier and assigns its surrogate key
func (s *SQLiteStorage) CreateTier(ctx context.Context, tier *types.Tier) error {
	if tier.RunID == "" || tier.Name == "" {
		return fmt.Errorf("tier run_id and name are required")
	}
	if tier.State == "" {
		tier.State = types.TierPending
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tiers (run_id, name, tier_index, state, tokens_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tier.RunID, tier.Name, tier.TierIndex, tier.State, tier.TokensUsed, now, now)
	if err != nil {
		return fmt.Errorf("failed to create tier %s: %w", tier.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read tier id: %w", err)
	}
	tier.ID = id
	tier.CreatedAt = now
	tier.UpdatedAt = now
	return nil
}

// GetTier retrieves a tier by its typed reference
func (s *SQLiteStorage) GetTier(ctx context.Context, ref types.TierRef) (*types.Tier, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("tier ref is not set")
	}
	return scanTier(s.db.QueryRowContext(ctx, `
		SELECT id, run_id, name, tier_index, state, tokens_used, created_at, updated_at
		FROM tiers WHERE id = ?`, ref.Int64()))
}

// ListTiers returns a run's tiers in tier order
func (s *SQLiteStorage) ListTiers(ctx context.Context, runID string) ([]*types.Tier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, name, tier_index, state, tokens_used, created_at, updated_at
		FROM tiers WHERE run_id = ? ORDER BY tier_index, id`, runID)
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
func (s *SQLiteStorage) UpdateTierState(ctx context.Context, ref types.TierRef, state types.TierState) error {
	if !state.IsValid() {
		return fmt.Errorf("invalid tier state: %s", state)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE tiers SET state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now().UTC(), ref.Int64())
	if err != nil {
		return fmt.Errorf("failed to update tier state: %w", err)
	}
	return requireRow(result, "tier", ref.String())
}

// AddTierTokens increments a tier's token counter
func (s *SQLiteStorage) AddTierTokens(ctx context.Context, ref types.TierRef, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("token delta cannot be negative (got %d)", delta)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE tiers SET tokens_used = tokens_used + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC(), ref.Int64())
	if err != nil {
		return fmt.Errorf("failed to add tier tokens: %w", err)
	}
	return requireRow(result, "tier", ref.String())
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
	if err == sql.ErrNoRows {
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
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tier not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tier: %w", err)
	}
	return &tier, nil
}

func requireRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
