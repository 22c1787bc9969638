package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopack-ai/autopack/internal/types"
)

const phaseColumns = `phase_id, run_id, tier_id, phase_index, name, description,
	scope, state, task_category, complexity, builder_mode,
	max_builder_attempts, max_auditor_attempts,
	retry_attempt, revision_epoch, escalation_level, tokens_used,
	builder_attempts, auditor_attempts, minor_issues, major_issues,
	failure_reason, created_at, updated_at`

// CreatePhase inserts a new phase record
func (s *SQLiteStorage) CreatePhase(ctx context.Context, phase *types.Phase) error {
	if err := phase.Validate(); err != nil {
		return fmt.Errorf("invalid phase: %w", err)
	}

	scopeJSON, err := json.Marshal(phase.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal phase scope: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO phases (phase_id, run_id, tier_id, phase_index, name, description,
			scope, state, task_category, complexity, builder_mode,
			max_builder_attempts, max_auditor_attempts,
			retry_attempt, revision_epoch, escalation_level, tokens_used,
			builder_attempts, auditor_attempts, minor_issues, major_issues,
			failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStorage) GetPhase(ctx context.Context, phaseID string) (*types.Phase, error) {
	return scanPhase(s.db.QueryRowContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE phase_id = ?`, phaseID))
}

// ListPhases returns all phases of a run in execution order
func (s *SQLiteStorage) ListPhases(ctx context.Context, runID string) ([]*types.Phase, error) {
	return s.queryPhases(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE run_id = ? ORDER BY phase_index, phase_id`, runID)
}

// ListQueuedPhases returns the run's QUEUED phases in execution order
func (s *SQLiteStorage) ListQueuedPhases(ctx context.Context, runID string) ([]*types.Phase, error) {
	return s.queryPhases(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE run_id = ? AND state = ? ORDER BY phase_index, phase_id`,
		runID, types.PhaseQueued)
}

// TransitionPhase moves a phase through the state machine inside a
// transaction: the current state is re-read and the edge re-checked so a
// concurrent transition cannot double-apply. FAILED requires a reason.
func (s *SQLiteStorage) TransitionPhase(ctx context.Context, phaseID string, next types.PhaseState, failureReason string) error {
	if next == types.PhaseFailed && failureReason == "" {
		return fmt.Errorf("phase %s: FAILED transition requires a failure reason", phaseID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	phase, err := scanPhase(tx.QueryRowContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE phase_id = ?`, phaseID))
	if err != nil {
		return err
	}
	if err := phase.CanTransitionTo(next); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE phases SET state = ?, failure_reason = ?, updated_at = ? WHERE phase_id = ?`,
		next, failureReason, time.Now().UTC(), phaseID); err != nil {
		return fmt.Errorf("failed to transition phase %s: %w", phaseID, err)
	}
	return tx.Commit()
}

// SavePhaseProgress persists the mutable execution counters
func (s *SQLiteStorage) SavePhaseProgress(ctx context.Context, phase *types.Phase) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE phases SET
			retry_attempt = ?, revision_epoch = ?, escalation_level = ?,
			tokens_used = ?, builder_attempts = ?, auditor_attempts = ?,
			minor_issues = ?, major_issues = ?, updated_at = ?
		WHERE phase_id = ?`,
		phase.RetryAttempt, phase.RevisionEpoch, phase.EscalationLevel,
		phase.TokensUsed, phase.BuilderAttempts, phase.AuditorAttempts,
		phase.MinorIssues, phase.MajorIssues, time.Now().UTC(), phase.PhaseID)
	if err != nil {
		return fmt.Errorf("failed to save phase progress: %w", err)
	}
	return requireRow(result, "phase", phase.PhaseID)
}

// FindStuckPhases returns EXECUTING phases whose last update is older than
// the window. These are usually orphans from a crashed executor.
func (s *SQLiteStorage) FindStuckPhases(ctx context.Context, olderThan time.Duration) ([]*types.Phase, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.queryPhases(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE state = ? AND updated_at < ? ORDER BY updated_at`,
		types.PhaseExecuting, cutoff)
}

func (s *SQLiteStorage) queryPhases(ctx context.Context, query string, args ...interface{}) ([]*types.Phase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func scanPhase(row rowScanner) (*types.Phase, error) {
	var phase types.Phase
	var tierID int64
	var scopeJSON string
	err := row.Scan(&phase.PhaseID, &phase.RunID, &tierID, &phase.PhaseIndex,
		&phase.Name, &phase.Description, &scopeJSON, &phase.State,
		&phase.Category, &phase.Complexity, &phase.BuilderMode,
		&phase.MaxBuilderAttempts, &phase.MaxAuditorAttempts,
		&phase.RetryAttempt, &phase.RevisionEpoch, &phase.EscalationLevel, &phase.TokensUsed,
		&phase.BuilderAttempts, &phase.AuditorAttempts, &phase.MinorIssues, &phase.MajorIssues,
		&phase.FailureReason, &phase.CreatedAt, &phase.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("phase not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan phase: %w", err)
	}

	phase.TierID = types.NewTierRef(tierID)
	if err := json.Unmarshal([]byte(scopeJSON), &phase.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal phase scope: %w", err)
	}
	return &phase, nil
}
