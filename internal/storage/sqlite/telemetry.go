package sqlite

import (
	"context"
	"fmt"

	"github.com/autopack-ai/autopack/internal/events"
)

// AppendTokenEstimationEvent writes one estimation row. Rows are append-only.
func (s *SQLiteStorage) AppendTokenEstimationEvent(ctx context.Context, ev *events.TokenEstimationEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_estimation_events (id, run_id, phase_id, retry_attempt,
			category, complexity, predicted_tokens, actual_tokens,
			waste_ratio, smape_percent, truncated, stop_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.PhaseID, ev.RetryAttempt,
		ev.Category, ev.Complexity, ev.PredictedTokens, ev.ActualTokens,
		ev.WasteRatio, ev.SMAPEPercent, ev.Truncated, ev.StopReason, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append estimation event: %w", err)
	}
	return nil
}

// AppendEscalationEvent writes one escalation row
func (s *SQLiteStorage) AppendEscalationEvent(ctx context.Context, ev *events.TokenBudgetEscalationEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_budget_escalation_events (id, run_id, phase_id,
			base_value, base_source, retry_max_tokens, escalation_factor,
			reason, was_truncated, output_utilization, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.PhaseID,
		ev.BaseValue, ev.BaseSource, ev.RetryMaxTokens, ev.EscalationFactor,
		ev.Reason, ev.WasTruncated, ev.OutputUtilization, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append escalation event: %w", err)
	}
	return nil
}

// AppendDoctorOutcomeEvent writes one diagnostics outcome row
func (s *SQLiteStorage) AppendDoctorOutcomeEvent(ctx context.Context, ev *events.DoctorOutcomeEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doctor_outcome_events (id, run_id, phase_id,
			failure_class, recommendation, ledger_summary, phase_outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.PhaseID,
		ev.FailureClass, ev.Recommendation, ev.LedgerSummary, ev.PhaseOutcome, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append doctor outcome event: %w", err)
	}
	return nil
}

// TelemetryReport aggregates estimation telemetry for a run, or for all runs
// when runID is empty.
func (s *SQLiteStorage) TelemetryReport(ctx context.Context, runID string) (*events.TelemetryReport, error) {
	report := &events.TelemetryReport{RunID: runID}

	filter := ""
	var args []interface{}
	if runID != "" {
		filter = " WHERE run_id = ?"
		args = append(args, runID)
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(AVG(waste_ratio), 0),
			COALESCE(AVG(smape_percent), 0),
			COALESCE(AVG(CASE WHEN truncated THEN 1.0 ELSE 0.0 END), 0)
		FROM token_estimation_events`+filter, args...).
		Scan(&report.Calls, &report.MeanWasteRatio, &report.MeanSMAPEPercent, &report.TruncationRate)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate estimation telemetry: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM token_budget_escalation_events`+filter, args...).
		Scan(&report.Escalations)
	if err != nil {
		return nil, fmt.Errorf("failed to count escalations: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM doctor_outcome_events`+filter, args...).
		Scan(&report.DoctorSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to count doctor sessions: %w", err)
	}

	return report, nil
}
