package sqlite

const schema = `
-- Runs table
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL DEFAULT 'RUN_CREATED',
    safety_profile TEXT NOT NULL DEFAULT '',
    run_scope TEXT NOT NULL DEFAULT '',
    token_cap INTEGER,
    tokens_used INTEGER NOT NULL DEFAULT 0 CHECK(tokens_used >= 0),
    max_phases INTEGER NOT NULL DEFAULT 0,
    max_duration_minutes INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);

-- Tiers table. The integer id is the surrogate key phases reference;
-- name is the human-readable tier identifier and must never be used as a key.
CREATE TABLE IF NOT EXISTS tiers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    name TEXT NOT NULL,
    tier_index INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT 'PENDING',
    tokens_used INTEGER NOT NULL DEFAULT 0 CHECK(tokens_used >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (run_id, name),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tiers_run ON tiers(run_id);

-- Phases table
CREATE TABLE IF NOT EXISTS phases (
    phase_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    tier_id INTEGER NOT NULL,
    phase_index INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    scope TEXT NOT NULL DEFAULT '{}',
    state TEXT NOT NULL DEFAULT 'QUEUED',
    task_category TEXT NOT NULL,
    complexity TEXT NOT NULL,
    builder_mode TEXT NOT NULL DEFAULT 'patch',
    max_builder_attempts INTEGER NOT NULL DEFAULT 3,
    max_auditor_attempts INTEGER NOT NULL DEFAULT 2,
    retry_attempt INTEGER NOT NULL DEFAULT 0,
    revision_epoch INTEGER NOT NULL DEFAULT 0,
    escalation_level INTEGER NOT NULL DEFAULT 0 CHECK(escalation_level IN (0, 1)),
    tokens_used INTEGER NOT NULL DEFAULT 0 CHECK(tokens_used >= 0),
    builder_attempts INTEGER NOT NULL DEFAULT 0,
    auditor_attempts INTEGER NOT NULL DEFAULT 0,
    minor_issues INTEGER NOT NULL DEFAULT 0,
    major_issues INTEGER NOT NULL DEFAULT 0,
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
    FOREIGN KEY (tier_id) REFERENCES tiers(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_phases_run ON phases(run_id);
CREATE INDEX IF NOT EXISTS idx_phases_state ON phases(state);
CREATE INDEX IF NOT EXISTS idx_phases_tier ON phases(tier_id);

-- Token estimation telemetry (append-only, one row per LLM call)
CREATE TABLE IF NOT EXISTS token_estimation_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    phase_id TEXT NOT NULL,
    retry_attempt INTEGER NOT NULL DEFAULT 0,
    category TEXT NOT NULL,
    complexity TEXT NOT NULL,
    predicted_tokens INTEGER NOT NULL,
    actual_tokens INTEGER NOT NULL,
    waste_ratio REAL NOT NULL,
    smape_percent REAL NOT NULL,
    truncated INTEGER NOT NULL DEFAULT 0,
    stop_reason TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_estimation_run ON token_estimation_events(run_id);
CREATE INDEX IF NOT EXISTS idx_estimation_phase ON token_estimation_events(phase_id);

-- Budget escalation telemetry (append-only)
CREATE TABLE IF NOT EXISTS token_budget_escalation_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    phase_id TEXT NOT NULL,
    base_value INTEGER NOT NULL,
    base_source TEXT NOT NULL,
    retry_max_tokens INTEGER NOT NULL,
    escalation_factor REAL NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    was_truncated INTEGER NOT NULL DEFAULT 0,
    output_utilization REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_escalation_run ON token_budget_escalation_events(run_id);

-- Doctor outcome telemetry (append-only)
CREATE TABLE IF NOT EXISTS doctor_outcome_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    phase_id TEXT NOT NULL,
    failure_class TEXT NOT NULL,
    recommendation TEXT NOT NULL DEFAULT '',
    ledger_summary TEXT NOT NULL DEFAULT '',
    phase_outcome TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_doctor_run ON doctor_outcome_events(run_id);
`
