package types

import (
	"fmt"
	"strings"
	"time"
)

// PhaseState represents the lifecycle state of a phase
type PhaseState string

const (
	PhaseQueued    PhaseState = "QUEUED"
	PhaseExecuting PhaseState = "EXECUTING"
	PhaseComplete  PhaseState = "COMPLETE"
	PhaseFailed    PhaseState = "FAILED"
)

// IsValid checks if the phase state value is valid
func (s PhaseState) IsValid() bool {
	switch s {
	case PhaseQueued, PhaseExecuting, PhaseComplete, PhaseFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the state is COMPLETE or FAILED
func (s PhaseState) IsTerminal() bool {
	return s == PhaseComplete || s == PhaseFailed
}

// TaskCategory categorizes the kind of work a phase performs.
// The category drives token budget multipliers and estimation buffers.
type TaskCategory string

const (
	CategoryImplementation TaskCategory = "implementation"
	CategoryRefactor       TaskCategory = "refactor"
	CategoryTesting        TaskCategory = "testing"
	CategoryResearch       TaskCategory = "research"
	CategoryAudit          TaskCategory = "audit"
	CategoryMigration      TaskCategory = "migration"
	// Documentation-synthesis categories are prone to truncation: the model
	// front-loads content and runs out of budget near the end.
	CategoryDocSynthesis  TaskCategory = "doc_synthesis"
	CategorySpecSynthesis TaskCategory = "spec_synthesis"
)

// IsValid checks if the task category value is valid
func (c TaskCategory) IsValid() bool {
	switch c {
	case CategoryImplementation, CategoryRefactor, CategoryTesting,
		CategoryResearch, CategoryAudit, CategoryMigration,
		CategoryDocSynthesis, CategorySpecSynthesis:
		return true
	}
	return false
}

// IsSynthesis reports whether this is a documentation-synthesis category
func (c TaskCategory) IsSynthesis() bool {
	return c == CategoryDocSynthesis || c == CategorySpecSynthesis
}

// IsHighRisk reports whether the category historically produces oversized output
func (c TaskCategory) IsHighRisk() bool {
	return c == CategoryMigration || c == CategoryRefactor || c.IsSynthesis()
}

// Complexity is the planner's estimate of how hard a phase is
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValid checks if the complexity value is valid
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// BuilderMode selects the builder execution strategy for a phase
type BuilderMode string

const (
	BuilderModePatch    BuilderMode = "patch"    // emit a unified diff
	BuilderModeRewrite  BuilderMode = "rewrite"  // emit whole files
	BuilderModeScaffold BuilderMode = "scaffold" // emit new files only
)

// IsValid checks if the builder mode value is valid
func (m BuilderMode) IsValid() bool {
	switch m {
	case BuilderModePatch, BuilderModeRewrite, BuilderModeScaffold:
		return true
	}
	return false
}

// Phase is the unit the execution state machine operates on.
// Created QUEUED by the planner, mutated in place through EXECUTING, and
// finished in a terminal COMPLETE or FAILED state. Phases are never deleted
// by the executor.
type Phase struct {
	PhaseID     string       `json:"phase_id"` // unique within the run
	RunID       string       `json:"run_id"`
	TierID      TierRef      `json:"tier_id"`
	PhaseIndex  int          `json:"phase_index"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Scope       Scope        `json:"scope"`
	State       PhaseState   `json:"state"`
	Category    TaskCategory `json:"task_category"`
	Complexity  Complexity   `json:"complexity"`
	BuilderMode BuilderMode  `json:"builder_mode"`

	// Attempt budgets, read at dispatch time
	MaxBuilderAttempts int `json:"max_builder_attempts"`
	MaxAuditorAttempts int `json:"max_auditor_attempts"`

	// Mutable execution counters
	RetryAttempt    int    `json:"retry_attempt"`    // monotonic, persists hint accumulation
	RevisionEpoch   int    `json:"revision_epoch"`   // bumped when the approach is revised
	EscalationLevel int    `json:"escalation_level"` // 0 = base budget, 1 = escalated (capped at 1)
	TokensUsed      int64  `json:"tokens_used"`
	BuilderAttempts int    `json:"builder_attempts"`
	AuditorAttempts int    `json:"auditor_attempts"`
	MinorIssues     int    `json:"minor_issues"`
	MajorIssues     int    `json:"major_issues"`
	FailureReason   string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the phase has valid field values
func (p *Phase) Validate() error {
	if strings.TrimSpace(p.PhaseID) == "" {
		return fmt.Errorf("phase_id is required")
	}
	if p.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if p.TierID.IsZero() {
		return fmt.Errorf("tier_id is required (must be the tier's integer key, not its name)")
	}
	if !p.State.IsValid() {
		return fmt.Errorf("invalid phase state: %s", p.State)
	}
	if !p.Category.IsValid() {
		return fmt.Errorf("invalid task category: %s", p.Category)
	}
	if !p.Complexity.IsValid() {
		return fmt.Errorf("invalid complexity: %s", p.Complexity)
	}
	if !p.BuilderMode.IsValid() {
		return fmt.Errorf("invalid builder mode: %s", p.BuilderMode)
	}
	if p.EscalationLevel < 0 || p.EscalationLevel > 1 {
		return fmt.Errorf("escalation_level must be 0 or 1 (got %d)", p.EscalationLevel)
	}
	if p.MaxBuilderAttempts < 0 || p.MaxAuditorAttempts < 0 {
		return fmt.Errorf("attempt budgets cannot be negative")
	}
	return nil
}

// CanTransitionTo enforces the phase state machine edges:
// QUEUED → EXECUTING, EXECUTING → EXECUTING (retry), EXECUTING → terminal.
func (p *Phase) CanTransitionTo(next PhaseState) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid phase state: %s", next)
	}
	if p.State.IsTerminal() {
		return fmt.Errorf("phase %s is terminal (%s), cannot transition to %s", p.PhaseID, p.State, next)
	}
	switch p.State {
	case PhaseQueued:
		if next != PhaseExecuting {
			return fmt.Errorf("phase %s: QUEUED may only transition to EXECUTING (got %s)", p.PhaseID, next)
		}
	case PhaseExecuting:
		// Self-loop and terminal transitions are both allowed.
	}
	return nil
}
