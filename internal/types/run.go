package types

import (
	"fmt"
	"time"
)

// RunState represents the lifecycle state of a run
type RunState string

const (
	RunCreated       RunState = "RUN_CREATED"
	RunPhaseQueueing RunState = "PHASE_QUEUEING"
	RunPhaseExec     RunState = "PHASE_EXECUTION"
	RunDoneSuccess   RunState = "DONE_SUCCESS"
	RunDoneFailure   RunState = "DONE_FAILURE"
)

// IsValid checks if the run state value is valid
func (s RunState) IsValid() bool {
	switch s {
	case RunCreated, RunPhaseQueueing, RunPhaseExec, RunDoneSuccess, RunDoneFailure:
		return true
	}
	return false
}

// IsTerminal reports whether the state is a DONE_* state
func (s RunState) IsTerminal() bool {
	return s == RunDoneSuccess || s == RunDoneFailure
}

// rank orders run states for the monotonic transition check
func (s RunState) rank() int {
	switch s {
	case RunCreated:
		return 0
	case RunPhaseQueueing:
		return 1
	case RunPhaseExec:
		return 2
	case RunDoneSuccess, RunDoneFailure:
		return 3
	}
	return -1
}

// Run is the top-level unit of work. A run owns zero or more tiers.
type Run struct {
	ID                 string    `json:"id"`
	State              RunState  `json:"state"`
	SafetyProfile      string    `json:"safety_profile"`
	RunScope           string    `json:"run_scope"`
	TokenCap           *int64    `json:"token_cap,omitempty"` // nil = unlimited
	TokensUsed         int64     `json:"tokens_used"`
	MaxPhases          int       `json:"max_phases"`
	MaxDurationMinutes int       `json:"max_duration_minutes"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CanTransitionTo enforces monotonic run state transitions: a run never
// regresses, and never leaves a terminal DONE_* state.
func (r *Run) CanTransitionTo(next RunState) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid run state: %s", next)
	}
	if r.State.IsTerminal() {
		return fmt.Errorf("run %s is terminal (%s), cannot transition to %s", r.ID, r.State, next)
	}
	if next.rank() < r.State.rank() {
		return fmt.Errorf("run %s cannot regress from %s to %s", r.ID, r.State, next)
	}
	return nil
}

// Validate checks if the run has valid field values
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if !r.State.IsValid() {
		return fmt.Errorf("invalid run state: %s", r.State)
	}
	if r.TokenCap != nil && *r.TokenCap < 0 {
		return fmt.Errorf("token_cap cannot be negative")
	}
	if r.TokensUsed < 0 {
		return fmt.Errorf("tokens_used cannot be negative")
	}
	return nil
}

// TierState represents the lifecycle state of a tier
type TierState string

const (
	TierPending    TierState = "PENDING"
	TierInProgress TierState = "IN_PROGRESS"
	TierComplete   TierState = "COMPLETE"
)

// IsValid checks if the tier state value is valid
func (s TierState) IsValid() bool {
	switch s {
	case TierPending, TierInProgress, TierComplete:
		return true
	}
	return false
}

// Tier is a named grouping of phases within a run. The integer ID is the
// surrogate key; Name is the human-readable tier identifier. The two must
// never be conflated: phases reference a tier only through TierRef.
type Tier struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	TierIndex  int       `json:"tier_index"`
	State      TierState `json:"state"`
	TokensUsed int64     `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ref returns the typed reference to this tier's surrogate key
func (t *Tier) Ref() TierRef {
	return NewTierRef(t.ID)
}

// TierRef is a dedicated value type for the tier's integer surrogate key.
// Historically tier_id columns were sometimes populated with the tier's
// human-readable name; wrapping the key in a struct makes that a compile
// error instead of a data corruption.
type TierRef struct {
	id int64
}

// NewTierRef wraps a tier surrogate key. The key must be positive.
func NewTierRef(id int64) TierRef {
	return TierRef{id: id}
}

// Int64 returns the underlying surrogate key for storage binding
func (r TierRef) Int64() int64 {
	return r.id
}

// IsZero reports whether the reference was never set
func (r TierRef) IsZero() bool {
	return r.id == 0
}

func (r TierRef) String() string {
	return fmt.Sprintf("tier#%d", r.id)
}
