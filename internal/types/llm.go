package types

// AgentRole identifies which side of a round an LLM call serves
type AgentRole string

const (
	RoleBuilder AgentRole = "builder"
	RoleAuditor AgentRole = "auditor"
)

// LLMRequest is the request half of the LLM call contract.
type LLMRequest struct {
	Role        AgentRole `json:"role"`
	PhaseID     string    `json:"phase_id"`
	RunID       string    `json:"run_id"`
	Prompt      string    `json:"prompt"`
	FileContext []string  `json:"file_context,omitempty"`
	MaxTokens   int64     `json:"max_tokens"` // enforced output ceiling
	Model       string    `json:"model"`
}

// LLMResult is the response half of the LLM call contract.
type LLMResult struct {
	Success      bool   `json:"success"`
	PatchContent string `json:"patch_content"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	ModelUsed    string `json:"model_used"`
	StopReason   string `json:"stop_reason"`
	Truncated    bool   `json:"truncated"`
	Error        string `json:"error,omitempty"`
}

// TokensUsed returns the total tokens consumed by the call
func (r *LLMResult) TokensUsed() int64 {
	return r.InputTokens + r.OutputTokens
}

// OutputUtilization returns output tokens as a percentage of the enforced
// ceiling. The ceiling actually passed to the provider is used, not the
// estimator's intent; the two can differ when an escalation override raised
// the ceiling.
func (r *LLMResult) OutputUtilization(maxTokens int64) float64 {
	if maxTokens <= 0 {
		return 0
	}
	return float64(r.OutputTokens) / float64(maxTokens) * 100
}
