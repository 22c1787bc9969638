package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autopack-ai/autopack/internal/types"
)

func promptPhase() *types.Phase {
	return &types.Phase{
		PhaseID:     "p1",
		RunID:       "run1",
		Name:        "add config loader",
		Description: "Load executor limits from the environment",
		Category:    types.CategoryImplementation,
		Complexity:  types.ComplexityMedium,
		BuilderMode: types.BuilderModePatch,
		Scope: types.Scope{
			Deliverables:   []string{"config loader", "env override tests"},
			AllowedPaths:   []string{"internal/config"},
			ProtectedPaths: []string{"db/migrations"},
		},
	}
}

func TestBuilderPromptIncludesScope(t *testing.T) {
	prompt := buildBuilderPrompt(promptPhase(), "")

	assert.Contains(t, prompt, "phase p1")
	assert.Contains(t, prompt, "config loader")
	assert.Contains(t, prompt, "internal/config")
	assert.Contains(t, prompt, "db/migrations")
	assert.Contains(t, prompt, "unified diff")
	assert.NotContains(t, prompt, "Guidance from previous attempt")
}

func TestBuilderPromptCarriesHint(t *testing.T) {
	prompt := buildBuilderPrompt(promptPhase(), "auditor rejected the patch: missing error handling")

	assert.Contains(t, prompt, "Guidance from previous attempt")
	assert.Contains(t, prompt, "missing error handling")
}

func TestBuilderPromptModeInstructions(t *testing.T) {
	phase := promptPhase()

	phase.BuilderMode = types.BuilderModeRewrite
	assert.Contains(t, buildBuilderPrompt(phase, ""), "complete replacement files")

	phase.BuilderMode = types.BuilderModeScaffold
	assert.Contains(t, buildBuilderPrompt(phase, ""), "new files only")
}

func TestAuditorPromptEmbedsPatch(t *testing.T) {
	prompt := buildAuditorPrompt(promptPhase(), "--- a/x\n+++ b/x\n")

	assert.Contains(t, prompt, "Auditor agent")
	assert.Contains(t, prompt, `"approved"`)
	assert.Contains(t, prompt, "+++ b/x")
}

func TestExtractJSONStripsFences(t *testing.T) {
	fenced := "```json\n{\"approved\": true}\n```"
	assert.Equal(t, `{"approved": true}`, extractJSON(fenced))

	prose := "Here is my verdict: {\"approved\": false} hope that helps"
	assert.Equal(t, `{"approved": false}`, extractJSON(prose))
}
