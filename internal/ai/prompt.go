package ai

import (
	"fmt"
	"strings"

	"github.com/autopack-ai/autopack/internal/types"
)

// buildBuilderPrompt assembles the builder prompt from the phase record and
// any hint accumulated by earlier failed attempts.
func buildBuilderPrompt(phase *types.Phase, hint string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the Builder agent for phase %s (%s).\n\n", phase.PhaseID, phase.Name)
	fmt.Fprintf(&b, "Task category: %s, complexity: %s, mode: %s.\n\n",
		phase.Category, phase.Complexity, phase.BuilderMode)

	if phase.Description != "" {
		fmt.Fprintf(&b, "## Description\n%s\n\n", phase.Description)
	}

	if len(phase.Scope.Deliverables) > 0 {
		b.WriteString("## Deliverables\n")
		for _, d := range phase.Scope.Deliverables {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}

	if len(phase.Scope.AllowedPaths) > 0 {
		fmt.Fprintf(&b, "## Writable paths\n%s\n\n", strings.Join(phase.Scope.AllowedPaths, "\n"))
	}
	if len(phase.Scope.ProtectedPaths) > 0 {
		fmt.Fprintf(&b, "## Protected paths (do not touch)\n%s\n\n", strings.Join(phase.Scope.ProtectedPaths, "\n"))
	}

	if hint != "" {
		fmt.Fprintf(&b, "## Guidance from previous attempt\n%s\n\n", hint)
	}

	switch phase.BuilderMode {
	case types.BuilderModeRewrite:
		b.WriteString("Emit complete replacement files for every file you change.\n")
	case types.BuilderModeScaffold:
		b.WriteString("Emit new files only; do not modify existing files.\n")
	default:
		b.WriteString("Emit a single unified diff against the current workspace.\n")
	}

	return b.String()
}

// buildAuditorPrompt assembles the auditor prompt for reviewing a patch
func buildAuditorPrompt(phase *types.Phase, patch string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the Auditor agent reviewing the Builder's patch for phase %s (%s).\n\n",
		phase.PhaseID, phase.Name)
	b.WriteString("Check the patch against the phase deliverables and scope. ")
	b.WriteString("Respond with JSON only: ")
	b.WriteString(`{"approved": bool, "minor_issues": int, "major_issues": int, "summary": string}`)
	b.WriteString("\n\n## Patch\n")
	b.WriteString(patch)

	return b.String()
}
