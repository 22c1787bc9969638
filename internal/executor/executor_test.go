package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/autopack-ai/autopack/internal/ci"
	"github.com/autopack-ai/autopack/internal/config"
	"github.com/autopack-ai/autopack/internal/storage/sqlite"
	"github.com/autopack-ai/autopack/internal/types"
)

const testPatch = `--- a/internal/config/loader.go
+++ b/internal/config/loader.go
@@ -1,3 +1,4 @@
 package config
+// loader
`

// scriptedClient returns canned builder and auditor responses in order.
// Each role has its own queue; the last response repeats once drained.
type scriptedClient struct {
	builder []*types.LLMResult
	auditor []*types.LLMResult

	builderCalls int
	auditorCalls int
	lastHint     string
}

func (c *scriptedClient) Complete(_ context.Context, req types.LLMRequest) (*types.LLMResult, error) {
	switch req.Role {
	case types.RoleBuilder:
		c.builderCalls++
		c.lastHint = req.Prompt
		return pick(c.builder, c.builderCalls), nil
	case types.RoleAuditor:
		c.auditorCalls++
		return pick(c.auditor, c.auditorCalls), nil
	}
	return nil, fmt.Errorf("unknown role %s", req.Role)
}

func pick(queue []*types.LLMResult, call int) *types.LLMResult {
	if len(queue) == 0 {
		return &types.LLMResult{Success: true, PatchContent: testPatch, InputTokens: 100, OutputTokens: 200}
	}
	if call > len(queue) {
		return queue[len(queue)-1]
	}
	return queue[call-1]
}

func builderOK() *types.LLMResult {
	return &types.LLMResult{
		Success: true, PatchContent: testPatch,
		InputTokens: 500, OutputTokens: 1200, StopReason: "end_turn",
	}
}

func builderTruncated() *types.LLMResult {
	return &types.LLMResult{
		Success: true, PatchContent: "--- a/x\n+++ b/x\n(truncated",
		InputTokens: 500, OutputTokens: 4000, StopReason: "max_tokens", Truncated: true,
	}
}

func auditorApproves() *types.LLMResult {
	return &types.LLMResult{
		Success:      true,
		PatchContent: `{"approved": true, "minor_issues": 1, "major_issues": 0, "summary": "looks fine"}`,
		InputTokens:  200, OutputTokens: 80,
	}
}

func auditorRejects() *types.LLMResult {
	return &types.LLMResult{
		Success:      true,
		PatchContent: `{"approved": false, "minor_issues": 0, "major_issues": 2, "summary": "patch drops error handling"}`,
		InputTokens:  200, OutputTokens: 80,
	}
}

type testHarness struct {
	exec   *Executor
	store  *sqlite.SQLiteStorage
	client *scriptedClient
	dir    string
}

func newHarness(t *testing.T, client *scriptedClient, ciConfig *ci.Config) *testHarness {
	t.Helper()
	dir := t.TempDir()

	store, err := sqlite.New(filepath.Join(dir, "autopack.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if ciConfig == nil {
		ciConfig = &ci.Config{Skip: true, TimeoutSeconds: 10, WorkingDir: dir}
	}

	limits := config.DefaultExecutorLimits()
	exec, err := New(&Config{
		Store:             store,
		Client:            client,
		CIConfig:          ciConfig,
		Limits:            &limits,
		ProofDir:          filepath.Join(dir, "proofs"),
		DoctorArtifactDir: filepath.Join(dir, "diagnostics"),
		DoctorSandboxDir:  dir,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testHarness{exec: exec, store: store, client: client, dir: dir}
}

func (h *testHarness) seedPhase(t *testing.T, tokenCap *int64) *types.Phase {
	t.Helper()
	ctx := context.Background()

	run := &types.Run{ID: "run1", State: types.RunCreated, TokenCap: tokenCap}
	if err := h.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	tier := &types.Tier{RunID: run.ID, Name: "tier-1", TierIndex: 0}
	if err := h.store.CreateTier(ctx, tier); err != nil {
		t.Fatalf("CreateTier: %v", err)
	}
	phase := &types.Phase{
		PhaseID:            "p1",
		RunID:              run.ID,
		TierID:             tier.Ref(),
		Name:               "add config loader",
		State:              types.PhaseQueued,
		Category:           types.CategoryImplementation,
		Complexity:         types.ComplexityMedium,
		BuilderMode:        types.BuilderModePatch,
		MaxBuilderAttempts: 3,
		MaxAuditorAttempts: 2,
		Scope: types.Scope{
			Deliverables: []string{"config loader"},
			AllowedPaths: []string{"internal/config"},
		},
	}
	if err := h.store.CreatePhase(ctx, phase); err != nil {
		t.Fatalf("CreatePhase: %v", err)
	}
	return phase
}

func (h *testHarness) reloadPhase(t *testing.T, phaseID string) *types.Phase {
	t.Helper()
	phase, err := h.store.GetPhase(context.Background(), phaseID)
	if err != nil {
		t.Fatalf("GetPhase: %v", err)
	}
	return phase
}

func (h *testHarness) proofFiles(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.dir, "proofs", "proof-*.json"))
	if err != nil {
		t.Fatalf("glob proofs: %v", err)
	}
	return matches
}

func TestFirstAttemptSuccessCompletes(t *testing.T) {
	client := &scriptedClient{
		builder: []*types.LLMResult{builderOK()},
		auditor: []*types.LLMResult{auditorApproves()},
	}
	h := newHarness(t, client, nil)
	phase := h.seedPhase(t, nil)

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}

	got := h.reloadPhase(t, phase.PhaseID)
	if got.State != types.PhaseComplete {
		t.Fatalf("expected COMPLETE, got %s (%s)", got.State, got.FailureReason)
	}
	if got.BuilderAttempts != 1 || got.AuditorAttempts != 1 {
		t.Errorf("expected one builder and one auditor attempt, got %d/%d",
			got.BuilderAttempts, got.AuditorAttempts)
	}
	if got.MinorIssues != 1 {
		t.Errorf("minor issues should persist, got %d", got.MinorIssues)
	}
	if got.TokensUsed == 0 {
		t.Error("tokens should be accounted to the phase")
	}

	proofs := h.proofFiles(t)
	if len(proofs) != 1 {
		t.Fatalf("expected one proof artifact, got %d", len(proofs))
	}
	data, err := os.ReadFile(proofs[0])
	if err != nil {
		t.Fatalf("read proof: %v", err)
	}
	var proof Proof
	if err := json.Unmarshal(data, &proof); err != nil {
		t.Fatalf("parse proof: %v", err)
	}
	if !proof.Success {
		t.Error("proof should record success")
	}
	if len(proof.Changes.FilesModified) != 1 || proof.Changes.FilesModified[0] != "internal/config/loader.go" {
		t.Errorf("unexpected files modified: %v", proof.Changes.FilesModified)
	}
	if len(proof.Changes.KeyChanges) != 1 || proof.Changes.KeyChanges[0] != "config loader" {
		t.Errorf("key changes should carry the deliverables, got %v", proof.Changes.KeyChanges)
	}
	if !proof.MetricsPlaceholder {
		t.Error("proof should flag its metrics block as placeholder data")
	}
	if proof.Verification.CoverageDelta != nil {
		t.Error("coverage delta should stay nil when CI reports nothing")
	}
}

func TestProofRecordsTestCounts(t *testing.T) {
	dir := t.TempDir()
	resultsPath := filepath.Join(dir, "results.json")
	results := map[string]interface{}{
		"status":        "passed",
		"tests_run":     20,
		"tests_passed":  18,
		"failing_tests": []string{"test_a", "test_b"},
		"coverage":      map[string]interface{}{"delta": 1.5},
	}
	data, err := json.Marshal(results)
	if err != nil {
		t.Fatalf("marshal results: %v", err)
	}
	if err := os.WriteFile(resultsPath, data, 0644); err != nil {
		t.Fatalf("write results: %v", err)
	}

	client := &scriptedClient{
		builder: []*types.LLMResult{builderOK()},
		auditor: []*types.LLMResult{auditorApproves()},
	}
	ciConfig := &ci.Config{
		Command:        "true",
		TimeoutSeconds: 10,
		WorkingDir:     dir,
		ResultsFile:    resultsPath,
	}
	h := newHarness(t, client, ciConfig)
	phase := h.seedPhase(t, nil)

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}
	if got := h.reloadPhase(t, phase.PhaseID); got.State != types.PhaseComplete {
		t.Fatalf("expected COMPLETE, got %s (%s)", got.State, got.FailureReason)
	}

	proofs := h.proofFiles(t)
	if len(proofs) != 1 {
		t.Fatalf("expected one proof artifact, got %d", len(proofs))
	}
	data, err = os.ReadFile(proofs[0])
	if err != nil {
		t.Fatalf("read proof: %v", err)
	}
	var proof Proof
	if err := json.Unmarshal(data, &proof); err != nil {
		t.Fatalf("parse proof: %v", err)
	}
	if proof.Verification.TestsPassed != 18 {
		t.Errorf("expected 18 tests passed, got %d", proof.Verification.TestsPassed)
	}
	if proof.Verification.TestsFailed != 2 {
		t.Errorf("expected 2 tests failed, got %d", proof.Verification.TestsFailed)
	}
	if proof.Verification.CoverageDelta == nil || *proof.Verification.CoverageDelta != 1.5 {
		t.Errorf("expected coverage delta 1.5, got %v", proof.Verification.CoverageDelta)
	}
}

func TestTruncationEscalatesOnceThenFails(t *testing.T) {
	// The truncated patch touches a path outside the phase scope, so every
	// attempt fails deterministically before reaching the auditor.
	client := &scriptedClient{
		builder: []*types.LLMResult{builderTruncated(), builderTruncated(), builderTruncated()},
	}
	h := newHarness(t, client, nil)
	phase := h.seedPhase(t, nil)

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}

	got := h.reloadPhase(t, phase.PhaseID)
	if got.State != types.PhaseFailed {
		t.Fatalf("expected FAILED, got %s", got.State)
	}
	if !strings.Contains(got.FailureReason, "max builder attempts") {
		t.Errorf("failure reason should mention attempt exhaustion, got %q", got.FailureReason)
	}
	if got.EscalationLevel != 1 {
		t.Errorf("escalation should have fired exactly once, level=%d", got.EscalationLevel)
	}
	if client.builderCalls != 3 {
		t.Errorf("expected 3 builder attempts, got %d", client.builderCalls)
	}

	report, err := h.store.TelemetryReport(context.Background(), phase.RunID)
	if err != nil {
		t.Fatalf("TelemetryReport: %v", err)
	}
	if report.Escalations != 1 {
		t.Errorf("expected exactly 1 persisted escalation, got %d", report.Escalations)
	}
}

func TestAuditorRejectionFeedsHintIntoRetry(t *testing.T) {
	client := &scriptedClient{
		builder: []*types.LLMResult{builderOK(), builderOK()},
		auditor: []*types.LLMResult{auditorRejects(), auditorApproves()},
	}
	h := newHarness(t, client, nil)
	phase := h.seedPhase(t, nil)

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}

	got := h.reloadPhase(t, phase.PhaseID)
	if got.State != types.PhaseComplete {
		t.Fatalf("expected COMPLETE after second attempt, got %s (%s)", got.State, got.FailureReason)
	}
	if got.BuilderAttempts != 2 {
		t.Errorf("expected 2 builder attempts, got %d", got.BuilderAttempts)
	}
	if got.MajorIssues != 2 {
		t.Errorf("rejection issues should persist, got %d major", got.MajorIssues)
	}
	if !strings.Contains(client.lastHint, "auditor rejected") {
		t.Error("second builder prompt should carry the auditor rejection hint")
	}
}

func TestScopeViolationConsumesAttempt(t *testing.T) {
	outOfScope := &types.LLMResult{
		Success:      true,
		PatchContent: "--- a/db/schema.sql\n+++ b/db/schema.sql\n@@\n+alter\n",
		InputTokens:  500, OutputTokens: 900,
	}
	client := &scriptedClient{
		builder: []*types.LLMResult{outOfScope, builderOK()},
		auditor: []*types.LLMResult{auditorApproves()},
	}
	h := newHarness(t, client, nil)
	phase := h.seedPhase(t, nil)

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}

	got := h.reloadPhase(t, phase.PhaseID)
	if got.State != types.PhaseComplete {
		t.Fatalf("expected COMPLETE on the retry, got %s (%s)", got.State, got.FailureReason)
	}
	if got.BuilderAttempts != 2 {
		t.Errorf("scope violation should consume an attempt, got %d attempts", got.BuilderAttempts)
	}
	if !strings.Contains(client.lastHint, "scope_violation") {
		t.Error("retry prompt should mention the scope violation")
	}
}

func TestPatchFailureExhaustionRoutesToPatchDiagnostics(t *testing.T) {
	outOfScope := &types.LLMResult{
		Success:      true,
		PatchContent: "--- a/db/schema.sql\n+++ b/db/schema.sql\n@@\n+alter\n",
		InputTokens:  500, OutputTokens: 900,
	}
	client := &scriptedClient{
		builder: []*types.LLMResult{outOfScope, outOfScope, outOfScope},
	}
	h := newHarness(t, client, nil)
	phase := h.seedPhase(t, nil)

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}

	got := h.reloadPhase(t, phase.PhaseID)
	if got.State != types.PhaseFailed {
		t.Fatalf("expected FAILED, got %s", got.State)
	}
	if !strings.Contains(got.FailureReason, "max builder attempts") {
		t.Errorf("failure reason should mention attempt exhaustion, got %q", got.FailureReason)
	}

	transcripts, err := filepath.Glob(filepath.Join(h.dir, "diagnostics", "doctor-*.json"))
	if err != nil {
		t.Fatalf("glob transcripts: %v", err)
	}
	if len(transcripts) != 1 {
		t.Fatalf("expected one diagnostics transcript, got %d", len(transcripts))
	}
	data, err := os.ReadFile(transcripts[0])
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	var diagnosis struct {
		FailureClass string `json:"failure_class"`
	}
	if err := json.Unmarshal(data, &diagnosis); err != nil {
		t.Fatalf("parse transcript: %v", err)
	}
	if diagnosis.FailureClass != "patch_apply_error" {
		t.Errorf("patch-level exhaustion should diagnose as patch_apply_error, got %q", diagnosis.FailureClass)
	}
}

func TestRunBudgetExhaustionFailsImmediately(t *testing.T) {
	client := &scriptedClient{
		builder: []*types.LLMResult{builderOK()},
		auditor: []*types.LLMResult{auditorApproves()},
	}
	h := newHarness(t, client, nil)
	cap := int64(1000)
	phase := h.seedPhase(t, &cap)

	// Spend the run budget before the phase starts.
	if err := h.store.AddRunTokens(context.Background(), phase.RunID, 1000); err != nil {
		t.Fatalf("AddRunTokens: %v", err)
	}

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}

	got := h.reloadPhase(t, phase.PhaseID)
	if got.State != types.PhaseFailed {
		t.Fatalf("expected FAILED, got %s", got.State)
	}
	if !strings.Contains(got.FailureReason, "budget exhausted") {
		t.Errorf("failure reason should name the budget, got %q", got.FailureReason)
	}
	if client.builderCalls != 0 {
		t.Errorf("no builder call should happen after budget exhaustion, got %d", client.builderCalls)
	}
}

func TestRegressionBlocksCompletion(t *testing.T) {
	dir := t.TempDir()
	resultsPath := filepath.Join(dir, "results.json")
	results := map[string]interface{}{
		"status":       "failed",
		"tests_run":    20,
		"tests_passed": 14,
		"failing_tests": []string{
			"test_a", "test_b", "test_c", "test_d", "test_e", "test_f",
		},
	}
	data, err := json.Marshal(results)
	if err != nil {
		t.Fatalf("marshal results: %v", err)
	}
	if err := os.WriteFile(resultsPath, data, 0644); err != nil {
		t.Fatalf("write results: %v", err)
	}

	client := &scriptedClient{
		builder: []*types.LLMResult{builderOK()},
		auditor: []*types.LLMResult{auditorApproves()},
	}
	ciConfig := &ci.Config{
		Command:        "true",
		TimeoutSeconds: 10,
		WorkingDir:     dir,
		BaselinePath:   filepath.Join(dir, "baseline.json"),
		ResultsFile:    resultsPath,
	}
	h := newHarness(t, client, ciConfig)
	phase := h.seedPhase(t, nil)

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}

	got := h.reloadPhase(t, phase.PhaseID)
	if got.State != types.PhaseFailed {
		t.Fatalf("6 newly-failing tests should block completion, got %s", got.State)
	}
	if !strings.Contains(got.FailureReason, "regression") {
		t.Errorf("failure reason should name the regression, got %q", got.FailureReason)
	}
}

func TestQualityGateBlocksCompletion(t *testing.T) {
	client := &scriptedClient{
		builder: []*types.LLMResult{builderOK()},
		auditor: []*types.LLMResult{auditorApproves()},
	}
	h := newHarness(t, client, nil)
	h.exec.quality = func(context.Context, *types.Phase) *ci.QualityReport {
		return &ci.QualityReport{IsBlocked: true, Reason: "unresolved review findings"}
	}
	phase := h.seedPhase(t, nil)

	if err := h.exec.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase: %v", err)
	}

	got := h.reloadPhase(t, phase.PhaseID)
	if got.State != types.PhaseFailed {
		t.Fatalf("blocked quality report should fail the phase, got %s", got.State)
	}
	if !strings.Contains(got.FailureReason, "quality_blocked") {
		t.Errorf("failure reason should name the quality gate, got %q", got.FailureReason)
	}
}

func TestExecuteQueuedPhasesRunsInOrder(t *testing.T) {
	client := &scriptedClient{
		auditor: []*types.LLMResult{auditorApproves()},
	}
	h := newHarness(t, client, nil)
	ctx := context.Background()

	run := &types.Run{ID: "run1", State: types.RunCreated}
	if err := h.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	tier := &types.Tier{RunID: run.ID, Name: "tier-1", TierIndex: 0}
	if err := h.store.CreateTier(ctx, tier); err != nil {
		t.Fatalf("CreateTier: %v", err)
	}
	for i := 0; i < 2; i++ {
		phase := &types.Phase{
			PhaseID:     fmt.Sprintf("p%d", i+1),
			RunID:       run.ID,
			TierID:      tier.Ref(),
			PhaseIndex:  i,
			Name:        fmt.Sprintf("phase %d", i+1),
			State:       types.PhaseQueued,
			Category:    types.CategoryImplementation,
			Complexity:  types.ComplexityLow,
			BuilderMode: types.BuilderModePatch,
		}
		if err := h.store.CreatePhase(ctx, phase); err != nil {
			t.Fatalf("CreatePhase: %v", err)
		}
	}

	if err := h.exec.ExecuteQueuedPhases(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteQueuedPhases: %v", err)
	}

	for _, id := range []string{"p1", "p2"} {
		got := h.reloadPhase(t, id)
		if got.State != types.PhaseComplete {
			t.Errorf("phase %s: expected COMPLETE, got %s (%s)", id, got.State, got.FailureReason)
		}
	}
}
