package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/autopack-ai/autopack/internal/events"
	"github.com/autopack-ai/autopack/internal/recovery"
	"github.com/autopack-ai/autopack/internal/types"
)

// scriptedClient returns canned results/errors in order, then repeats the last
type scriptedClient struct {
	results  []*types.LLMResult
	errs     []error
	calls    int
	requests []types.LLMRequest
}

func (c *scriptedClient) Complete(ctx context.Context, req types.LLMRequest) (*types.LLMResult, error) {
	c.requests = append(c.requests, req)
	i := c.calls
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	c.calls++
	if c.errs[i] != nil {
		return nil, c.errs[i]
	}
	return c.results[i], nil
}

type memSink struct {
	estimations []*events.TokenEstimationEvent
}

func (s *memSink) AppendTokenEstimationEvent(_ context.Context, ev *events.TokenEstimationEvent) error {
	s.estimations = append(s.estimations, ev)
	return nil
}

func fastRetry() recovery.RetryConfig {
	cfg := recovery.DefaultRetryConfig()
	cfg.InitialBackoff = 1
	return cfg
}

func testPhase() *types.Phase {
	return &types.Phase{
		PhaseID:     "run1:p1",
		RunID:       "run1",
		TierID:      types.NewTierRef(1),
		Name:        "add config loader",
		State:       types.PhaseExecuting,
		Category:    types.CategoryImplementation,
		Complexity:  types.ComplexityLow,
		BuilderMode: types.BuilderModePatch,
		Scope: types.Scope{
			Deliverables:   []string{"config loader"},
			ProtectedPaths: []string{"db/migrations"},
		},
	}
}

const goodPatch = `--- a/internal/config/config.go
+++ b/internal/config/config.go
@@ -1,3 +1,4 @@
 package config
+// loader
`

func TestBuilderRoundSuccess(t *testing.T) {
	sink := &memSink{}
	client := &scriptedClient{
		results: []*types.LLMResult{{
			Success: true, PatchContent: goodPatch,
			InputTokens: 500, OutputTokens: 700, StopReason: "end_turn",
		}},
		errs: []error{nil},
	}
	runner, err := NewAttemptRunner(RunnerConfig{Client: client, Telemetry: sink, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewAttemptRunner: %v", err)
	}

	res, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 0, 1)
	if err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if !res.Outcome.Success() {
		t.Fatalf("expected success, got %s: %s", res.Outcome.Disposition, res.Outcome.Detail)
	}
	if res.Outcome.TokensUsed != 1200 {
		t.Errorf("expected 1200 tokens used, got %d", res.Outcome.TokensUsed)
	}
	if len(res.Outcome.PatchPaths) != 1 || res.Outcome.PatchPaths[0] != "internal/config/config.go" {
		t.Errorf("unexpected patch paths: %v", res.Outcome.PatchPaths)
	}
	if len(sink.estimations) != 1 {
		t.Fatalf("expected one estimation event per call, got %d", len(sink.estimations))
	}
	if sink.estimations[0].ActualTokens != 700 {
		t.Errorf("estimation event should record output tokens, got %d", sink.estimations[0].ActualTokens)
	}
}

func TestBuilderRoundRecordsAttemptNumber(t *testing.T) {
	sink := &memSink{}
	client := &scriptedClient{
		results: []*types.LLMResult{{Success: true, PatchContent: goodPatch, OutputTokens: 100}},
		errs:    []error{nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Telemetry: sink, Retry: fastRetry()})

	if _, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 0, 3); err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if len(sink.estimations) != 1 {
		t.Fatalf("expected one estimation event, got %d", len(sink.estimations))
	}
	if got := sink.estimations[0].RetryAttempt; got != 3 {
		t.Errorf("estimation event should carry the attempt it was made on, got %d", got)
	}
}

func TestBuilderRoundCeilingEnforcement(t *testing.T) {
	client := &scriptedClient{
		results: []*types.LLMResult{{Success: true, PatchContent: goodPatch}},
		errs:    []error{nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry()})

	// An override below the estimator budget must not undercut it
	res, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 64, 1)
	if err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if res.EnforcedMax != res.Estimate.SelectedBudget {
		t.Errorf("low override should be ignored: enforced=%d budget=%d", res.EnforcedMax, res.Estimate.SelectedBudget)
	}
	if client.requests[0].MaxTokens != res.EnforcedMax {
		t.Errorf("request ceiling should match enforced value")
	}

	// A higher override wins
	res, _ = runner.RunBuilderRound(context.Background(), testPhase(), "", 60000, 2)
	if res.EnforcedMax != 60000 {
		t.Errorf("high override should raise ceiling, got %d", res.EnforcedMax)
	}
}

func TestBuilderRoundTransientRecovery(t *testing.T) {
	client := &scriptedClient{
		results: []*types.LLMResult{nil, {Success: true, PatchContent: goodPatch}},
		errs:    []error{errors.New("503 service unavailable"), nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry()})

	res, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 0, 1)
	if err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if !res.Outcome.Success() {
		t.Fatalf("transient error should be absorbed by inline retry, got %s", res.Outcome.Disposition)
	}
	if client.calls != 2 {
		t.Errorf("expected 2 calls (initial + retry), got %d", client.calls)
	}
}

func TestBuilderRoundDeterministicFailure(t *testing.T) {
	client := &scriptedClient{
		results: []*types.LLMResult{nil},
		errs:    []error{errors.New("400 bad request: schema mismatch")},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry()})

	res, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 0, 1)
	if err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if res.Outcome.Disposition != types.DispositionDeterministicFailed {
		t.Errorf("expected deterministic failure, got %s", res.Outcome.Disposition)
	}
	if client.calls != 1 {
		t.Errorf("deterministic error must not be retried, got %d calls", client.calls)
	}
}

func TestBuilderRoundProviderFailureWithoutDetail(t *testing.T) {
	client := &scriptedClient{
		results: []*types.LLMResult{{Success: false}},
		errs:    []error{nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry()})

	res, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 0, 1)
	if err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if res.Outcome.Success() {
		t.Fatal("a response flagged unsuccessful must never count as succeeded")
	}
	if !strings.Contains(res.Outcome.Detail, "provider reported failure without detail") {
		t.Errorf("detail should name the synthesized failure, got %q", res.Outcome.Detail)
	}
}

func TestBuilderRoundOpenCircuitIsTransient(t *testing.T) {
	breaker := recovery.NewCircuitBreaker(1, 1, time.Hour)
	breaker.RecordFailure()

	client := &scriptedClient{
		results: []*types.LLMResult{{Success: true, PatchContent: goodPatch}},
		errs:    []error{nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry(), Breaker: breaker})

	res, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 0, 1)
	if err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if res.Outcome.Disposition != types.DispositionTransientExhausted {
		t.Errorf("open circuit should exhaust as transient, got %s", res.Outcome.Disposition)
	}
	if !strings.Contains(res.Outcome.Detail, "circuit breaker is open") {
		t.Errorf("detail should carry the breaker error, got %q", res.Outcome.Detail)
	}
	if client.calls != 0 {
		t.Errorf("open circuit must fail fast without calling the provider, got %d calls", client.calls)
	}
}

func TestBuilderRoundEmptyPatchUnparseable(t *testing.T) {
	client := &scriptedClient{
		results: []*types.LLMResult{{Success: true, PatchContent: "I could not produce a diff."}},
		errs:    []error{nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry()})

	res, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 0, 1)
	if err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if res.Outcome.Disposition != types.DispositionDeterministicFailed {
		t.Errorf("headerless patch output must be deterministic, got %s", res.Outcome.Disposition)
	}
	if res.Outcome.Status != "patch_unparseable" {
		t.Errorf("unexpected status: %s", res.Outcome.Status)
	}
}

func TestBuilderRoundScopeViolation(t *testing.T) {
	badPatch := "--- a/db/migrations/0001.sql\n+++ b/db/migrations/0001.sql\n@@ -1 +1 @@\n-x\n+y\n"
	client := &scriptedClient{
		results: []*types.LLMResult{{Success: true, PatchContent: badPatch}},
		errs:    []error{nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry()})

	res, err := runner.RunBuilderRound(context.Background(), testPhase(), "", 0, 1)
	if err != nil {
		t.Fatalf("RunBuilderRound: %v", err)
	}
	if res.Outcome.Disposition != types.DispositionDeterministicFailed {
		t.Errorf("scope violation must be deterministic, got %s", res.Outcome.Disposition)
	}
	if res.Outcome.Status != "scope_violation" {
		t.Errorf("unexpected status: %s", res.Outcome.Status)
	}
}

func TestAuditorRoundParsesVerdict(t *testing.T) {
	verdict := "```json\n{\"approved\": true, \"minor_issues\": 1, \"major_issues\": 0, \"summary\": \"ok\"}\n```"
	client := &scriptedClient{
		results: []*types.LLMResult{{Success: true, PatchContent: verdict, OutputTokens: 50}},
		errs:    []error{nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry()})

	report, err := runner.RunAuditorRound(context.Background(), testPhase(), goodPatch, 1)
	if err != nil {
		t.Fatalf("RunAuditorRound: %v", err)
	}
	if !report.Approved || report.MinorIssues != 1 || report.MajorIssues != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestAuditorRoundUnparseableNeverApproves(t *testing.T) {
	client := &scriptedClient{
		results: []*types.LLMResult{{Success: true, PatchContent: "looks good to me!"}},
		errs:    []error{nil},
	}
	runner, _ := NewAttemptRunner(RunnerConfig{Client: client, Retry: fastRetry()})

	report, err := runner.RunAuditorRound(context.Background(), testPhase(), goodPatch, 1)
	if err != nil {
		t.Fatalf("RunAuditorRound: %v", err)
	}
	if report.Approved {
		t.Error("unparseable auditor output must not approve")
	}
	if report.MajorIssues == 0 {
		t.Error("unparseable auditor output should count as a major issue")
	}
}

func TestPatchPaths(t *testing.T) {
	patch := `--- a/pkg/a.go
+++ b/pkg/a.go
@@ -1 +1 @@
-x
+y
--- a/pkg/b.go
+++ /dev/null
@@ -1 +0,0 @@
-z
`
	paths := PatchPaths(patch)
	if len(paths) != 2 || paths[0] != "pkg/a.go" || paths[1] != "pkg/b.go" {
		t.Errorf("unexpected paths: %v", paths)
	}
}
