package doctor

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/autopack-ai/autopack/internal/events"
	"github.com/autopack-ai/autopack/internal/types"
)

func TestCommandRunnerDenylist(t *testing.T) {
	runner := NewCommandRunner(RunnerOptions{})

	denied := []string{
		"rm -rf /tmp/x",
		"git push origin main",
		"git reset --hard HEAD~1",
		"echo hi > file.txt",
		"curl http://example.com",
	}
	for _, cmd := range denied {
		result := runner.Run(context.Background(), cmd)
		if !result.Skipped {
			t.Errorf("command %q should be denied", cmd)
		}
	}
	if runner.Executed() != 0 {
		t.Errorf("denied commands must not count as executed, got %d", runner.Executed())
	}
}

func TestCommandRunnerMaxCommands(t *testing.T) {
	runner := NewCommandRunner(RunnerOptions{MaxCommands: 2})

	for i := 0; i < 2; i++ {
		result := runner.Run(context.Background(), "echo probe")
		if result.Skipped {
			t.Fatalf("probe %d should run: %s", i, result.Err)
		}
	}
	result := runner.Run(context.Background(), "echo probe")
	if !result.Skipped {
		t.Error("third probe should hit the command limit")
	}
	if !strings.Contains(result.Err, "probe limit") {
		t.Errorf("unexpected error: %s", result.Err)
	}
}

func TestCommandRunnerWallClock(t *testing.T) {
	runner := NewCommandRunner(RunnerOptions{WallClock: time.Nanosecond})
	time.Sleep(time.Millisecond)

	result := runner.Run(context.Background(), "echo probe")
	if !result.Skipped {
		t.Error("probe should hit the wall-clock limit")
	}
}

func TestCommandRunnerCapturesOutputAndErrors(t *testing.T) {
	runner := NewCommandRunner(RunnerOptions{})

	result := runner.Run(context.Background(), "echo hello")
	if result.Err != "" || result.Output != "hello\n" {
		t.Errorf("unexpected result: %+v", result)
	}

	result = runner.Run(context.Background(), "exit 7")
	if result.Err == "" {
		t.Error("failing probe should record its error")
	}
	if result.Skipped {
		t.Error("failing probe still counts as executed, not skipped")
	}
}

func TestCommandRunnerSandboxDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/marker.txt", []byte("x"), 0644); err != nil {
		t.Fatalf("writing marker: %v", err)
	}
	runner := NewCommandRunner(RunnerOptions{SandboxDir: dir})

	result := runner.Run(context.Background(), "ls")
	if !strings.Contains(result.Output, "marker.txt") {
		t.Errorf("probe should run in the sandbox dir, got %q", result.Output)
	}
}

type outcomeSink struct {
	outcomes []*events.DoctorOutcomeEvent
}

func (s *outcomeSink) AppendDoctorOutcomeEvent(_ context.Context, ev *events.DoctorOutcomeEvent) error {
	s.outcomes = append(s.outcomes, ev)
	return nil
}

func failedPhase() *types.Phase {
	return &types.Phase{
		PhaseID:         "run1:p2",
		RunID:           "run1",
		TierID:          types.NewTierRef(1),
		Name:            "migrate settings table",
		State:           types.PhaseFailed,
		Category:        types.CategoryMigration,
		Complexity:      types.ComplexityHigh,
		BuilderAttempts: 3,
		RetryAttempt:    2,
		FailureReason:   "max builder attempts reached",
	}
}

func TestDiagnoseAbsorbsProbeFailures(t *testing.T) {
	sink := &outcomeSink{}
	agent := NewAgent(AgentConfig{
		ArtifactDir: t.TempDir(),
		SandboxDir:  t.TempDir(), // empty dir: git probes will fail
		Telemetry:   sink,
	})

	diagnosis, err := agent.Diagnose(context.Background(), ClassPatchApply, failedPhase())
	if err != nil {
		t.Fatalf("Diagnose must absorb probe failures: %v", err)
	}
	if len(diagnosis.Probes) == 0 {
		t.Fatal("expected probe results")
	}
	if diagnosis.LedgerSummary == "" {
		t.Error("expected a ledger summary")
	}
	if diagnosis.RetryHint == "" {
		t.Error("patch apply failures should produce a retry hint")
	}
	if len(diagnosis.ArtifactPaths) != 1 {
		t.Fatalf("expected one transcript artifact, got %d", len(diagnosis.ArtifactPaths))
	}
	if _, err := os.Stat(diagnosis.ArtifactPaths[0]); err != nil {
		t.Errorf("transcript should exist: %v", err)
	}
	if len(sink.outcomes) != 1 {
		t.Fatalf("expected one doctor outcome event, got %d", len(sink.outcomes))
	}
	if sink.outcomes[0].FailureClass != ClassPatchApply {
		t.Errorf("unexpected failure class: %s", sink.outcomes[0].FailureClass)
	}
}

func TestDiagnoseBudgetExhaustedHasNoRetryHint(t *testing.T) {
	agent := NewAgent(AgentConfig{ArtifactDir: t.TempDir(), SandboxDir: t.TempDir()})

	diagnosis, err := agent.Diagnose(context.Background(), ClassBudgetExhausted, failedPhase())
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if diagnosis.RetryHint != "" {
		t.Error("budget exhaustion is terminal, no retry hint expected")
	}
}

func TestDiagnoseUnknownClassUsesDefaultProbes(t *testing.T) {
	agent := NewAgent(AgentConfig{ArtifactDir: t.TempDir(), SandboxDir: t.TempDir()})

	diagnosis, err := agent.Diagnose(context.Background(), "something_else", failedPhase())
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if len(diagnosis.Probes) == 0 {
		t.Error("default probe sequence should still run")
	}
}

func TestDiagnoseRequiresPhase(t *testing.T) {
	agent := NewAgent(AgentConfig{ArtifactDir: t.TempDir()})
	if _, err := agent.Diagnose(context.Background(), ClassCIFail, nil); err == nil {
		t.Error("nil phase should error")
	}
}
