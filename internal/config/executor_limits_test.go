package config

import "testing"

func TestExecutorLimitsDefaults(t *testing.T) {
	limits, err := ExecutorLimitsFromEnv()
	if err != nil {
		t.Fatalf("ExecutorLimitsFromEnv: %v", err)
	}
	if limits != DefaultExecutorLimits() {
		t.Errorf("no env vars should yield defaults, got %+v", limits)
	}
}

func TestExecutorLimitsFromEnv(t *testing.T) {
	t.Setenv("AUTOPACK_MAX_BUILDER_ATTEMPTS", "5")
	t.Setenv("AUTOPACK_SKIP_CI", "true")
	t.Setenv("AUTOPACK_PHASE_TOKEN_CAP", "150000")

	limits, err := ExecutorLimitsFromEnv()
	if err != nil {
		t.Fatalf("ExecutorLimitsFromEnv: %v", err)
	}
	if limits.MaxBuilderAttempts != 5 {
		t.Errorf("expected 5 builder attempts, got %d", limits.MaxBuilderAttempts)
	}
	if !limits.SkipCI {
		t.Error("expected SkipCI true")
	}
	if limits.DefaultPhaseTokenCap != 150_000 {
		t.Errorf("expected cap 150000, got %d", limits.DefaultPhaseTokenCap)
	}
}

func TestExecutorLimitsRejectsInvalid(t *testing.T) {
	t.Setenv("AUTOPACK_MAX_BUILDER_ATTEMPTS", "0")
	if _, err := ExecutorLimitsFromEnv(); err == nil {
		t.Error("zero builder attempts should fail validation")
	}

	t.Setenv("AUTOPACK_MAX_BUILDER_ATTEMPTS", "not-a-number")
	if _, err := ExecutorLimitsFromEnv(); err == nil {
		t.Error("unparseable value should error")
	}
}

func TestValidateRanges(t *testing.T) {
	limits := DefaultExecutorLimits()
	limits.DefaultPhaseTokenCap = 100
	if err := limits.Validate(); err == nil {
		t.Error("tiny token cap should be rejected")
	}

	limits = DefaultExecutorLimits()
	limits.CITimeoutSeconds = 0
	if err := limits.Validate(); err == nil {
		t.Error("zero CI timeout should be rejected")
	}
}
