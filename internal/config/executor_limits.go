// Package config reads executor limits from the process environment.
// Limits are read once at dispatch time; the core never re-reads
// configuration mid-phase.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// ExecutorLimits holds the attempt, budget, and timeout limits the executor
// reads at dispatch time.
type ExecutorLimits struct {
	// MaxBuilderAttempts caps builder rounds per phase when the phase record
	// itself does not set one. Default: 3, Range: 1-10
	MaxBuilderAttempts int

	// MaxAuditorAttempts caps auditor rounds per phase when the phase record
	// itself does not set one. Default: 2, Range: 1-10
	MaxAuditorAttempts int

	// DefaultPhaseTokenCap is the per-phase token cap before the category
	// multiplier. Default: 200000, Range: 10000-2000000
	DefaultPhaseTokenCap int64

	// SkipCI disables CI gating entirely. A skipped CI run counts as passed.
	// Default: false
	SkipCI bool

	// CITimeoutSeconds bounds one CI command. Default: 600, Range: 10-7200
	CITimeoutSeconds int

	// DoctorCommandTimeoutSeconds bounds one diagnostic probe.
	// Default: 30, Range: 5-600
	DoctorCommandTimeoutSeconds int

	// MaxConcurrentLLMCalls caps in-flight LLM calls, 0 = unlimited.
	// Default: 4
	MaxConcurrentLLMCalls int64
}

// DefaultExecutorLimits returns the default limits
func DefaultExecutorLimits() ExecutorLimits {
	return ExecutorLimits{
		MaxBuilderAttempts:          3,
		MaxAuditorAttempts:          2,
		DefaultPhaseTokenCap:        200_000,
		SkipCI:                      false,
		CITimeoutSeconds:            600,
		DoctorCommandTimeoutSeconds: 30,
		MaxConcurrentLLMCalls:       4,
	}
}

// Validate checks if the limits have valid values
func (l ExecutorLimits) Validate() error {
	if l.MaxBuilderAttempts < 1 || l.MaxBuilderAttempts > 10 {
		return fmt.Errorf("max_builder_attempts must be between 1 and 10 (got %d)", l.MaxBuilderAttempts)
	}
	if l.MaxAuditorAttempts < 1 || l.MaxAuditorAttempts > 10 {
		return fmt.Errorf("max_auditor_attempts must be between 1 and 10 (got %d)", l.MaxAuditorAttempts)
	}
	if l.DefaultPhaseTokenCap < 10_000 || l.DefaultPhaseTokenCap > 2_000_000 {
		return fmt.Errorf("default_phase_token_cap must be between 10000 and 2000000 (got %d)",
			l.DefaultPhaseTokenCap)
	}
	if l.CITimeoutSeconds < 10 || l.CITimeoutSeconds > 7200 {
		return fmt.Errorf("ci_timeout_seconds must be between 10 and 7200 (got %d)", l.CITimeoutSeconds)
	}
	if l.DoctorCommandTimeoutSeconds < 5 || l.DoctorCommandTimeoutSeconds > 600 {
		return fmt.Errorf("doctor_command_timeout_seconds must be between 5 and 600 (got %d)",
			l.DoctorCommandTimeoutSeconds)
	}
	if l.MaxConcurrentLLMCalls < 0 {
		return fmt.Errorf("max_concurrent_llm_calls cannot be negative (got %d)", l.MaxConcurrentLLMCalls)
	}
	return nil
}

// ExecutorLimitsFromEnv creates ExecutorLimits from environment variables,
// falling back to defaults.
//
// Environment variables:
//   - AUTOPACK_MAX_BUILDER_ATTEMPTS: builder rounds per phase (default: 3)
//   - AUTOPACK_MAX_AUDITOR_ATTEMPTS: auditor rounds per phase (default: 2)
//   - AUTOPACK_PHASE_TOKEN_CAP: per-phase token cap before category multiplier (default: 200000)
//   - AUTOPACK_SKIP_CI: disable CI gating (default: false)
//   - AUTOPACK_CI_TIMEOUT_SECONDS: CI command timeout (default: 600)
//   - AUTOPACK_DOCTOR_COMMAND_TIMEOUT_SECONDS: diagnostic probe timeout (default: 30)
//   - AUTOPACK_MAX_CONCURRENT_LLM_CALLS: in-flight LLM call cap, 0 unlimited (default: 4)
//
// Returns an error if any variable has an invalid value.
func ExecutorLimitsFromEnv() (ExecutorLimits, error) {
	limits := DefaultExecutorLimits()

	if err := parseEnvInt("AUTOPACK_MAX_BUILDER_ATTEMPTS", &limits.MaxBuilderAttempts); err != nil {
		return limits, err
	}
	if err := parseEnvInt("AUTOPACK_MAX_AUDITOR_ATTEMPTS", &limits.MaxAuditorAttempts); err != nil {
		return limits, err
	}
	if err := parseEnvInt64("AUTOPACK_PHASE_TOKEN_CAP", &limits.DefaultPhaseTokenCap); err != nil {
		return limits, err
	}
	if err := parseEnvBool("AUTOPACK_SKIP_CI", &limits.SkipCI); err != nil {
		return limits, err
	}
	if err := parseEnvInt("AUTOPACK_CI_TIMEOUT_SECONDS", &limits.CITimeoutSeconds); err != nil {
		return limits, err
	}
	if err := parseEnvInt("AUTOPACK_DOCTOR_COMMAND_TIMEOUT_SECONDS", &limits.DoctorCommandTimeoutSeconds); err != nil {
		return limits, err
	}
	if err := parseEnvInt64("AUTOPACK_MAX_CONCURRENT_LLM_CALLS", &limits.MaxConcurrentLLMCalls); err != nil {
		return limits, err
	}

	if err := limits.Validate(); err != nil {
		return limits, fmt.Errorf("invalid executor limits from environment: %w", err)
	}
	return limits, nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt64 parses an int64 from an environment variable
func parseEnvInt64(key string, dest *int64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
