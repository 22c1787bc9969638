package ci

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-project CI configuration file
const ConfigFileName = "autopack_ci.yaml"

// Config represents the CI check configuration loaded from YAML.
type Config struct {
	// Command is the shell command to run (pytest invocation, make target,
	// arbitrary script). Empty means no CI is configured for this project.
	Command string `yaml:"command"`

	// TimeoutSeconds bounds the command's wall-clock time
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// WorkingDir is where the command executes (default ".")
	WorkingDir string `yaml:"working_dir,omitempty"`

	// ReportDir is where combined output logs are persisted
	ReportDir string `yaml:"report_dir,omitempty"`

	// BaselinePath stores the known-failing test baseline
	BaselinePath string `yaml:"baseline_path,omitempty"`

	// ResultsFile is an optional JSON file the CI command writes its
	// structured result to: {status, tests_run, tests_passed,
	// failing_tests, coverage: {baseline, current, delta}}.
	ResultsFile string `yaml:"results_file,omitempty"`

	// Skip disables CI entirely even when a command is configured
	Skip bool `yaml:"skip,omitempty"`
}

// DefaultConfig returns the default CI configuration
func DefaultConfig() *Config {
	return &Config{
		TimeoutSeconds: 600,
		WorkingDir:     ".",
		ReportDir:      ".autopack/ci",
		BaselinePath:   ".autopack/ci/baseline.json",
	}
}

// LoadConfig loads CI configuration from a YAML file. A missing file is not
// an error: it yields the default config with no command, so CI is skipped.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading CI config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing CI config YAML: %w", err)
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 600
	}
	if config.WorkingDir == "" {
		config.WorkingDir = "."
	}
	return config, nil
}

// Timeout returns the configured timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
