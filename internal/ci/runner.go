// Package ci runs configured CI checks for a phase and decides whether the
// results allow the phase to complete.
package ci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Result is the structured outcome of one CI invocation
type Result struct {
	Passed     bool   `json:"passed"`
	Status     string `json:"status"` // "passed", "failed", "skipped"
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
	Skipped    bool   `json:"skipped"`

	// FailingTests and Raw come from the command's results file when one is
	// configured. Raw holds the parsed result contract for coverage lookup.
	FailingTests []string               `json:"failing_tests,omitempty"`
	Raw          map[string]interface{} `json:"-"`
}

// Runner executes the configured CI command for a phase
type Runner struct {
	config *Config
}

// NewRunner creates a CI runner from the given config
func NewRunner(cfg *Config) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ci config is required")
	}
	return &Runner{config: cfg}, nil
}

// Run executes the configured command with the configured timeout, capturing
// combined output to a persisted log artifact. An unconfigured or explicitly
// skipped command is a successful skip: phases with no CI must not block.
// A timeout is a failure.
func (r *Runner) Run(ctx context.Context, phaseID string) *Result {
	if r.config.Skip || r.config.Command == "" {
		return &Result{
			Passed:  true,
			Status:  "skipped",
			Skipped: true,
			Message: "no CI command configured",
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.config.Timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", r.config.Command)
	cmd.Dir = r.config.WorkingDir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	result := &Result{}
	result.ReportPath = r.persistLog(phaseID, output)
	r.loadResultsFile(result)

	if runCtx.Err() == context.DeadlineExceeded {
		result.Passed = false
		result.Status = "failed"
		result.Message = fmt.Sprintf("CI command timed out after %s", r.config.Timeout())
		result.Error = context.DeadlineExceeded.Error()
		return result
	}

	if err != nil {
		result.Passed = false
		result.Status = "failed"
		result.Message = fmt.Sprintf("CI command failed after %s", elapsed.Round(time.Millisecond))
		result.Error = err.Error()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Message = fmt.Sprintf("CI command exited %d after %s",
				exitErr.ExitCode(), elapsed.Round(time.Millisecond))
		}
		return result
	}

	result.Passed = true
	result.Status = "passed"
	result.Message = fmt.Sprintf("CI passed in %s", elapsed.Round(time.Millisecond))
	return result
}

// loadResultsFile parses the structured result contract the CI command may
// have written. Best-effort: a missing or malformed file leaves the verdict
// based on the exit code alone.
func (r *Runner) loadResultsFile(result *Result) {
	if r.config.ResultsFile == "" {
		return
	}
	path := r.config.ResultsFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.config.WorkingDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: malformed CI results file %s: %v\n", path, err)
		return
	}
	result.Raw = raw
	if failing, ok := raw["failing_tests"].([]interface{}); ok {
		for _, name := range failing {
			if s, ok := name.(string); ok {
				result.FailingTests = append(result.FailingTests, s)
			}
		}
	}
}

// persistLog writes combined output to the report dir. Best-effort: a log
// write failure must not change the CI verdict.
func (r *Runner) persistLog(phaseID string, output []byte) string {
	if r.config.ReportDir == "" {
		return ""
	}
	if err := os.MkdirAll(r.config.ReportDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create CI report dir: %v\n", err)
		return ""
	}
	name := fmt.Sprintf("ci-%s-%d.log", sanitizeFileName(phaseID), time.Now().UTC().Unix())
	path := filepath.Join(r.config.ReportDir, name)
	if err := os.WriteFile(path, output, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to persist CI log: %v\n", err)
		return ""
	}
	return path
}

func sanitizeFileName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
