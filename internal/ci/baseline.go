package ci

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Regression severity thresholds. A phase that introduces at least
// HighSeverityThreshold newly-failing previously-passing tests blocks
// completion.
const HighSeverityThreshold = 5

// Severity levels for a test regression delta
const (
	SeverityNone = "none"
	SeverityLow  = "low"
	SeverityHigh = "high"
)

// Baseline is the stored set of tests known to fail before the phase ran.
// Tests already failing in the baseline do not count against the phase.
type Baseline struct {
	FailingTests []string  `json:"failing_tests"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// TestDelta compares post-phase failures against the baseline
type TestDelta struct {
	NewlyFailing      []string `json:"newly_failing"`
	NewlyFailingCount int      `json:"newly_failing_count"`
	BaselineFailing   int      `json:"baseline_failing"`
}

// RegressionSeverity classifies the delta. High severity blocks COMPLETE.
func (d *TestDelta) RegressionSeverity() string {
	switch {
	case d == nil || d.NewlyFailingCount == 0:
		return SeverityNone
	case d.NewlyFailingCount >= HighSeverityThreshold:
		return SeverityHigh
	default:
		return SeverityLow
	}
}

// BaselineTracker persists the known-failing baseline and computes deltas
type BaselineTracker struct {
	path string
}

// NewBaselineTracker creates a tracker storing its baseline at path
func NewBaselineTracker(path string) (*BaselineTracker, error) {
	if path == "" {
		return nil, fmt.Errorf("baseline path is required")
	}
	return &BaselineTracker{path: path}, nil
}

// Record overwrites the stored baseline with the given failing tests
func (t *BaselineTracker) Record(failing []string) error {
	sorted := append([]string(nil), failing...)
	sort.Strings(sorted)

	data, err := json.MarshalIndent(&Baseline{
		FailingTests: sorted,
		RecordedAt:   time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling baseline: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("creating baseline dir: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	return nil
}

// Load reads the stored baseline. A missing file yields an empty baseline:
// every current failure then counts as newly failing.
func (t *BaselineTracker) Load() (*Baseline, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Baseline{}, nil
		}
		return nil, fmt.Errorf("reading baseline: %w", err)
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing baseline: %w", err)
	}
	return &b, nil
}

// Compare computes the delta between the stored baseline and the tests
// failing after the phase ran.
func (t *BaselineTracker) Compare(currentFailing []string) (*TestDelta, error) {
	baseline, err := t.Load()
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(baseline.FailingTests))
	for _, name := range baseline.FailingTests {
		known[name] = true
	}

	delta := &TestDelta{BaselineFailing: len(baseline.FailingTests)}
	for _, name := range currentFailing {
		if !known[name] {
			delta.NewlyFailing = append(delta.NewlyFailing, name)
		}
	}
	sort.Strings(delta.NewlyFailing)
	delta.NewlyFailingCount = len(delta.NewlyFailing)
	return delta, nil
}
