package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Probe limits. Diagnostics are forensic, so the runner caps how much a
// probe session may do: a bounded command count, a session wall-clock, a
// per-command timeout, and a denylist of anything destructive.
const (
	DefaultMaxCommands      = 12
	DefaultCommandTimeout   = 30 * time.Second
	DefaultSessionWallClock = 3 * time.Minute
)

// deniedPatterns are substrings that disqualify a probe command. The doctor
// reads state, it never mutates it.
var deniedPatterns = []string{
	"rm ", "rm\t", "rmdir",
	"mv ", "dd ",
	"git push", "git reset", "git checkout", "git clean", "git rebase",
	"drop table", "delete from", "truncate",
	"kill ", "pkill", "shutdown", "reboot",
	"> ", ">>",
	"chmod", "chown",
	"curl", "wget",
}

// CommandRunner executes read-only diagnostic probes under hard limits
type CommandRunner struct {
	maxCommands    int
	commandTimeout time.Duration
	wallClock      time.Duration
	sandboxDir     string // optional; probes run here when set

	started  time.Time
	executed int
}

// RunnerOptions configures a probe session
type RunnerOptions struct {
	MaxCommands    int
	CommandTimeout time.Duration
	WallClock      time.Duration
	SandboxDir     string
}

// NewCommandRunner creates a probe runner; zero options take the defaults
func NewCommandRunner(opts RunnerOptions) *CommandRunner {
	if opts.MaxCommands <= 0 {
		opts.MaxCommands = DefaultMaxCommands
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.WallClock <= 0 {
		opts.WallClock = DefaultSessionWallClock
	}
	return &CommandRunner{
		maxCommands:    opts.MaxCommands,
		commandTimeout: opts.CommandTimeout,
		wallClock:      opts.WallClock,
		sandboxDir:     opts.SandboxDir,
		started:        time.Now(),
	}
}

// ProbeResult is one probe command's captured outcome
type ProbeResult struct {
	Command string `json:"command"`
	Output  string `json:"output"`
	Err     string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Run executes one probe command. Limit violations and command failures are
// reported in the result, never as an error: diagnostics must not add a
// failure mode of their own.
func (r *CommandRunner) Run(ctx context.Context, command string) *ProbeResult {
	result := &ProbeResult{Command: command}

	if r.executed >= r.maxCommands {
		result.Skipped = true
		result.Err = fmt.Sprintf("probe limit reached (%d commands)", r.maxCommands)
		return result
	}
	if time.Since(r.started) > r.wallClock {
		result.Skipped = true
		result.Err = fmt.Sprintf("probe session wall-clock exceeded (%s)", r.wallClock)
		return result
	}
	if denied, pattern := isDenied(command); denied {
		result.Skipped = true
		result.Err = fmt.Sprintf("command matches denylist pattern %q", pattern)
		return result
	}

	r.executed++

	cmdCtx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	if r.sandboxDir != "" {
		cmd.Dir = r.sandboxDir
	}

	output, err := cmd.CombinedOutput()
	result.Output = truncateOutput(string(output), 4000)
	if err != nil {
		result.Err = err.Error()
	}
	return result
}

// Executed returns the number of probes actually run this session
func (r *CommandRunner) Executed() int {
	return r.executed
}

func isDenied(command string) (bool, string) {
	lower := strings.ToLower(command)
	for _, pattern := range deniedPatterns {
		if strings.Contains(lower, pattern) {
			return true, strings.TrimSpace(pattern)
		}
	}
	return false, ""
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
