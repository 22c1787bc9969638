package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autopack-ai/autopack/internal/ai"
	"github.com/autopack-ai/autopack/internal/ci"
	"github.com/autopack-ai/autopack/internal/config"
	"github.com/autopack-ai/autopack/internal/executor"
	"github.com/autopack-ai/autopack/internal/types"
)

var (
	runSkipCI   bool
	runCIConfig string
)

var runCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Execute a run's queued phases",
	Long: `Execute every QUEUED phase of the given run, in order.

Each phase goes through builder/auditor attempts under its token budget,
then CI-gated finalization. Phase failures do not stop the run; a run-level
budget exhaustion does. Requires ANTHROPIC_API_KEY.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}

		client, err := ai.NewAnthropicClient("")
		if err != nil {
			return err
		}

		limits, err := config.ExecutorLimitsFromEnv()
		if err != nil {
			return err
		}
		if runSkipCI {
			limits.SkipCI = true
		}

		ciConfig, err := ci.LoadConfig(runCIConfig)
		if err != nil {
			return err
		}

		exec, err := executor.New(&executor.Config{
			Store:    store,
			Client:   client,
			CIConfig: ciConfig,
			Limits:   &limits,
		})
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("=== Executing run %s ===", runID)))

		if run.State == types.RunCreated || run.State == types.RunPhaseQueueing {
			if err := store.UpdateRunState(ctx, runID, types.RunPhaseExec); err != nil {
				return fmt.Errorf("failed to mark run executing: %w", err)
			}
		}

		if execErr := exec.ExecuteQueuedPhases(ctx, runID); execErr != nil {
			// Best-effort terminal state; the original error is what matters.
			if err := store.UpdateRunState(ctx, runID, types.RunDoneFailure); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to mark run failed: %v\n", err)
			}
			return execErr
		}

		phases, err := store.ListPhases(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to list phases: %w", err)
		}

		failed := 0
		for _, p := range phases {
			if p.State == types.PhaseFailed {
				failed++
			}
		}

		finalState := types.RunDoneSuccess
		if failed > 0 {
			finalState = types.RunDoneFailure
		}
		if err := store.UpdateRunState(ctx, runID, finalState); err != nil {
			return fmt.Errorf("failed to finalize run state: %w", err)
		}

		fmt.Println()
		return runOutcome(failed, len(phases))
	},
}

// runOutcome prints the run summary and returns a non-nil error when any
// phase failed, so main() exits non-zero after cleanup hooks run.
func runOutcome(failed, total int) error {
	if failed > 0 {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("%s Run finished with %d failed phase(s) of %d\n", red("✗"), failed, total)
		return fmt.Errorf("%d of %d phase(s) failed", failed, total)
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Run complete: %d phase(s)\n", green("✓"), total)
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runSkipCI, "skip-ci", false, "Skip CI checks during finalization")
	runCmd.Flags().StringVar(&runCIConfig, "ci-config", ci.ConfigFileName, "Path to the CI configuration file")
}
