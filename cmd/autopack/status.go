package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autopack-ai/autopack/internal/budget"
	"github.com/autopack-ai/autopack/internal/types"
)

var statusStuckWindow time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runs, phase progress, and budget usage",
	Long:  `Display every run with its tiers, phase state counts, token budget usage, and any stuck phases.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Autopack Status ==="))

		runs, err := store.ListRuns(ctx)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Printf("  %s\n\n", gray("No runs"))
			return nil
		}

		for _, run := range runs {
			stateColor := gray
			switch run.State {
			case types.RunPhaseExec:
				stateColor = green
			case types.RunDoneFailure:
				stateColor = red
			case types.RunDoneSuccess:
				stateColor = green
			}
			fmt.Printf("%s %s %s\n", yellow("Run"), run.ID, stateColor(string(run.State)))

			if run.TokenCap != nil {
				remaining := budget.BudgetRemainingPct(run.TokenCap, run.TokensUsed) * 100
				fmt.Printf("  Tokens: %d / %d (%.1f%% remaining)\n", run.TokensUsed, *run.TokenCap, remaining)
			} else {
				fmt.Printf("  Tokens: %d (no cap)\n", run.TokensUsed)
			}

			tiers, err := store.ListTiers(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("failed to list tiers: %w", err)
			}
			phases, err := store.ListPhases(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("failed to list phases: %w", err)
			}

			byState := map[types.PhaseState]int{}
			for _, p := range phases {
				byState[p.State]++
			}
			fmt.Printf("  Tiers: %d  Phases: %d queued, %d executing, %d complete, %d failed\n",
				len(tiers),
				byState[types.PhaseQueued], byState[types.PhaseExecuting],
				byState[types.PhaseComplete], byState[types.PhaseFailed])

			for _, p := range phases {
				if p.State == types.PhaseFailed {
					fmt.Printf("    %s %s: %s\n", red("✗"), p.PhaseID, gray(p.FailureReason))
				}
			}
			fmt.Println()
		}

		stuck, err := store.FindStuckPhases(ctx, statusStuckWindow)
		if err != nil {
			return fmt.Errorf("failed to find stuck phases: %w", err)
		}
		if len(stuck) > 0 {
			fmt.Printf("%s\n", yellow("Stuck phases (EXECUTING, no recent progress):"))
			for _, p := range stuck {
				fmt.Printf("  %s %s (run %s, last update %s)\n",
					yellow("⚠"), p.PhaseID, p.RunID, p.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusStuckWindow, "stuck-window", 30*time.Minute, "How long an EXECUTING phase may go without progress before it counts as stuck")
}
