package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var telemetryRunID string

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Show token estimation and escalation telemetry",
	Long: `Summarize the append-only telemetry tables: estimation accuracy
(waste ratio, sMAPE), truncation rate, budget escalations, and doctor
sessions. Telemetry is forensic; it never feeds back into execution.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		report, err := store.TelemetryReport(ctx, telemetryRunID)
		if err != nil {
			return fmt.Errorf("failed to build telemetry report: %w", err)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		scope := "all runs"
		if report.RunID != "" {
			scope = fmt.Sprintf("run %s", report.RunID)
		}
		fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("=== Telemetry (%s) ===", scope)))

		if report.Calls == 0 {
			fmt.Printf("  %s\n\n", gray("No LLM calls recorded"))
			return nil
		}

		fmt.Printf("  LLM calls:        %d\n", report.Calls)
		fmt.Printf("  Mean waste ratio: %.2f (predicted / actual output tokens)\n", report.MeanWasteRatio)
		fmt.Printf("  Mean sMAPE:       %.1f%%\n", report.MeanSMAPEPercent)
		fmt.Printf("  Truncation rate:  %.1f%%\n", report.TruncationRate*100)
		fmt.Printf("  Escalations:      %d\n", report.Escalations)
		fmt.Printf("  Doctor sessions:  %d\n", report.DoctorSessions)
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(telemetryCmd)
	telemetryCmd.Flags().StringVar(&telemetryRunID, "run", "", "Limit the report to one run")
}
