package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autopack-ai/autopack/internal/storage"
)

var (
	dbPath string
	store  storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "autopack",
	Short: "Autonomous build orchestration harness",
	Long: `Autopack drives Builder and Auditor agents through multi-tier plans.

Each phase moves QUEUED -> EXECUTING -> COMPLETE/FAILED under token budgets,
with one-time budget escalation, CI-gated finalization, and diagnostics on
failure. State lives in .autopack/<project>.db.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init creates the database itself, doctor reports on discovery
		// failures instead of dying on them.
		if cmd.Name() == "init" || cmd.Name() == "doctor" || cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		path := dbPath
		if path == "" {
			discovered, err := storage.DiscoverDatabase()
			if err != nil {
				return err
			}
			path = discovered
		}

		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		if err := storage.ValidateAlignment(path, cwd); err != nil {
			return err
		}

		store, err = storage.NewStorage(cmd.Context(), &storage.Config{Path: path})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the autopack database (default: discover .autopack/*.db)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
