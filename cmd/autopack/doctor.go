package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autopack-ai/autopack/internal/ci"
	"github.com/autopack-ai/autopack/internal/config"
	"github.com/autopack-ai/autopack/internal/storage"
)

var doctorVerbose bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check autopack installation and environment health",
	Long: `Run health checks to diagnose common autopack configuration issues.

This command checks for:
- Database existence and accessibility
- Project root alignment with the working directory
- Required environment variables
- Executor limit overrides
- CI configuration
- Git repository status

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent autopack from running`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running autopack health checks...\n\n")

		var failures []string
		var warnings []string
		var criticalFailures []string

		// Check 1: Database discovery
		fmt.Printf("%s Database discovery\n", cyan("→"))
		path := dbPath
		if path == "" {
			discovered, err := storage.DiscoverDatabase()
			if err != nil {
				criticalFailures = append(criticalFailures, fmt.Sprintf("No database found: %v", err))
				fmt.Printf("  %s No database found\n", red("✗"))
				if doctorVerbose {
					fmt.Printf("    Error: %v\n", err)
				}
			} else {
				path = discovered
				fmt.Printf("  %s Found database: %s\n", green("✓"), path)
			}
		} else {
			fmt.Printf("  %s Using explicit database: %s\n", green("✓"), path)
		}

		if path == "" {
			fmt.Printf("\n%s Critical failures prevent autopack from running\n", red("✗"))
			os.Exit(2)
		}

		// Check 2: Database file accessibility
		fmt.Printf("%s Database file access\n", cyan("→"))
		if info, err := os.Stat(path); err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Cannot access database: %v", err))
			fmt.Printf("  %s Cannot access database file\n", red("✗"))
			if doctorVerbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			fmt.Printf("  %s Database file accessible (%d bytes)\n", green("✓"), info.Size())
			if info.Size() == 0 {
				warnings = append(warnings, "Database file is empty (0 bytes)")
				fmt.Printf("  %s WARNING: Database is empty\n", yellow("⚠"))
			}
		}

		// Check 3: Project alignment
		fmt.Printf("%s Project structure\n", cyan("→"))
		cwd, err := os.Getwd()
		if err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Cannot get working directory: %v", err))
			fmt.Printf("  %s Cannot get working directory\n", red("✗"))
		} else if err := storage.ValidateAlignment(path, cwd); err != nil {
			failures = append(failures, fmt.Sprintf("Alignment: %v", err))
			fmt.Printf("  %s Database and working directory are misaligned\n", red("✗"))
			if doctorVerbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			root, _ := storage.GetProjectRoot(path)
			fmt.Printf("  %s Project root: %s\n", green("✓"), root)
		}

		// Check 4: API key
		fmt.Printf("%s Anthropic API key\n", cyan("→"))
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			failures = append(failures, "ANTHROPIC_API_KEY is not set")
			fmt.Printf("  %s ANTHROPIC_API_KEY not set (required for 'autopack run')\n", red("✗"))
		} else {
			fmt.Printf("  %s ANTHROPIC_API_KEY set\n", green("✓"))
		}

		// Check 5: Executor limit overrides
		fmt.Printf("%s Executor limits\n", cyan("→"))
		if limits, err := config.ExecutorLimitsFromEnv(); err != nil {
			failures = append(failures, fmt.Sprintf("Invalid executor limit override: %v", err))
			fmt.Printf("  %s Invalid AUTOPACK_* limit override\n", red("✗"))
			if doctorVerbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			fmt.Printf("  %s Limits valid (builder attempts: %d, phase cap: %d tokens)\n",
				green("✓"), limits.MaxBuilderAttempts, limits.DefaultPhaseTokenCap)
		}

		// Check 6: CI configuration
		fmt.Printf("%s CI configuration\n", cyan("→"))
		ciConfig, err := ci.LoadConfig(ci.ConfigFileName)
		switch {
		case err != nil:
			failures = append(failures, fmt.Sprintf("Invalid CI config: %v", err))
			fmt.Printf("  %s %s is invalid\n", red("✗"), ci.ConfigFileName)
			if doctorVerbose {
				fmt.Printf("    Error: %v\n", err)
			}
		case ciConfig.Command == "":
			warnings = append(warnings, "No CI command configured; finalization will skip CI")
			fmt.Printf("  %s No CI command configured (finalization skips CI)\n", yellow("⚠"))
		default:
			fmt.Printf("  %s CI command configured (timeout %s)\n", green("✓"), ciConfig.Timeout())
		}

		// Check 7: Git repository
		fmt.Printf("%s Git repository\n", cyan("→"))
		gitCmd := exec.Command("git", "rev-parse", "--git-dir")
		if out, err := gitCmd.Output(); err != nil {
			warnings = append(warnings, "Not inside a git repository; diagnostics probes will be limited")
			fmt.Printf("  %s Not a git repository\n", yellow("⚠"))
		} else if doctorVerbose {
			fmt.Printf("  %s Git dir: %s\n", green("✓"), filepath.Clean(string(out)))
		} else {
			fmt.Printf("  %s Inside a git repository\n", green("✓"))
		}

		// Summary
		fmt.Println()
		switch {
		case len(criticalFailures) > 0:
			fmt.Printf("%s %d critical failure(s)\n", red("✗"), len(criticalFailures))
			os.Exit(2)
		case len(failures) > 0:
			fmt.Printf("%s %d check(s) failed, %d warning(s)\n", red("✗"), len(failures), len(warnings))
			os.Exit(1)
		default:
			fmt.Printf("%s All checks passed (%d warning(s))\n", green("✓"), len(warnings))
		}
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Show detailed error output")
}
