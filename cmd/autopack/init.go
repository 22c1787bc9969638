package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autopack-ai/autopack/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init [project-name]",
	Short: "Initialize an autopack database in the current directory",
	Long: `Initialize autopack by creating a .autopack/ directory with a database.

This creates:
  - .autopack/ directory
  - .autopack/<project-name>.db (SQLite database)

If no project name is provided, "autopack" is used.

Example:
  cd ~/myproject
  autopack init           # Creates .autopack/autopack.db
  autopack init myapp     # Creates .autopack/myapp.db`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectName := ""
		if len(args) > 0 {
			projectName = args[0]
		}

		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
			os.Exit(1)
		}

		newDBPath, err := storage.InitProject(cwd, projectName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Open once so the schema exists before the first real command.
		ctx := context.Background()
		db, err := storage.NewStorage(ctx, &storage.Config{Path: newDBPath})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize database: %v\n", err)
			os.Exit(1)
		}
		_ = db.Close()

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized autopack\n\n", green("✓"))
		fmt.Printf("  Database: %s\n", cyan(newDBPath))
		fmt.Printf("  Project root: %s\n", cyan(cwd))
		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("autopack status"))
		fmt.Printf("  %s\n", gray("autopack run <run-id>"))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
