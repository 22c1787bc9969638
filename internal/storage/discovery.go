package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiscoverDatabase looks for .autopack/*.db in the current directory only.
// Returns the absolute path to the database file, or an error if not found.
//
// Discovery deliberately does not walk up the directory tree: a nested
// project must never silently pick up a parent project's database.
//
// AUTOPACK_DB_PATH takes precedence when set, which also gives tests an
// isolation hook.
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("AUTOPACK_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	autopackDir := filepath.Join(dir, ".autopack")
	if info, err := os.Stat(autopackDir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(autopackDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".db") {
					absPath, err := filepath.Abs(filepath.Join(autopackDir, entry.Name()))
					if err != nil {
						return "", fmt.Errorf("failed to get absolute path: %w", err)
					}
					return absPath, nil
				}
			}
		}
	}

	return "", fmt.Errorf(
		"no .autopack/*.db found in %s\n"+
			"  Run 'autopack init' to initialize a database in this directory\n"+
			"  Or use --db flag to specify the database path explicitly",
		dir)
}

// GetProjectRoot returns the project root directory for a given database
// path: the directory containing .autopack/.
func GetProjectRoot(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	dbDir := filepath.Dir(absPath)
	if filepath.Base(dbDir) != ".autopack" {
		return "", fmt.Errorf("database must be in a .autopack/ directory, got: %s", dbPath)
	}
	return filepath.Dir(dbDir), nil
}

// ValidateAlignment ensures database and working directory are in the same
// project. Reading phases from one project while patching a workspace in
// another is the dangerous scenario this blocks.
func ValidateAlignment(dbPath, workingDir string) error {
	projectRoot, err := GetProjectRoot(dbPath)
	if err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}

	absWorkingDir, err := filepath.Abs(workingDir)
	if err != nil {
		return fmt.Errorf("invalid working directory: %w", err)
	}

	if !isAtOrBelow(absWorkingDir, projectRoot) {
		return fmt.Errorf(
			"database-working directory mismatch:\n"+
				"  database: %s\n"+
				"  project root: %s\n"+
				"  working directory: %s\n"+
				"The database and working directory must be in the same project",
			dbPath, projectRoot, absWorkingDir)
	}
	return nil
}

// isAtOrBelow checks if path is at or below root in the directory tree
func isAtOrBelow(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// InitProject creates a new .autopack directory and returns the database
// path to use. The database itself is created on first connection.
func InitProject(projectDir, name string) (string, error) {
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		return "", fmt.Errorf("project directory does not exist: %s", projectDir)
	}

	autopackDir := filepath.Join(projectDir, ".autopack")
	if err := os.MkdirAll(autopackDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create .autopack directory: %w", err)
	}

	dbName := name
	if dbName == "" {
		dbName = "autopack"
	}
	if !strings.HasSuffix(dbName, ".db") {
		dbName += ".db"
	}

	dbPath := filepath.Join(autopackDir, dbName)
	if _, err := os.Stat(dbPath); err == nil {
		return "", fmt.Errorf("database already exists: %s", dbPath)
	}
	return dbPath, nil
}
