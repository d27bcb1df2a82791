// Package state manages the .solve directory inside a working copy.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Directory names for the .solve structure.
const (
	SolveDir   = ".solve"
	StateDir   = "state"
	LogsDir    = "logs"
	RecordsDir = "records"
	PausedFile = "paused"
)

// Backends that get their own log directory up front.
var backendLogDirs = []string{"claude", "opencode"}

// SolveDirPath returns the path to the .solve directory.
func SolveDirPath(root string) string {
	return filepath.Join(root, SolveDir)
}

// StateDirPath returns the path to the state directory.
func StateDirPath(root string) string {
	return filepath.Join(root, SolveDir, StateDir)
}

// LogsDirPath returns the path to the logs directory.
func LogsDirPath(root string) string {
	return filepath.Join(root, SolveDir, LogsDir)
}

// BackendLogsDirPath returns the NDJSON log directory of one backend.
func BackendLogsDirPath(root, backend string) string {
	return filepath.Join(root, SolveDir, LogsDir, backend)
}

// RecordsDirPath returns the path to the cycle records directory.
func RecordsDirPath(root string) string {
	return filepath.Join(root, SolveDir, RecordsDir)
}

// PausedFilePath returns the path to the paused state file.
func PausedFilePath(root string) string {
	return filepath.Join(root, SolveDir, StateDir, PausedFile)
}

// EnsureSolveDir creates the .solve directory structure if it doesn't exist:
//   - .solve/state/
//   - .solve/logs/<backend>/
//   - .solve/records/
//
// A .gitignore inside keeps the directory out of the working copy status.
// It is idempotent.
func EnsureSolveDir(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return fmt.Errorf("root directory does not exist: %s", root)
	}

	dirs := []string{
		SolveDirPath(root),
		StateDirPath(root),
		LogsDirPath(root),
		RecordsDirPath(root),
	}
	for _, backend := range backendLogDirs {
		dirs = append(dirs, BackendLogsDirPath(root, backend))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	ignore := filepath.Join(SolveDirPath(root), ".gitignore")
	if _, err := os.Stat(ignore); os.IsNotExist(err) {
		if err := os.WriteFile(ignore, []byte("*\n"), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", ignore, err)
		}
	}

	return nil
}

// IsPaused checks if watch mode was asked to pause.
// A missing state directory means nothing was ever paused.
func IsPaused(root string) (bool, error) {
	_, err := os.Stat(PausedFilePath(root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check paused state: %w", err)
	}
	return true, nil
}

// SetPaused sets the paused state.
func SetPaused(root string, paused bool) error {
	stateDir := StateDirPath(root)
	if _, err := os.Stat(stateDir); os.IsNotExist(err) {
		return fmt.Errorf(".solve/state directory does not exist")
	}

	pausedPath := PausedFilePath(root)

	if paused {
		file, err := os.Create(pausedPath)
		if err != nil {
			return fmt.Errorf("failed to create paused file: %w", err)
		}
		return file.Close()
	}

	err := os.Remove(pausedPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove paused file: %w", err)
	}
	return nil
}
