package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionFile is the last resumable session, under the state directory.
const SessionFile = "session.json"

// SessionState remembers the last agent session so `solve resume` can
// continue it without the operator copying the id.
type SessionState struct {
	// Backend names the agent that owns the session.
	Backend string `json:"backend"`

	// SessionID is the agent session to resume.
	SessionID string `json:"session_id"`

	// Target is the issue or pull request URL the session worked on.
	Target string `json:"target,omitempty"`

	// Outcome is the last cycle outcome.
	Outcome string `json:"outcome,omitempty"`

	// ResumeCommand is the manual resume invocation.
	ResumeCommand string `json:"resume_command,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SessionFilePath returns the path to the session state file.
func SessionFilePath(root string) string {
	return filepath.Join(root, SolveDir, StateDir, SessionFile)
}

// LoadSession loads session state from path.
// Returns an empty SessionState if the file doesn't exist.
func LoadSession(path string) (*SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &SessionState{}, nil
		}
		return nil, fmt.Errorf("read session state from %s: %w", path, err)
	}

	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session state from %s: %w", path, err)
	}

	return &s, nil
}

// SaveSession saves session state to path, creating parent directories.
func SaveSession(path string, s *SessionState) error {
	if s == nil {
		return errors.New("session state cannot be nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session state directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write session state to %s: %w", path, err)
	}

	return nil
}

// DetectSessionFork reports whether resuming currentID produced a different
// session id, which happens when the agent could not find the old session.
func DetectSessionFork(currentID, newID string) bool {
	if currentID == "" || newID == "" {
		return false
	}
	return currentID != newID
}
