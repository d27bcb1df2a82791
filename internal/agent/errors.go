package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for classified agent outcomes.
var (
	// ErrOverloaded is a transient provider-side capacity error.
	ErrOverloaded = errors.New("agent provider overloaded")

	// ErrRateLimited means the provider quota is exhausted.
	ErrRateLimited = errors.New("agent rate limited")

	// ErrContextExceeded means the input is too large for the agent.
	ErrContextExceeded = errors.New("agent context length exceeded")

	// ErrAgentFailed is a non-zero exit with no recognized marker.
	ErrAgentFailed = errors.New("agent failed")

	// ErrCancelled means the invocation was interrupted.
	ErrCancelled = errors.New("agent invocation cancelled")
)

// SpawnError reports that the agent binary could not be launched.
// It is fatal and never retried.
type SpawnError struct {
	// Command is the binary that failed to start.
	Command string
	// Err is the underlying exec error.
	Err error
}

// Error returns a formatted error message.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start agent %s: %v", e.Command, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsSpawnError reports whether err is or wraps a SpawnError.
func IsSpawnError(err error) bool {
	var spawnErr *SpawnError
	return errors.As(err, &spawnErr)
}
