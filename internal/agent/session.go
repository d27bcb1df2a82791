// Package agent models one invocation of an external coding agent: the
// capability interface every backend implements, the live output stream,
// and the classifier that turns that stream into a terminal state.
package agent

import (
	"time"
)

// TerminalState is the final classification of one agent invocation.
type TerminalState string

const (
	// StateRunning means the process has not exited yet.
	StateRunning TerminalState = "running"
	// StateSucceeded means the process exited with code 0.
	StateSucceeded TerminalState = "succeeded"
	// StateFailed is any non-zero exit that matched no known marker.
	StateFailed TerminalState = "failed"
	// StateRateLimited means the provider quota was exhausted.
	StateRateLimited TerminalState = "rate_limited"
	// StateOverloaded is a transient provider-side capacity error.
	StateOverloaded TerminalState = "overloaded"
	// StateContextExceeded means the input was too large for the model.
	StateContextExceeded TerminalState = "context_exceeded"
	// StateCancelled means the invocation was interrupted from outside.
	StateCancelled TerminalState = "cancelled"
)

var validStates = map[TerminalState]bool{
	StateRunning:         true,
	StateSucceeded:       true,
	StateFailed:          true,
	StateRateLimited:     true,
	StateOverloaded:      true,
	StateContextExceeded: true,
	StateCancelled:       true,
}

// IsValid returns true if the state is a known value.
func (s TerminalState) IsValid() bool {
	return validStates[s]
}

// IsTerminal returns true once the state has left running.
func (s TerminalState) IsTerminal() bool {
	return s != StateRunning && s.IsValid()
}

// Session is one invocation (or resumed continuation) of the agent.
// It is mutated only by a Classifier while the process is alive.
type Session struct {
	// ID is the opaque session identifier assigned by the agent.
	ID string `json:"session_id,omitempty"`

	// Model selects the agent's underlying model.
	Model string `json:"model,omitempty"`

	// ResumeOf is the session this invocation resumed, if any.
	ResumeOf string `json:"resume_of,omitempty"`

	// MessageCount counts message records.
	MessageCount int `json:"message_count"`

	// ToolUseCount counts tool invocations.
	ToolUseCount int `json:"tool_use_count"`

	// LastMessage is the most recent human-readable text payload.
	LastMessage string `json:"last_message,omitempty"`

	// StderrTail holds the last stderr lines, used when no text payload was seen.
	StderrTail string `json:"stderr_tail,omitempty"`

	// State is the terminal state once the process has exited.
	State TerminalState `json:"state"`

	// Marker names the marker table entry that produced State, if any.
	Marker string `json:"marker,omitempty"`

	// ExitCode is the process exit code (-1 when killed).
	ExitCode int `json:"exit_code"`

	// ResetTime is the provider-reported quota reset for rate-limited sessions.
	ResetTime time.Time `json:"reset_time,omitzero"`

	// CostUSD is the cost reported by the agent's result record.
	CostUSD float64 `json:"cost_usd,omitempty"`

	// RawLogPath is the NDJSON log of every stdout line.
	RawLogPath string `json:"raw_log_path,omitempty"`

	// StartTime is when the process was spawned.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the process exited.
	EndTime time.Time `json:"end_time,omitzero"`
}

// NewSession creates a running session for the given request.
func NewSession(req Request) *Session {
	return &Session{
		Model:     req.Model,
		ResumeOf:  req.ResumeSessionID,
		State:     StateRunning,
		StartTime: time.Now(),
	}
}

// Duration returns how long the process ran.
func (s *Session) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Err maps a terminal state to its error taxonomy member.
// Succeeded and running sessions return nil.
func (s *Session) Err() error {
	switch s.State {
	case StateFailed:
		return ErrAgentFailed
	case StateRateLimited:
		return ErrRateLimited
	case StateOverloaded:
		return ErrOverloaded
	case StateContextExceeded:
		return ErrContextExceeded
	case StateCancelled:
		return ErrCancelled
	default:
		return nil
	}
}
