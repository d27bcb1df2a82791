package agent

import "context"

// Request contains the parameters for one agent invocation.
type Request struct {
	// Cwd is the prepared repository checkout the agent works in.
	Cwd string `json:"cwd"`

	// SystemPrompt is the fixed operating procedure.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Prompt is the user-facing task prompt.
	Prompt string `json:"prompt"`

	// Model selects the agent's underlying model.
	Model string `json:"model,omitempty"`

	// ResumeSessionID resumes a prior session instead of starting fresh.
	ResumeSessionID string `json:"resume_session_id,omitempty"`

	// ExtraArgs are additional CLI arguments passed to the agent.
	ExtraArgs []string `json:"extra_args,omitempty"`

	// Env contains additional environment variables for the subprocess.
	Env map[string]string `json:"env,omitempty"`
}

// IsResume reports whether the request continues an existing session.
func (r Request) IsResume() bool {
	return r.ResumeSessionID != ""
}

// StreamKind identifies which process stream produced an event.
type StreamKind string

const (
	// Stdout carries the structured line-delimited JSON records.
	Stdout StreamKind = "stdout"
	// Stderr carries free-form diagnostics.
	Stderr StreamKind = "stderr"
)

// OutputEvent is one chunk of process output, in emission order.
// The last event on a stream has Done set and carries the exit code.
type OutputEvent struct {
	Stream   StreamKind
	Raw      string
	Done     bool
	ExitCode int
}

// RecordKind discriminates structured output records.
type RecordKind string

const (
	RecordSystem  RecordKind = "system"
	RecordMessage RecordKind = "message"
	RecordToolUse RecordKind = "tool_use"
	RecordText    RecordKind = "text"
	RecordError   RecordKind = "error"
	RecordResult  RecordKind = "result"
	RecordOther   RecordKind = "other"
)

// Record is the backend-neutral view of one structured output line.
type Record struct {
	Kind RecordKind

	// SessionID is set on records that carry the session identifier.
	SessionID string

	// Model is reported by init records.
	Model string

	// Text is the human-readable payload, if any.
	Text string

	// ToolUses counts tool invocations embedded in a message record.
	ToolUses int

	// CostUSD is reported by result records.
	CostUSD float64

	// IsError marks result records that report failure.
	IsError bool
}

// Backend is the capability interface for one agent CLI.
// Controllers depend only on this, never on a backend's flags or output shape.
type Backend interface {
	// Name identifies the backend (e.g. "claude").
	Name() string

	// Invoke spawns the agent and streams its output. It returns a
	// *SpawnError if the binary cannot be launched.
	Invoke(ctx context.Context, req Request) (<-chan OutputEvent, error)

	// Classify decodes one stdout line. It returns false when the line
	// is not a structured record.
	Classify(line []byte) (Record, bool)

	// ResumeCommand renders the shell command a human runs to continue
	// the given session manually.
	ResumeCommand(sessionID string) string
}
