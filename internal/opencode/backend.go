// Package opencode runs OpenCode as an agent backend.
package opencode

import (
	"context"
	"os/exec"
	"slices"
	"strings"

	"github.com/yarlson/go-solve/internal/agent"
)

// Name is the backend identifier.
const Name = "opencode"

// Backend invokes `opencode run --format json`.
type Backend struct {
	command  string
	baseArgs []string
}

// New creates a Backend for the given command. An empty command means "opencode".
func New(command string, baseArgs ...string) *Backend {
	if command == "" {
		command = Name
	}
	return &Backend{command: command, baseArgs: baseArgs}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return Name
}

// Invoke starts OpenCode for req. OpenCode has no system prompt flag, so
// the system prompt is folded into the message.
func (b *Backend) Invoke(ctx context.Context, req agent.Request) (<-chan agent.OutputEvent, error) {
	cmd := exec.CommandContext(ctx, b.command, buildArgs(req, b.baseArgs)...)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	cmd.Env = agent.Environ(req.Env)
	return agent.Start(cmd)
}

// ResumeCommand returns the shell command an operator runs to continue a session.
func (b *Backend) ResumeCommand(sessionID string) string {
	return b.command + " run --session " + sessionID + " \"continue\""
}

func buildArgs(req agent.Request, baseArgs []string) []string {
	args := append([]string{}, baseArgs...)

	args = append(args, "run", "--format", "json")

	if req.Model != "" && !slices.Contains(req.ExtraArgs, "--model") {
		args = append(args, "--model", req.Model)
	}

	if req.IsResume() {
		args = append(args, "--session", req.ResumeSessionID)
	}

	args = append(args, req.ExtraArgs...)
	args = append(args, buildPrompt(req))

	return args
}

func buildPrompt(req agent.Request) string {
	// a resumed session already carries the system prompt
	if req.SystemPrompt == "" || req.IsResume() {
		return req.Prompt
	}

	var builder strings.Builder
	builder.WriteString("SYSTEM:\n")
	builder.WriteString(req.SystemPrompt)
	builder.WriteString("\n\nUSER:\n")
	builder.WriteString(req.Prompt)
	return builder.String()
}
