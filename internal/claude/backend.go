// Package claude runs Claude Code as an agent backend.
package claude

import (
	"context"
	"os/exec"
	"strings"

	"github.com/yarlson/go-solve/internal/agent"
)

// Name is the backend identifier.
const Name = "claude"

// Backend invokes the Claude Code CLI with stream-json output.
type Backend struct {
	// command is the path to the Claude binary (e.g., "claude" or "/usr/bin/claude").
	command string
	// baseArgs are prepended before Claude-specific flags.
	baseArgs []string
	// skipPermissions adds --dangerously-skip-permissions.
	skipPermissions bool
}

// New creates a Backend for the given command. An empty command means "claude".
func New(command string, baseArgs ...string) *Backend {
	if command == "" {
		command = Name
	}
	return &Backend{
		command:         command,
		baseArgs:        baseArgs,
		skipPermissions: true,
	}
}

// WithSkipPermissions toggles --dangerously-skip-permissions.
func (b *Backend) WithSkipPermissions(skip bool) *Backend {
	b.skipPermissions = skip
	return b
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return Name
}

// Invoke starts Claude Code for req and streams its output.
// A fresh session receives the prompt on stdin; a resumed one as the -p value.
func (b *Backend) Invoke(ctx context.Context, req agent.Request) (<-chan agent.OutputEvent, error) {
	cmd := exec.CommandContext(ctx, b.command, b.buildArgs(req)...)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	cmd.Env = agent.Environ(req.Env)
	if !req.IsResume() {
		cmd.Stdin = strings.NewReader(req.Prompt)
	}
	return agent.Start(cmd)
}

// ResumeCommand returns the shell command an operator runs to continue a session.
func (b *Backend) ResumeCommand(sessionID string) string {
	return b.command + " --resume " + sessionID
}

// buildArgs constructs the command-line arguments for the Claude subprocess.
func (b *Backend) buildArgs(req agent.Request) []string {
	args := append([]string{}, b.baseArgs...)

	args = append(args, "--output-format", "stream-json", "--verbose")

	if b.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}

	if req.IsResume() {
		args = append(args, "--resume", req.ResumeSessionID)
	}

	args = append(args, req.ExtraArgs...)

	// -p must be last; a fresh session reads the prompt from stdin
	if req.IsResume() {
		return append(args, "-p", req.Prompt)
	}
	return append(args, "-p")
}
