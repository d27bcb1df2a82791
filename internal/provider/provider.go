// Package provider selects the agent backend by name.
package provider

import (
	"fmt"
	"strings"

	"github.com/yarlson/go-solve/internal/agent"
	"github.com/yarlson/go-solve/internal/claude"
	"github.com/yarlson/go-solve/internal/opencode"
)

const (
	Claude   = claude.Name
	OpenCode = opencode.Name
)

// Options configures the backend built by New.
type Options struct {
	// Command is the executable followed by base arguments.
	// Empty means the backend's default binary.
	Command []string

	// SkipPermissions lets Claude Code run tools without prompting.
	SkipPermissions bool
}

func Normalize(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return Claude, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case Claude, OpenCode:
		return normalized, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", value)
	}
}

func Resolve(cliValue, configValue string) (string, error) {
	if strings.TrimSpace(cliValue) != "" {
		return Normalize(cliValue)
	}
	return Normalize(configValue)
}

// New returns the backend registered under name.
func New(name string, opts Options) (agent.Backend, error) {
	normalized, err := Normalize(name)
	if err != nil {
		return nil, err
	}

	var command string
	var baseArgs []string
	if len(opts.Command) > 0 {
		command, baseArgs = opts.Command[0], opts.Command[1:]
	}

	switch normalized {
	case OpenCode:
		return opencode.New(command, baseArgs...), nil
	default:
		return claude.New(command, baseArgs...).WithSkipPermissions(opts.SkipPermissions), nil
	}
}
