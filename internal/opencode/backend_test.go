package opencode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/go-solve/internal/agent"
)

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}

func TestBuildArgs_FreshSession(t *testing.T) {
	args := buildArgs(agent.Request{
		Prompt:       "Hello",
		SystemPrompt: "Be brief",
		Model:        "anthropic/claude-sonnet-4",
	}, nil)

	assert.Equal(t, []string{"run", "--format", "json", "--model", "anthropic/claude-sonnet-4"}, args[:5])
	assert.Equal(t, "SYSTEM:\nBe brief\n\nUSER:\nHello", args[len(args)-1])
	assert.Equal(t, -1, indexOf(args, "--session"))
}

func TestBuildArgs_ResumedSession(t *testing.T) {
	args := buildArgs(agent.Request{
		Prompt:          "continue",
		SystemPrompt:    "Be brief",
		ResumeSessionID: "ses_abc",
	}, []string{"--print-logs"})

	assert.Equal(t, "--print-logs", args[0])
	sIndex := indexOf(args, "--session")
	require.NotEqual(t, -1, sIndex)
	assert.Equal(t, "ses_abc", args[sIndex+1])
	assert.Equal(t, "continue", args[len(args)-1])
}

func TestBuildArgs_RespectsExtraArgsModel(t *testing.T) {
	args := buildArgs(agent.Request{
		Prompt:    "Hello",
		Model:     "default/model",
		ExtraArgs: []string{"--model", "opencode/gpt-5.1-codex"},
	}, nil)

	assert.NotContains(t, args, "default/model")
	mIndex := indexOf(args, "--model")
	assert.Equal(t, "opencode/gpt-5.1-codex", args[mIndex+1])
}

func TestBackend_ResumeCommand(t *testing.T) {
	assert.Equal(t, `opencode run --session ses_1 "continue"`, New("").ResumeCommand("ses_1"))
}

func TestBackend_Execute(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "opencode")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/bash
cat <<'JSON'
{"type":"step_start","sessionID":"ses_123","part":{"type":"step-start"}}
{"type":"tool_use","sessionID":"ses_123","part":{"tool":"bash"}}
{"type":"text","sessionID":"ses_123","part":{"type":"text","text":"All done"}}
{"type":"step_finish","sessionID":"ses_123","part":{"cost":0.02,"tokens":{"input":12,"output":4}}}
JSON
`), 0755))

	var _ agent.Backend = New(script)
	session, err := agent.Execute(context.Background(), New(script), agent.Request{Prompt: "go"}, agent.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, agent.StateSucceeded, session.State)
	assert.Equal(t, "ses_123", session.ID)
	assert.Equal(t, 1, session.ToolUseCount)
	assert.Equal(t, "All done", session.LastMessage)
	assert.InDelta(t, 0.02, session.CostUSD, 0.0001)
}
