package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yarlson/go-solve/internal/agent"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		want agent.Record
		ok   bool
	}{
		{
			name: "system init",
			line: `{"type":"system","subtype":"init","cwd":"/repo","session_id":"sess-123","model":"claude-opus-4-5","tools":["Read"]}`,
			want: agent.Record{Kind: agent.RecordSystem, SessionID: "sess-123", Model: "claude-opus-4-5"},
			ok:   true,
		},
		{
			name: "assistant with text and tools",
			line: `{"type":"assistant","message":{"model":"m","content":[{"type":"text","text":"Hello, "},{"type":"tool_use","name":"Bash"},{"type":"text","text":"world!"},{"type":"tool_use","name":"Edit"}]},"session_id":"s"}`,
			want: agent.Record{Kind: agent.RecordMessage, SessionID: "s", Model: "m", Text: "Hello, world!", ToolUses: 2},
			ok:   true,
		},
		{
			name: "user tool result is other",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","content":"ok"}]}}`,
			want: agent.Record{Kind: agent.RecordOther},
			ok:   true,
		},
		{
			name: "result with cost",
			line: `{"type":"result","subtype":"success","result":"final text","is_error":false,"total_cost_usd":0.12,"session_id":"s"}`,
			want: agent.Record{Kind: agent.RecordResult, SessionID: "s", Text: "final text", CostUSD: 0.12},
			ok:   true,
		},
		{
			name: "result error",
			line: `{"type":"result","subtype":"error_during_execution","result":"Prompt is too long","is_error":true}`,
			want: agent.Record{Kind: agent.RecordResult, Text: "Prompt is too long", IsError: true},
			ok:   true,
		},
		{
			name: "flat text",
			line: `{"type":"text","text":"Task completed"}`,
			want: agent.Record{Kind: agent.RecordText, Text: "Task completed"},
			ok:   true,
		},
		{
			name: "flat tool use",
			line: `{"type":"tool_use","name":"Read"}`,
			want: agent.Record{Kind: agent.RecordToolUse},
			ok:   true,
		},
		{
			name: "flat message string",
			line: `{"type":"message","message":"hi"}`,
			want: agent.Record{Kind: agent.RecordMessage, Text: "hi"},
			ok:   true,
		},
		{
			name: "error object",
			line: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			want: agent.Record{Kind: agent.RecordError, Text: "Overloaded", IsError: true},
			ok:   true,
		},
		{
			name: "malformed",
			line: `{"type":"assistant"`,
			ok:   false,
		},
		{
			name: "plain text",
			line: `Loading configuration...`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify([]byte(tt.line))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
