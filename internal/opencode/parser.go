package opencode

import (
	"github.com/yarlson/go-solve/internal/agent"
	"github.com/yarlson/go-solve/internal/stream"
)

// Classify decodes one stdout line. Non-JSON lines return false.
func (b *Backend) Classify(line []byte) (agent.Record, bool) {
	return Classify(line)
}

// Classify decodes one OpenCode JSON event into a Record.
func Classify(line []byte) (agent.Record, bool) {
	event, ok := stream.Decode(line)
	if !ok {
		return agent.Record{}, false
	}

	rec := agent.Record{
		Kind:      agent.RecordOther,
		SessionID: stream.GetString(event, "sessionID"),
	}

	part, _ := event["part"].(map[string]any)
	if rec.SessionID == "" && part != nil {
		rec.SessionID = stream.GetString(part, "sessionID")
	}

	switch stream.GetString(event, "type") {
	case "text":
		rec.Kind = agent.RecordText
		rec.Text, _ = stream.ExtractText(event)
	case "message", "assistant":
		rec.Kind = agent.RecordMessage
		rec.Text, _ = stream.ExtractText(event)
	case "tool_use", "tool":
		rec.Kind = agent.RecordToolUse
		rec.ToolUses = 1
	case "error":
		rec.Kind = agent.RecordError
		rec.IsError = true
		rec.Text = stream.ExtractAnyText(event)
	case "step_finish":
		rec.Kind = agent.RecordResult
		if part != nil {
			rec.CostUSD = stream.GetFloat(part, "cost")
		}
	case "step_start":
		rec.Kind = agent.RecordSystem
	}

	return rec, true
}
