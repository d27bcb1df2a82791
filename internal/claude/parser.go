package claude

import (
	"encoding/json"
	"strings"

	"github.com/yarlson/go-solve/internal/agent"
)

// baseEvent is used for initial type/subtype detection.
type baseEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
}

// initEvent represents system/init event fields.
type initEvent struct {
	Model string `json:"model"`
}

// assistantEvent represents assistant/message event structure.
type assistantEvent struct {
	Message struct {
		Model   string         `json:"model"`
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

// contentBlock represents a content item in an assistant message.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// resultEvent represents result/success or result/error event fields.
type resultEvent struct {
	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// flatEvent covers the simple message/text/error/tool_use records.
type flatEvent struct {
	Text    string          `json:"text"`
	Message json.RawMessage `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// Classify decodes one stream-json line. Non-JSON lines return false.
func (b *Backend) Classify(line []byte) (agent.Record, bool) {
	return Classify(line)
}

// Classify decodes one Claude Code stream-json line into a Record.
func Classify(line []byte) (agent.Record, bool) {
	var base baseEvent
	if err := json.Unmarshal(line, &base); err != nil {
		return agent.Record{}, false
	}

	rec := agent.Record{Kind: agent.RecordOther, SessionID: base.SessionID}

	switch base.Type {
	case "system":
		rec.Kind = agent.RecordSystem
		if base.Subtype == "init" {
			var init initEvent
			if err := json.Unmarshal(line, &init); err == nil {
				rec.Model = init.Model
			}
		}

	case "assistant":
		var ev assistantEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return rec, true
		}
		rec.Kind = agent.RecordMessage
		rec.Model = ev.Message.Model
		var text strings.Builder
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				rec.ToolUses++
			}
		}
		rec.Text = text.String()

	case "result":
		var res resultEvent
		if err := json.Unmarshal(line, &res); err != nil {
			return rec, true
		}
		rec.Kind = agent.RecordResult
		rec.Text = res.Result
		rec.IsError = res.IsError
		rec.CostUSD = res.TotalCostUSD

	case "message", "text", "tool_use", "error":
		var ev flatEvent
		_ = json.Unmarshal(line, &ev)
		rec.Kind = flatKinds[base.Type]
		rec.Text = firstNonEmpty(ev.Text, rawText(ev.Message), rawText(ev.Error))
		rec.IsError = base.Type == "error"
	}

	return rec, true
}

var flatKinds = map[string]agent.RecordKind{
	"message":  agent.RecordMessage,
	"text":     agent.RecordText,
	"tool_use": agent.RecordToolUse,
	"error":    agent.RecordError,
}

// rawText reads a field that is either a string or an object with a
// "message" or "text" member.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(obj.Message, obj.Text)
	}
	return ""
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
