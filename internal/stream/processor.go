// Package stream renders agent NDJSON output for humans, either live while
// the agent runs or replayed from a saved session log.
package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/yarlson/go-solve/internal/agent"
)

// ansiCSI strips common ANSI escape sequences (CSI).
var ansiCSI = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Options configures the stream processor behavior.
type Options struct {
	// ShowTools outputs tool invocation events when true.
	ShowTools bool

	// ShowStderr echoes the agent's stderr lines.
	ShowStderr bool

	// ShowRaw echoes stdout lines that are not JSON.
	ShowRaw bool

	// DebugUnhandled logs unhandled event types when true.
	DebugUnhandled bool

	// DebugWriter receives debug output for unhandled events.
	// If nil and DebugUnhandled is true, debug output is discarded.
	DebugWriter io.Writer
}

// Processor renders agent output lines. It implements agent.LineSink and
// is safe for concurrent use.
type Processor struct {
	opts Options
	mu   sync.Mutex
	out  *bufio.Writer
}

// NewProcessor creates a stream processor that writes to the given writer.
func NewProcessor(w io.Writer, opts Options) *Processor {
	return &Processor{
		opts: opts,
		out:  bufio.NewWriterSize(w, 64*1024),
	}
}

// WriteLine renders one output line and flushes immediately.
func (p *Processor) WriteLine(stream agent.StreamKind, line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stream == agent.Stderr {
		if p.opts.ShowStderr && strings.TrimSpace(line) != "" {
			_, _ = p.out.WriteString(Sanitize(line))
			_, _ = p.out.WriteString("\n")
		}
	} else {
		p.processLine(line)
	}
	_ = p.out.Flush()
}

// Process replays a saved NDJSON log from r.
func (p *Processor) Process(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		p.WriteLine(agent.Stdout, scanner.Text())
	}
	return scanner.Err()
}

func (p *Processor) processLine(line string) {
	m, ok := Decode([]byte(line))
	if !ok {
		if p.opts.ShowRaw && strings.TrimSpace(line) != "" {
			_, _ = p.out.WriteString(Sanitize(line))
			_, _ = p.out.WriteString("\n")
		}
		return
	}

	typ := GetString(m, "type")
	sub := GetString(m, "subtype")

	if IsToolEvent(m) {
		if !p.opts.ShowTools {
			return
		}
		_, _ = p.out.WriteString("\n--- TOOL: ")
		_, _ = p.out.WriteString(Sanitize(ToolName(m)))
		_, _ = p.out.WriteString(" ---\n")
		if s := ExtractAnyText(m); s != "" {
			s = Sanitize(s)
			_, _ = p.out.WriteString(s)
			if !strings.HasSuffix(s, "\n") {
				_, _ = p.out.WriteString("\n")
			}
		}
		_, _ = p.out.WriteString("--- END TOOL ---\n")
		return
	}

	text, mode := ExtractText(m)
	if text == "" {
		if p.opts.DebugUnhandled && p.opts.DebugWriter != nil {
			if typ != "" || sub != "" {
				_, _ = p.opts.DebugWriter.Write([]byte("UNHANDLED event type=" + typ + " subtype=" + sub + "\n"))
			}
		}
		return
	}

	text = Sanitize(text)
	_, _ = p.out.WriteString(text)
	if mode == "message" && !strings.HasSuffix(text, "\n") {
		_, _ = p.out.WriteString("\n")
	}
}

// Decode parses a line as a JSON object. Arrays, scalars and invalid JSON
// return false.
func Decode(line []byte) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// Sanitize removes ANSI CSI sequences and control chars except \n, \t, \r.
func Sanitize(s string) string {
	s = ansiCSI.ReplaceAllString(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n', '\t', '\r':
			b.WriteRune(r)
		default:
			// drop ASCII control chars; keep printable + non-ASCII runes
			if r >= 0x20 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// ExtractText extracts text content from an agent event object.
// Returns the text and a mode indicating whether it's a delta or message.
func ExtractText(m map[string]any) (text string, mode string) {
	typ := GetString(m, "type")
	sub := GetString(m, "subtype")

	// Common wrapper keys used by various streamers.
	for _, k := range []string{"chunk", "data", "payload", "event", "part"} {
		if inner, ok := m[k].(map[string]any); ok {
			if s, md := ExtractText(inner); s != "" {
				return s, md
			}
		}
	}

	if cb, ok := m["content_block"].(map[string]any); ok {
		if s := GetString(cb, "text"); s != "" {
			return s, modeFor(typ, sub, "message")
		}
		if s := textDelta(cb); s != "" {
			return s, "delta"
		}
	}

	if s := GetString(m, "text"); s != "" {
		return s, modeFor(typ, sub, "message")
	}
	if s := GetString(m, "text_delta"); s != "" {
		return s, "delta"
	}

	if d, ok := m["delta"].(map[string]any); ok {
		if s := textDelta(map[string]any{"delta": d}); s != "" {
			return s, "delta"
		}
		if s := textDelta(d); s != "" {
			return s, "delta"
		}
	}

	if msg, ok := m["message"].(map[string]any); ok {
		if s := extractMessageContentText(msg); s != "" {
			return s, "message"
		}
		if s := textDelta(msg); s != "" {
			return s, "delta"
		}
	}

	if s := extractMessageContentText(m); s != "" {
		return s, modeFor(typ, sub, "message")
	}

	return "", ""
}

// textDelta reads m["delta"].text or m["delta"].text_delta.
func textDelta(m map[string]any) string {
	d, ok := m["delta"].(map[string]any)
	if !ok {
		return GetString(m, "text_delta")
	}
	return firstNonEmpty(GetString(d, "text"), GetString(d, "text_delta"))
}

func modeFor(typ, sub, fallback string) string {
	if strings.Contains(typ, "delta") || strings.Contains(sub, "delta") {
		return "delta"
	}
	return fallback
}

func extractMessageContentText(m map[string]any) string {
	switch c := m["content"].(type) {
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, it := range c {
			blk, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if GetString(blk, "type") == "tool_use" {
				continue
			}
			b.WriteString(GetString(blk, "text"))
			if inner, ok := blk["content"].([]any); ok {
				for _, it2 := range inner {
					if blk2, ok := it2.(map[string]any); ok {
						b.WriteString(GetString(blk2, "text"))
					}
				}
			}
		}
		return b.String()
	default:
		return ""
	}
}

// ExtractAnyText attempts to extract text from various fields in an event.
// Used for tool output, errors and results.
func ExtractAnyText(m map[string]any) string {
	if s, _ := ExtractText(m); s != "" {
		return s
	}
	for _, k := range []string{"output", "result", "stderr", "stdout"} {
		if s := GetString(m, k); s != "" {
			return s
		}
	}
	if e, ok := m["error"].(map[string]any); ok {
		if s := firstNonEmpty(GetString(e, "message"), GetString(e, "data")); s != "" {
			return s
		}
		if inner, ok := e["data"].(map[string]any); ok {
			return GetString(inner, "message")
		}
	}
	if s := GetString(m, "error"); s != "" {
		return s
	}
	if msg := GetString(m, "message"); msg != "" {
		return msg
	}
	if part, ok := m["part"].(map[string]any); ok {
		return ExtractAnyText(part)
	}
	return ""
}

// IsToolEvent reports whether the object describes a tool invocation or
// its result.
func IsToolEvent(m map[string]any) bool {
	typ := GetString(m, "type")
	sub := GetString(m, "subtype")
	if typ == "tool" || typ == "tool_use" || typ == "tool_result" {
		return true
	}
	if sub == "tool" || sub == "tool_use" || sub == "tool_result" {
		return true
	}
	if _, ok := m["tool"]; ok {
		return true
	}
	if _, ok := m["tool_name"]; ok {
		return true
	}
	return false
}

// ToolName returns the best-effort tool name from a tool event.
func ToolName(m map[string]any) string {
	name := firstNonEmpty(
		GetString(m, "tool"),
		GetString(m, "tool_name"),
		GetString(m, "name"),
		GetString(m, "command"),
	)
	if part, ok := m["part"].(map[string]any); ok && name == "" {
		name = ToolName(part)
	}
	if name == "" {
		name = "tool"
	}
	return name
}

// GetString returns m[key] when it is a string.
func GetString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetFloat returns m[key] when it is a JSON number.
func GetFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
