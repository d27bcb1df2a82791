package agent

import (
	"context"
	"encoding/json"
	"sync"
)

// jsonDecoder is a minimal Decoder for tests: it understands a flat
// {"type","session_id","text"} shape.
type jsonDecoder struct{}

func (jsonDecoder) Classify(line []byte) (Record, bool) {
	var raw struct {
		Type      string  `json:"type"`
		SessionID string  `json:"session_id"`
		Text      string  `json:"text"`
		Cost      float64 `json:"total_cost_usd"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, false
	}
	rec := Record{SessionID: raw.SessionID, Text: raw.Text, CostUSD: raw.Cost}
	switch raw.Type {
	case "message":
		rec.Kind = RecordMessage
	case "tool_use":
		rec.Kind = RecordToolUse
	case "text":
		rec.Kind = RecordText
	case "error":
		rec.Kind = RecordError
	case "result":
		rec.Kind = RecordResult
	case "system":
		rec.Kind = RecordSystem
	default:
		rec.Kind = RecordOther
	}
	return rec, true
}

// recordingSink captures every line it receives.
type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) WriteLine(stream StreamKind, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, string(stream)+":"+line)
}

// fakeBackend replays scripted stdout lines and an exit code.
type fakeBackend struct {
	jsonDecoder
	lines    []string
	stderr   []string
	exitCode int
	spawnErr error
	requests []Request
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) ResumeCommand(id string) string { return "fake --resume " + id }

func (f *fakeBackend) Invoke(ctx context.Context, req Request) (<-chan OutputEvent, error) {
	f.requests = append(f.requests, req)
	if f.spawnErr != nil {
		return nil, &SpawnError{Command: "fake", Err: f.spawnErr}
	}
	ch := make(chan OutputEvent, len(f.lines)+len(f.stderr)+1)
	for _, l := range f.lines {
		ch <- OutputEvent{Stream: Stdout, Raw: l + "\n"}
	}
	for _, l := range f.stderr {
		ch <- OutputEvent{Stream: Stderr, Raw: l + "\n"}
	}
	ch <- OutputEvent{Done: true, ExitCode: f.exitCode}
	close(ch)
	return ch, nil
}
