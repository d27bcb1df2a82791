package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yarlson/go-solve/internal/agent"
	"github.com/yarlson/go-solve/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Suppress()
	m.Run()
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeClock advances instantly on Sleep and records every wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testNow}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// run scripts one agent invocation.
type fakeRun struct {
	lines []string
	exit  int
}

func textLine(text string) string {
	b, _ := json.Marshal(map[string]string{"type": "text", "text": text})
	return string(b)
}

func sessionLine(id string) string {
	return fmt.Sprintf(`{"type":"system","session_id":%q}`, id)
}

func completed(id string) fakeRun {
	return fakeRun{lines: []string{sessionLine(id), textLine("Task completed")}}
}

func failing(id, text string) fakeRun {
	return fakeRun{lines: []string{sessionLine(id), textLine(text)}, exit: 1}
}

// scriptedBackend replays runs in order, repeating the last one.
type scriptedBackend struct {
	mu       sync.Mutex
	runs     []fakeRun
	spawnErr error
	requests []agent.Request
}

func (b *scriptedBackend) Name() string { return "fake" }

func (b *scriptedBackend) ResumeCommand(id string) string { return "fake --resume " + id }

func (b *scriptedBackend) Classify(line []byte) (agent.Record, bool) {
	var raw struct {
		Type      string  `json:"type"`
		SessionID string  `json:"session_id"`
		Text      string  `json:"text"`
		Cost      float64 `json:"total_cost_usd"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return agent.Record{}, false
	}
	rec := agent.Record{SessionID: raw.SessionID, Text: raw.Text, CostUSD: raw.Cost}
	switch raw.Type {
	case "system":
		rec.Kind = agent.RecordSystem
	case "text":
		rec.Kind = agent.RecordText
	case "result":
		rec.Kind = agent.RecordResult
	default:
		rec.Kind = agent.RecordOther
	}
	return rec, true
}

func (b *scriptedBackend) Invoke(ctx context.Context, req agent.Request) (<-chan agent.OutputEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)
	if b.spawnErr != nil {
		return nil, &agent.SpawnError{Command: "fake", Err: b.spawnErr}
	}

	run := b.runs[min(len(b.requests), len(b.runs))-1]
	ch := make(chan agent.OutputEvent, len(run.lines)+1)
	for _, l := range run.lines {
		ch <- agent.OutputEvent{Stream: agent.Stdout, Raw: l + "\n"}
	}
	ch <- agent.OutputEvent{Done: true, ExitCode: run.exit}
	close(ch)
	return ch, nil
}

func (b *scriptedBackend) Requests() []agent.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]agent.Request(nil), b.requests...)
}

// fakeWorkingCopy returns scripted changed-file lists, repeating the last.
type fakeWorkingCopy struct {
	changed   [][]string
	statusErr error
	pushErr   error
	onStatus  func()
	onPush    func()

	calls   int
	commits []string
	pushes  int
}

func (w *fakeWorkingCopy) GetChangedFiles(ctx context.Context) ([]string, error) {
	if w.onStatus != nil {
		w.onStatus()
	}
	if w.statusErr != nil {
		return nil, w.statusErr
	}
	w.calls++
	if len(w.changed) == 0 {
		return nil, nil
	}
	return w.changed[min(w.calls, len(w.changed))-1], nil
}

func (w *fakeWorkingCopy) Commit(ctx context.Context, message string) (string, error) {
	w.commits = append(w.commits, message)
	return "abc1234", nil
}

func (w *fakeWorkingCopy) Push(ctx context.Context) error {
	if w.onPush != nil {
		w.onPush()
	}
	w.pushes++
	return w.pushErr
}
