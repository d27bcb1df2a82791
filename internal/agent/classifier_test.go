package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(c *Classifier, lines ...string) {
	for _, l := range lines {
		c.Observe(OutputEvent{Stream: Stdout, Raw: l + "\n"})
	}
}

func TestClassifier_MalformedLinesCountOnlyValidRecords(t *testing.T) {
	sink := &recordingSink{}
	session := NewSession(Request{})
	c := NewClassifier(jsonDecoder{}, session, nil, sink)

	lines := []string{
		`{"type":"system","session_id":"sess-1"}`,
		`not json at all`,
		`{"type":"message","text":"thinking"}`,
		`{"type":"message"`,
		`{"type":"tool_use"}`,
		`[1,2,3`,
		`{"type":"message","text":"done"}`,
	}
	feed(c, lines...)
	c.Finish(0, false)

	assert.Equal(t, 2, session.MessageCount)
	assert.Equal(t, 1, session.ToolUseCount)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, "done", session.LastMessage)

	require.Len(t, sink.lines, len(lines))
	for i, l := range lines {
		assert.Equal(t, "stdout:"+l, sink.lines[i])
	}
}

func TestClassifier_FirstSessionIDWins(t *testing.T) {
	session := NewSession(Request{})
	c := NewClassifier(jsonDecoder{}, session, nil, nil)

	feed(c,
		`{"type":"system","session_id":"first"}`,
		`{"type":"result","session_id":"second"}`,
	)
	c.Finish(0, false)

	assert.Equal(t, "first", session.ID)
}

func TestClassifier_SplitsChunksAcrossEvents(t *testing.T) {
	session := NewSession(Request{})
	c := NewClassifier(jsonDecoder{}, session, nil, nil)

	c.Observe(OutputEvent{Stream: Stdout, Raw: `{"type":"mess`})
	c.Observe(OutputEvent{Stream: Stdout, Raw: `age","text":"a"}` + "\n" + `{"type":"message","text":"b"}` + "\n" + `{"type":"te`})
	c.Observe(OutputEvent{Stream: Stdout, Raw: `xt","text":"tail"}`})
	c.Finish(0, false)

	assert.Equal(t, 2, session.MessageCount)
	assert.Equal(t, "tail", session.LastMessage)
}

func TestClassifier_Finish_SucceededOnZeroExit(t *testing.T) {
	session := NewSession(Request{})
	c := NewClassifier(jsonDecoder{}, session, nil, nil)

	feed(c, `{"type":"text","text":"Task completed"}`)
	c.Finish(0, false)

	assert.Equal(t, StateSucceeded, session.State)
	assert.NoError(t, session.Err())
	assert.False(t, session.EndTime.IsZero())
}

func TestClassifier_Finish_MarkerStates(t *testing.T) {
	tests := []struct {
		name   string
		last   string
		state  TerminalState
		marker string
		err    error
	}{
		{
			name:   "overloaded",
			last:   `API Error: 500 {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			state:  StateOverloaded,
			marker: "api_500_overloaded",
			err:    ErrOverloaded,
		},
		{
			name:   "rate limited",
			last:   "Claude AI usage limit reached|1893456000",
			state:  StateRateLimited,
			marker: "usage_limit",
			err:    ErrRateLimited,
		},
		{
			name:   "context exceeded",
			last:   "Prompt is too long",
			state:  StateContextExceeded,
			marker: "context_length",
			err:    ErrContextExceeded,
		},
		{
			name:  "generic failure",
			last:  "something broke",
			state: StateFailed,
			err:   ErrAgentFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := NewSession(Request{})
			c := NewClassifier(jsonDecoder{}, session, nil, nil)
			feed(c, `{"type":"error","text":`+quote(tt.last)+`}`)
			c.Finish(1, false)

			assert.Equal(t, tt.state, session.State)
			assert.Equal(t, tt.marker, session.Marker)
			assert.ErrorIs(t, session.Err(), tt.err)
			assert.Equal(t, 1, session.ExitCode)
		})
	}
}

func TestClassifier_Finish_RateLimitCapturesResetTime(t *testing.T) {
	session := NewSession(Request{})
	c := NewClassifier(jsonDecoder{}, session, nil, nil)

	feed(c, `{"type":"result","text":"Claude AI usage limit reached|1893456000"}`)
	c.Finish(1, false)

	require.Equal(t, StateRateLimited, session.State)
	assert.Equal(t, time.Unix(1893456000, 0), session.ResetTime)
}

func TestClassifier_Finish_CancelledWinsOverExitCode(t *testing.T) {
	session := NewSession(Request{})
	c := NewClassifier(jsonDecoder{}, session, nil, nil)

	feed(c, `{"type":"text","text":"API Error: 500 Overloaded"}`)
	c.Finish(-1, true)

	assert.Equal(t, StateCancelled, session.State)
	assert.ErrorIs(t, session.Err(), ErrCancelled)
}

func TestClassifier_Finish_FallsBackToStderr(t *testing.T) {
	session := NewSession(Request{})
	c := NewClassifier(jsonDecoder{}, session, nil, nil)

	c.Observe(OutputEvent{Stream: Stderr, Raw: "Error: prompt is too long for this model\n"})
	c.Finish(2, false)

	assert.Equal(t, StateContextExceeded, session.State)
	assert.Contains(t, session.StderrTail, "prompt is too long")
}

func TestClassifier_Finish_ResumedSessionKeepsID(t *testing.T) {
	session := NewSession(Request{ResumeSessionID: "abc"})
	c := NewClassifier(jsonDecoder{}, session, nil, nil)

	feed(c, `{"type":"text","text":"continuing"}`)
	c.Finish(0, false)

	assert.Equal(t, "abc", session.ID)
	assert.Equal(t, "abc", session.ResumeOf)
}

func TestClassifier_ResultCostAccumulates(t *testing.T) {
	session := NewSession(Request{})
	c := NewClassifier(jsonDecoder{}, session, nil, nil)

	feed(c, `{"type":"result","text":"ok","total_cost_usd":0.25}`)
	c.Finish(0, false)

	assert.InDelta(t, 0.25, session.CostUSD, 0.0001)
}

func TestTerminalState_IsTerminal(t *testing.T) {
	assert.False(t, StateRunning.IsTerminal())
	assert.True(t, StateSucceeded.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
	assert.False(t, TerminalState("bogus").IsTerminal())
}

func quote(s string) string {
	b := []byte{'"'}
	for _, r := range s {
		switch r {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		default:
			b = append(b, string(r)...)
		}
	}
	return string(append(b, '"'))
}
