package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/go-solve/internal/agent"
	"github.com/yarlson/go-solve/internal/prompt"
)

type pollResponse struct {
	state PRState
	err   error
}

// fakeSource replays PR state responses, repeating the last one, and
// returns the same feedback on every call.
type fakeSource struct {
	mu        sync.Mutex
	states    []pollResponse
	feedback  []Feedback
	stateCall int
	sinces    []time.Time
}

func (s *fakeSource) PullRequestState(ctx context.Context) (PRState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateCall++
	r := s.states[min(s.stateCall, len(s.states))-1]
	return r.state, r.err
}

func (s *fakeSource) Feedback(ctx context.Context, since time.Time) ([]Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinces = append(s.sinces, since)
	return append([]Feedback(nil), s.feedback...), nil
}

// fakeRunner records cycle starts and the watermark seen at call time.
type fakeRunner struct {
	starts     []Start
	watermarks []time.Time
	result     *CycleResult
	watcher    *Watcher
	onRun      func()
}

func (r *fakeRunner) Run(ctx context.Context, start Start) *CycleResult {
	r.starts = append(r.starts, start)
	if r.watcher != nil {
		r.watermarks = append(r.watermarks, r.watcher.Watermark())
	}
	if r.onRun != nil {
		r.onRun()
	}
	if r.result != nil {
		return r.result
	}
	return &CycleResult{Outcome: OutcomeSucceeded, Success: true, SessionID: "s-2"}
}

func watchBase() Start {
	return Start{
		Title: "Fix crash",
		Params: prompt.Params{
			PullRequestURL:    "https://github.com/acme/widgets/pull/7",
			PullRequestNumber: 7,
			WorkDir:           "/tmp/widgets",
		},
	}
}

func newTestWatcher(cfg WatchConfig, source *fakeSource, runner *fakeRunner) (*Watcher, *fakeClock) {
	clock := newFakeClock()
	w := NewWatcher(cfg, source, runner, clock, watchBase())
	runner.watcher = w
	return w, clock
}

func TestFeedback_Line(t *testing.T) {
	assert.Equal(t, "@alice: please rename", Feedback{Author: "alice", Body: "please rename"}.Line())
	assert.Equal(t, "anonymous note", Feedback{Body: "anonymous note"}.Line())
}

func TestWatcher_NewFeedbackTriggersExactlyOneCycle(t *testing.T) {
	since := testNow.Add(-time.Hour)
	commentAt := testNow.Add(-10 * time.Minute)
	source := &fakeSource{
		states: []pollResponse{{state: PROpen}, {state: PROpen}, {state: PRMerged}},
		feedback: []Feedback{
			{Author: "alice", Body: "please rename the flag", CreatedAt: commentAt},
		},
	}
	runner := &fakeRunner{}
	w, _ := newTestWatcher(DefaultWatchConfig(), source, runner)

	res := w.Run(context.Background(), since)

	assert.Equal(t, WatchMerged, res.Outcome)
	assert.Equal(t, 1, res.Cycles)
	require.Len(t, runner.starts, 1)
	assert.Equal(t, []string{"@alice: please rename the flag"}, runner.starts[0].Params.Feedback)
	assert.True(t, runner.starts[0].Params.Continue)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", runner.starts[0].Params.PullRequestURL)

	assert.Equal(t, []time.Time{since}, runner.watermarks, "watermark must not move before the cycle finishes")
	assert.Equal(t, commentAt, res.Watermark)
	assert.Equal(t, commentAt, w.Watermark())
}

func TestWatcher_FeedbackIsBatchedInOrder(t *testing.T) {
	since := testNow.Add(-time.Hour)
	source := &fakeSource{
		states: []pollResponse{{state: PROpen}, {state: PRClosed}},
		feedback: []Feedback{
			{Author: "bob", Body: "second", CreatedAt: testNow.Add(-5 * time.Minute)},
			{Author: "old", Body: "already handled", CreatedAt: since},
			{Author: "alice", Body: "first", CreatedAt: testNow.Add(-20 * time.Minute)},
		},
	}
	runner := &fakeRunner{}
	w, _ := newTestWatcher(DefaultWatchConfig(), source, runner)

	res := w.Run(context.Background(), since)

	assert.Equal(t, WatchClosed, res.Outcome)
	require.Len(t, runner.starts, 1)
	assert.Equal(t, []string{"@alice: first", "@bob: second"}, runner.starts[0].Params.Feedback)
	assert.Equal(t, testNow.Add(-5*time.Minute), res.Watermark)
}

func TestWatcher_NoFeedbackWaitsInterval(t *testing.T) {
	source := &fakeSource{
		states: []pollResponse{{state: PROpen}, {state: PROpen}, {state: PRMerged}},
	}
	runner := &fakeRunner{}
	cfg := WatchConfig{Interval: 30 * time.Second, MaxConsecutiveErrors: 3}
	w, clock := newTestWatcher(cfg, source, runner)

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchMerged, res.Outcome)
	assert.Empty(t, runner.starts)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, clock.Sleeps())
	assert.Equal(t, testNow, res.Watermark)
}

func TestWatcher_SurvivesTransientPollErrors(t *testing.T) {
	transient := errors.New("connection reset")
	states := make([]pollResponse, 0, 7)
	for range 5 {
		states = append(states, pollResponse{err: transient})
	}
	states = append(states, pollResponse{state: PROpen}, pollResponse{state: PRMerged})

	commentAt := testNow.Add(time.Minute)
	source := &fakeSource{
		states:   states,
		feedback: []Feedback{{Author: "alice", Body: "ping", CreatedAt: commentAt}},
	}
	runner := &fakeRunner{}
	w, clock := newTestWatcher(DefaultWatchConfig(), source, runner)

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchMerged, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Cycles)
	assert.Len(t, clock.Sleeps(), 5)
	assert.Equal(t, commentAt, res.Watermark)
}

func TestWatcher_GivesUpAfterConsecutiveErrors(t *testing.T) {
	transient := errors.New("connection reset")
	source := &fakeSource{states: []pollResponse{{err: transient}}}
	runner := &fakeRunner{}
	w, _ := newTestWatcher(WatchConfig{Interval: time.Second, MaxConsecutiveErrors: 3}, source, runner)

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchPollErrors, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTooManyPollErrors)
	assert.ErrorIs(t, res.Err, transient)
	assert.Equal(t, 3, source.stateCall)
}

func TestWatcher_SuccessfulPollResetsErrorCount(t *testing.T) {
	transient := errors.New("timeout")
	source := &fakeSource{states: []pollResponse{
		{err: transient}, {err: transient},
		{state: PROpen},
		{err: transient}, {err: transient},
		{state: PRMerged},
	}}
	runner := &fakeRunner{}
	w, _ := newTestWatcher(WatchConfig{Interval: time.Second, MaxConsecutiveErrors: 3}, source, runner)

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchMerged, res.Outcome)
}

func TestWatcher_FailedCycleKeepsWatching(t *testing.T) {
	first := Feedback{Author: "alice", Body: "fix it", CreatedAt: testNow.Add(time.Minute)}
	source := &fakeSource{
		states:   []pollResponse{{state: PROpen}, {state: PROpen}, {state: PROpen}, {state: PRMerged}},
		feedback: []Feedback{first},
	}
	runner := &fakeRunner{result: &CycleResult{
		Outcome:   OutcomeRateLimited,
		SessionID: "s-1",
		Err:       agent.ErrRateLimited,
	}}
	w, clock := newTestWatcher(DefaultWatchConfig(), source, runner)

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchMerged, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Cycles, "the failed batch is not replayed")
	assert.Equal(t, 1, res.FailedCycles)
	assert.Equal(t, first.CreatedAt, res.Watermark)
	assert.Same(t, runner.result, res.LastCycle)
	assert.NotEmpty(t, clock.Sleeps(), "polling continues after the failed cycle")
}

func TestWatcher_FailedThenSucceededCycles(t *testing.T) {
	source := &fakeSource{
		states:   []pollResponse{{state: PROpen}, {state: PROpen}, {state: PROpen}, {state: PRMerged}},
		feedback: []Feedback{{Author: "alice", Body: "fix it", CreatedAt: testNow.Add(time.Minute)}},
	}
	runner := &fakeRunner{result: &CycleResult{Outcome: OutcomeRestartLimit, Err: ErrRestartLimitExceeded}}
	runner.onRun = func() {
		if len(runner.starts) == 1 {
			source.mu.Lock()
			source.feedback = append(source.feedback, Feedback{Author: "bob", Body: "and this", CreatedAt: testNow.Add(2 * time.Minute)})
			source.mu.Unlock()
			return
		}
		runner.result = &CycleResult{Outcome: OutcomeSucceeded, Success: true}
	}
	w, _ := newTestWatcher(DefaultWatchConfig(), source, runner)

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchMerged, res.Outcome)
	assert.Equal(t, 2, res.Cycles)
	assert.Equal(t, 1, res.FailedCycles)
	require.Len(t, runner.starts, 2)
	assert.Equal(t, []string{"@bob: and this"}, runner.starts[1].Params.Feedback)
	assert.Equal(t, testNow.Add(2*time.Minute), res.Watermark)
}

func TestWatcher_CancelledCycle(t *testing.T) {
	source := &fakeSource{
		states:   []pollResponse{{state: PROpen}},
		feedback: []Feedback{{Author: "alice", Body: "fix it", CreatedAt: testNow.Add(time.Minute)}},
	}
	runner := &fakeRunner{result: &CycleResult{Outcome: OutcomeCancelled}}
	w, _ := newTestWatcher(DefaultWatchConfig(), source, runner)

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchCancelled, res.Outcome)
}

func TestWatcher_StopFinishesCurrentCycle(t *testing.T) {
	source := &fakeSource{
		states:   []pollResponse{{state: PROpen}},
		feedback: []Feedback{{Author: "alice", Body: "fix it", CreatedAt: testNow.Add(time.Minute)}},
	}
	runner := &fakeRunner{}
	w, _ := newTestWatcher(DefaultWatchConfig(), source, runner)
	runner.onRun = w.Stop

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchStopped, res.Outcome)
	assert.Equal(t, 1, res.Cycles)
	assert.Equal(t, testNow.Add(time.Minute), res.Watermark, "the finished cycle still advances the watermark")
	assert.Equal(t, 1, source.stateCall)
}

func TestWatcher_StopBeforeRun(t *testing.T) {
	source := &fakeSource{states: []pollResponse{{state: PROpen}}}
	w, _ := newTestWatcher(DefaultWatchConfig(), source, &fakeRunner{})
	w.Stop()
	w.Stop()

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchStopped, res.Outcome)
	assert.Equal(t, 0, source.stateCall)
}

func TestWatcher_Paused(t *testing.T) {
	source := &fakeSource{states: []pollResponse{{state: PROpen}}}
	w, _ := newTestWatcher(DefaultWatchConfig(), source, &fakeRunner{})

	polls := 0
	w.WithPauseCheck(func() bool {
		polls++
		return polls > 2
	})

	res := w.Run(context.Background(), testNow)

	assert.Equal(t, WatchPaused, res.Outcome)
	assert.Equal(t, 2, source.stateCall)
}

func TestWatcher_CancelledContext(t *testing.T) {
	source := &fakeSource{states: []pollResponse{{state: PROpen}}}
	w, _ := newTestWatcher(DefaultWatchConfig(), source, &fakeRunner{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := w.Run(ctx, testNow)

	assert.Equal(t, WatchCancelled, res.Outcome)
	assert.Equal(t, 0, source.stateCall)
}

func TestNewWatcher_Defaults(t *testing.T) {
	w := NewWatcher(WatchConfig{}, &fakeSource{}, &fakeRunner{}, nil, Start{})

	assert.Equal(t, DefaultWatchInterval, w.cfg.Interval)
	assert.Equal(t, DefaultMaxConsecutiveErrors, w.cfg.MaxConsecutiveErrors)
	assert.NotNil(t, w.clock)
}
