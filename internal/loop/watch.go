package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yarlson/go-solve/internal/logging"
)

const (
	DefaultWatchInterval        = 60 * time.Second
	DefaultMaxConsecutiveErrors = 10
)

// ErrTooManyPollErrors means polling failed MaxConsecutiveErrors times in a row.
var ErrTooManyPollErrors = errors.New("too many consecutive poll errors")

// PRState is the merge state of the watched pull request.
type PRState string

const (
	PROpen   PRState = "open"
	PRMerged PRState = "merged"
	PRClosed PRState = "closed"
)

// Feedback is one reviewer or issue comment.
type Feedback struct {
	Author    string
	Body      string
	CreatedAt time.Time
	URL       string
}

// Line renders the comment as a single prompt line.
func (f Feedback) Line() string {
	if f.Author == "" {
		return f.Body
	}
	return fmt.Sprintf("@%s: %s", f.Author, f.Body)
}

// FeedbackSource answers the two questions the watch loop polls for.
type FeedbackSource interface {
	// Feedback returns comments created strictly after since.
	Feedback(ctx context.Context, since time.Time) ([]Feedback, error)

	// PullRequestState returns the current merge state.
	PullRequestState(ctx context.Context) (PRState, error)
}

// CycleRunner runs one restart cycle. *Controller implements it.
type CycleRunner interface {
	Run(ctx context.Context, start Start) *CycleResult
}

// WatchOutcome is how a watch loop ended.
type WatchOutcome string

const (
	WatchMerged     WatchOutcome = "merged"
	WatchClosed     WatchOutcome = "closed"
	WatchCancelled  WatchOutcome = "cancelled"
	WatchStopped    WatchOutcome = "stopped"
	WatchPollErrors WatchOutcome = "poll_errors"
	WatchPaused     WatchOutcome = "paused"
)

// WatchConfig controls polling.
type WatchConfig struct {
	Interval             time.Duration
	MaxConsecutiveErrors int
}

// DefaultWatchConfig returns the default polling configuration.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Interval:             DefaultWatchInterval,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
	}
}

// WatchResult reports how the watch loop ended.
type WatchResult struct {
	Outcome WatchOutcome

	// Cycles counts the restart cycles triggered by feedback.
	Cycles int

	// FailedCycles counts the feedback cycles that did not succeed.
	FailedCycles int

	// Watermark is the timestamp of the last feedback acted upon.
	Watermark time.Time

	// LastCycle is the most recent cycle result, if any.
	LastCycle *CycleResult

	Err error
}

// Watcher polls a pull request for feedback and runs a new cycle for each batch.
type Watcher struct {
	cfg    WatchConfig
	source FeedbackSource
	runner CycleRunner
	clock  Clock
	base   Start
	paused func() bool
	log    *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}

	mu        sync.Mutex
	watermark time.Time
}

// NewWatcher creates a Watcher. base carries the parameters every
// feedback cycle starts from; its Feedback and Continue fields are replaced.
func NewWatcher(cfg WatchConfig, source FeedbackSource, runner CycleRunner, clock Clock, base Start) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchInterval
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Watcher{
		cfg:    cfg,
		source: source,
		runner: runner,
		clock:  clock,
		base:   base,
		log:    logging.WithComponent("watch"),
		stop:   make(chan struct{}),
	}
}

// WithPauseCheck makes the loop end with WatchPaused once paused reports true.
func (w *Watcher) WithPauseCheck(paused func() bool) *Watcher {
	w.paused = paused
	return w
}

// Stop asks the loop to exit after the current poll or cycle.
// It never interrupts a running session.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Watermark returns the timestamp of the last feedback acted upon.
func (w *Watcher) Watermark() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watermark
}

func (w *Watcher) advance(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.After(w.watermark) {
		w.watermark = t
	}
}

// Run polls until the pull request is merged or closed, the loop is stopped,
// or polling keeps failing. A feedback cycle that does not succeed is
// counted and polling goes on. Feedback created at or before since is ignored.
func (w *Watcher) Run(ctx context.Context, since time.Time) *WatchResult {
	w.advance(since)
	result := &WatchResult{}
	consecutiveErrors := 0

	w.log.Info("watching for feedback",
		slog.Duration("interval", w.cfg.Interval),
		slog.Time("since", since),
	)

	for {
		if done := w.checkStop(ctx, result); done {
			return w.finish(result)
		}

		state, feedback, err := w.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				result.Outcome = WatchCancelled
				return w.finish(result)
			}
			consecutiveErrors++
			w.log.Warn("poll failed",
				slog.Int("consecutive_errors", consecutiveErrors),
				slog.Int("max_consecutive_errors", w.cfg.MaxConsecutiveErrors),
				slog.String("error", err.Error()),
			)
			if consecutiveErrors >= w.cfg.MaxConsecutiveErrors {
				result.Outcome = WatchPollErrors
				result.Err = fmt.Errorf("%w: %w", ErrTooManyPollErrors, err)
				return w.finish(result)
			}
		} else {
			consecutiveErrors = 0

			switch state {
			case PRMerged:
				result.Outcome = WatchMerged
				return w.finish(result)
			case PRClosed:
				result.Outcome = WatchClosed
				return w.finish(result)
			}

			if len(feedback) > 0 {
				cycle := w.runCycle(ctx, feedback)
				result.Cycles++
				result.LastCycle = cycle

				if cycle.Outcome == OutcomeCancelled {
					result.Outcome = WatchCancelled
					return w.finish(result)
				}
				if !cycle.Success {
					result.FailedCycles++
					w.log.Warn("feedback cycle did not succeed, still watching",
						slog.String("outcome", string(cycle.Outcome)),
						slog.String("session_id", cycle.SessionID),
					)
				}
				// A failed batch is not replayed; the operator resumes its session.
				w.advance(feedback[len(feedback)-1].CreatedAt)
				continue
			}
		}

		if err := w.wait(ctx); err != nil {
			result.Outcome = WatchCancelled
			return w.finish(result)
		}
	}
}

// checkStop handles the stop, cancel and pause conditions checked before each poll.
func (w *Watcher) checkStop(ctx context.Context, result *WatchResult) bool {
	switch {
	case ctx.Err() != nil:
		result.Outcome = WatchCancelled
	case w.stopped():
		result.Outcome = WatchStopped
	case w.paused != nil && w.paused():
		result.Outcome = WatchPaused
	default:
		return false
	}
	return true
}

func (w *Watcher) poll(ctx context.Context) (PRState, []Feedback, error) {
	state, err := w.source.PullRequestState(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch pull request state: %w", err)
	}
	if state != PROpen {
		return state, nil, nil
	}

	watermark := w.Watermark()
	feedback, err := w.source.Feedback(ctx, watermark)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch feedback: %w", err)
	}

	fresh := feedback[:0:0]
	for _, f := range feedback {
		if f.CreatedAt.After(watermark) {
			fresh = append(fresh, f)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})

	return state, fresh, nil
}

func (w *Watcher) runCycle(ctx context.Context, feedback []Feedback) *CycleResult {
	lines := make([]string, 0, len(feedback))
	for _, f := range feedback {
		lines = append(lines, f.Line())
	}

	start := w.base
	start.Params.Feedback = lines
	start.Params.Continue = true
	start.ResumeSessionID = ""
	start.Prompt = ""

	w.log.Info("new feedback, starting cycle",
		slog.Int("comments", len(feedback)),
		slog.Time("latest", feedback[len(feedback)-1].CreatedAt),
	)

	return w.runner.Run(ctx, start)
}

func (w *Watcher) wait(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err := w.clock.Sleep(waitCtx, w.cfg.Interval)
	if err != nil && ctx.Err() == nil {
		// Stop interrupted the wait; the next checkStop reports it.
		return nil
	}
	return err
}

func (w *Watcher) finish(result *WatchResult) *WatchResult {
	result.Watermark = w.Watermark()
	w.log.Info("watch finished",
		slog.String("outcome", string(result.Outcome)),
		slog.Int("cycles", result.Cycles),
	)
	return result
}
