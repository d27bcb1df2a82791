package loop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yarlson/go-solve/internal/agent"
	"github.com/yarlson/go-solve/internal/logging"
)

const (
	// DefaultMaxRetries is the number of retries after an overloaded session.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the first backoff delay; it doubles per attempt.
	DefaultBaseDelay = 5 * time.Second
)

// RetryAttempt describes one backoff before a retry.
type RetryAttempt struct {
	// Number is the 0-based attempt that was overloaded.
	Number int `json:"number"`

	// Delay is the backoff waited before the next attempt.
	Delay time.Duration `json:"delay"`
}

// InvokeFunc runs one agent invocation. attempt starts at 0.
type InvokeFunc func(ctx context.Context, attempt int) (*agent.Session, error)

// Retrier retries overloaded sessions with exponential backoff. It is the
// only place provider overload is retried.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	clock      Clock
	log        *slog.Logger
}

// NewRetrier creates a Retrier. A nil clock uses the real clock.
func NewRetrier(maxRetries int, baseDelay time.Duration, clock Clock) *Retrier {
	if clock == nil {
		clock = RealClock()
	}
	return &Retrier{
		maxRetries: max(maxRetries, 0),
		baseDelay:  baseDelay,
		clock:      clock,
		log:        logging.WithComponent("retry"),
	}
}

// Delay returns the backoff after the given 0-based attempt: base * 2^attempt.
func (r *Retrier) Delay(attempt int) time.Duration {
	return r.baseDelay << attempt
}

// Run invokes until the session is not overloaded or retries are exhausted.
// The prompts are reused unchanged; an overloaded attempt has no usable
// session to resume. After MaxRetries retries the overloaded session is
// returned as is. A cancelled backoff yields a cancelled copy of the last
// session; a context already done before an attempt yields an error
// wrapping agent.ErrCancelled.
func (r *Retrier) Run(ctx context.Context, invoke InvokeFunc) (*agent.Session, []RetryAttempt, error) {
	var attempts []RetryAttempt

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempts, fmt.Errorf("%w: %w", agent.ErrCancelled, err)
		}

		session, err := invoke(ctx, attempt)
		if err != nil {
			return nil, attempts, err
		}

		if session.State != agent.StateOverloaded {
			return session, attempts, nil
		}

		if attempt >= r.maxRetries {
			r.log.Warn("overload retries exhausted",
				slog.Int("attempts", attempt+1),
				slog.String("session_id", session.ID),
			)
			return session, attempts, nil
		}

		delay := r.Delay(attempt)
		attempts = append(attempts, RetryAttempt{Number: attempt, Delay: delay})
		r.log.Info("agent overloaded, backing off",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", r.maxRetries),
			slog.Duration("delay", delay),
		)

		if err := r.clock.Sleep(ctx, delay); err != nil {
			cancelled := *session
			cancelled.State = agent.StateCancelled
			return &cancelled, attempts, nil
		}
	}
}
