package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yarlson/go-solve/internal/agent"
	"github.com/yarlson/go-solve/internal/git"
	"github.com/yarlson/go-solve/internal/logging"
	"github.com/yarlson/go-solve/internal/prompt"
)

// State is a node of the restart state machine.
type State string

const (
	StatePreparing       State = "preparing"
	StateExecuting       State = "executing"
	StateInspecting      State = "inspecting"
	StateRestarting      State = "restarting"
	StateWaitingForReset State = "waiting_for_reset"
	StateDone            State = "done"
)

// UncommittedPolicy selects what happens when a successful session leaves
// uncommitted changes behind.
type UncommittedPolicy string

const (
	// PolicyRestart resumes the agent with a reconcile prompt.
	PolicyRestart UncommittedPolicy = "restart"
	// PolicyCommit commits and pushes the leftovers directly.
	PolicyCommit UncommittedPolicy = "commit"
	// PolicyIgnore reports success and leaves the working copy as is.
	PolicyIgnore UncommittedPolicy = "ignore"
)

// ParseUncommittedPolicy parses a policy name. Empty selects PolicyRestart.
func ParseUncommittedPolicy(s string) (UncommittedPolicy, error) {
	switch p := UncommittedPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyRestart, nil
	case PolicyRestart, PolicyCommit, PolicyIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("invalid uncommitted policy %q (expected restart, commit or ignore)", s)
	}
}

// Outcome is the terminal result of a restart cycle.
type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailed       Outcome = "failed"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeRestartLimit Outcome = "restart_limit"
)

var validOutcomes = map[Outcome]bool{
	OutcomeSucceeded:    true,
	OutcomeFailed:       true,
	OutcomeRateLimited:  true,
	OutcomeCancelled:    true,
	OutcomeRestartLimit: true,
}

// IsValid returns true if the outcome is a known value.
func (o Outcome) IsValid() bool {
	return validOutcomes[o]
}

var (
	// ErrRestartLimitExceeded means the iteration cap was reached without success.
	ErrRestartLimitExceeded = errors.New("restart limit exceeded")

	// ErrBudgetExceeded means a time or cost ceiling stopped the cycle.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

const (
	DefaultMaxIterations = 5
	DefaultResetBuffer   = time.Minute
	DefaultMaxResetWait  = 6 * time.Hour
)

// Config controls one restart cycle.
type Config struct {
	// MaxIterations caps executions per cycle, reconcile and reset resumes included.
	MaxIterations int

	UncommittedPolicy UncommittedPolicy

	// AutoContinueOnLimit waits for the provider reset and resumes the session.
	AutoContinueOnLimit bool

	// ResetBuffer is added to the provider reset time before resuming.
	ResetBuffer time.Duration

	// MaxResetWait is the longest reset wait the controller accepts.
	MaxResetWait time.Duration

	Model     string
	ExtraArgs []string
	Env       map[string]string

	// LogsDir receives the raw NDJSON of every session.
	LogsDir string

	// RecordsDir receives a CycleRecord per cycle.
	RecordsDir string

	// Budget adds optional time and cost ceilings. Its MaxIterations is
	// ignored in favor of the field above.
	Budget BudgetLimits
}

// DefaultConfig returns the default restart configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     DefaultMaxIterations,
		UncommittedPolicy: PolicyRestart,
		ResetBuffer:       DefaultResetBuffer,
		MaxResetWait:      DefaultMaxResetWait,
	}
}

// Prompts builds the prompts a cycle sends.
type Prompts interface {
	Build(p prompt.Params) (*prompt.BuildResult, error)
	BuildReconcile(files []string) string
	BuildResume() string
}

// WorkingCopy is the repository state the controller inspects between sessions.
type WorkingCopy interface {
	GetChangedFiles(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context) error
}

// Deps holds the collaborators of a Controller.
type Deps struct {
	Backend agent.Backend
	Git     WorkingCopy
	Prompts Prompts
	Retrier *Retrier
	Clock   Clock

	// Sink receives every output line, e.g. a console renderer.
	Sink agent.LineSink

	// Markers overrides the default marker table.
	Markers agent.MarkerTable
}

// Cycle is the per-cycle bookkeeping of the controller.
type Cycle struct {
	// Iteration is 1-based.
	Iteration                  int
	UncommittedChangesDetected bool
	FeedbackDetected           bool
}

// Start describes how a cycle begins.
type Start struct {
	Params prompt.Params

	// Title is the issue title, used for commit messages.
	Title string

	// ResumeSessionID continues an existing session instead of starting fresh.
	ResumeSessionID string

	// Prompt overrides the first prompt of a resumed cycle.
	Prompt string
}

func (s Start) logName() string {
	p := s.Params
	switch {
	case p.Owner != "" && p.PullRequestNumber > 0:
		return fmt.Sprintf("%s-%s-pr-%d", p.Owner, p.Repo, p.PullRequestNumber)
	case p.Owner != "" && p.IssueNumber > 0:
		return fmt.Sprintf("%s-%s-%d", p.Owner, p.Repo, p.IssueNumber)
	case s.ResumeSessionID != "":
		return "resume-" + s.ResumeSessionID
	default:
		return ""
	}
}

// Target returns the pull request URL, or the issue URL when there is none.
func (s Start) Target() string {
	if s.Params.PullRequestURL != "" {
		return s.Params.PullRequestURL
	}
	return s.Params.IssueURL
}

// CycleResult is what a finished cycle reports.
type CycleResult struct {
	Outcome Outcome
	Success bool

	// SessionID is the last session id seen, for manual resume.
	SessionID string

	Iterations int
	Reason     string

	// Err is the taxonomy error behind a failure, if any.
	Err error

	Sessions []*agent.Session
	Retries  []RetryAttempt

	UncommittedChangesDetected bool

	// CommitHash is set when leftovers were committed under PolicyCommit.
	CommitHash string

	// ResumeCommand is the manual resume invocation for unsuccessful cycles.
	ResumeCommand string

	TotalCostUSD float64

	// RecordPath is where the cycle record was written, if anywhere.
	RecordPath string
}

// LastSession returns the final session of the cycle, or nil.
func (r *CycleResult) LastSession() *agent.Session {
	if len(r.Sessions) == 0 {
		return nil
	}
	return r.Sessions[len(r.Sessions)-1]
}

// Controller runs restart cycles. Run calls are serialized so one working
// copy never has two live sessions.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

// NewController creates a Controller, filling unset collaborators and limits with defaults.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.UncommittedPolicy == "" {
		cfg.UncommittedPolicy = PolicyRestart
	}
	if cfg.MaxResetWait <= 0 {
		cfg.MaxResetWait = DefaultMaxResetWait
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Retrier == nil {
		deps.Retrier = NewRetrier(DefaultMaxRetries, DefaultBaseDelay, deps.Clock)
	}
	if deps.Markers == nil {
		deps.Markers = agent.DefaultMarkers()
	}

	return &Controller{
		cfg:   cfg,
		deps:  deps,
		log:   logging.WithComponent("restart"),
		state: StateDone,
	}
}

// State returns the current state machine node.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State, attrs ...any) {
	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()

	c.log.Debug("state transition", append([]any{slog.String("from", string(prev)), slog.String("to", string(s))}, attrs...)...)
}

// run carries the mutable state of one cycle.
type run struct {
	start   Start
	cycle   Cycle
	budget  *BudgetTracker
	result  *CycleResult
	record  *CycleRecord
	request agent.Request
}

// Run executes one cycle until it reaches done.
func (c *Controller) Run(ctx context.Context, start Start) *CycleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(StatePreparing)

	limits := c.cfg.Budget
	limits.MaxIterations = c.cfg.MaxIterations

	r := &run{
		start:  start,
		cycle:  Cycle{FeedbackDetected: len(start.Params.Feedback) > 0},
		budget: NewBudgetTracker(limits, c.deps.Clock),
		result: &CycleResult{SessionID: start.ResumeSessionID},
		record: NewCycleRecord(c.deps.Backend.Name(), c.deps.Clock.Now()),
	}
	r.budget.Reset()

	req, err := c.firstRequest(start)
	if err != nil {
		return c.finish(r, OutcomeFailed, err.Error(), err)
	}
	r.request = req

	for {
		r.cycle.Iteration++
		c.setState(StateExecuting,
			slog.Int("iteration", r.cycle.Iteration),
			slog.String("resume_session_id", r.request.ResumeSessionID),
		)

		session, err := c.execute(ctx, r)
		if err != nil {
			return c.fail(ctx, r, err)
		}

		c.setState(StateInspecting, slog.String("terminal_state", string(session.State)))

		switch session.State {
		case agent.StateSucceeded:
			next, done := c.inspectWorkingCopy(ctx, r)
			if done != nil {
				return done
			}
			r.request = next

		case agent.StateRateLimited:
			if !c.cfg.AutoContinueOnLimit {
				return c.finish(r, OutcomeRateLimited, "agent rate limited", agent.ErrRateLimited)
			}
			if done := c.checkBudget(r); done != nil {
				return done
			}
			if done := c.waitForReset(ctx, r, session); done != nil {
				return done
			}
			r.request = c.resumeRequest(r, c.deps.Prompts.BuildResume())

		case agent.StateCancelled:
			return c.finish(r, OutcomeCancelled, "cancelled", agent.ErrCancelled)

		default:
			reason := string(session.State)
			if session.LastMessage != "" {
				reason = fmt.Sprintf("%s: %s", session.State, firstLine(session.LastMessage))
			}
			return c.finish(r, OutcomeFailed, reason, session.Err())
		}
	}
}

func (c *Controller) firstRequest(start Start) (agent.Request, error) {
	req := agent.Request{
		Cwd:             start.Params.WorkDir,
		Model:           c.cfg.Model,
		ResumeSessionID: start.ResumeSessionID,
		ExtraArgs:       c.cfg.ExtraArgs,
		Env:             c.cfg.Env,
	}

	if start.ResumeSessionID != "" {
		req.Prompt = start.Prompt
		if req.Prompt == "" {
			req.Prompt = c.deps.Prompts.BuildResume()
		}
		return req, nil
	}

	built, err := c.deps.Prompts.Build(start.Params)
	if err != nil {
		return req, fmt.Errorf("failed to build prompts: %w", err)
	}
	req.SystemPrompt = built.SystemPrompt
	req.Prompt = built.UserPrompt
	return req, nil
}

// resumeRequest continues the last session with a short prompt. Without a
// session id the prompt goes to a fresh session with the original system prompt.
func (c *Controller) resumeRequest(r *run, text string) agent.Request {
	req := r.request
	req.Prompt = text
	req.ResumeSessionID = r.result.SessionID
	return req
}

func (c *Controller) execute(ctx context.Context, r *run) (*agent.Session, error) {
	opts := agent.ExecuteOptions{
		Markers: c.deps.Markers,
		Sink:    c.deps.Sink,
		LogsDir: c.cfg.LogsDir,
		LogName: r.start.logName(),
	}

	session, attempts, err := c.deps.Retrier.Run(ctx, func(ctx context.Context, attempt int) (*agent.Session, error) {
		return agent.Execute(ctx, c.deps.Backend, r.request, opts)
	})
	r.result.Retries = append(r.result.Retries, attempts...)
	if err != nil {
		return nil, err
	}

	r.result.Sessions = append(r.result.Sessions, session)
	r.result.TotalCostUSD += session.CostUSD
	r.budget.RecordIteration(session.CostUSD)
	if session.ID != "" {
		r.result.SessionID = session.ID
	}

	c.log.Info("session finished",
		slog.Int("iteration", r.cycle.Iteration),
		slog.String("session_id", session.ID),
		slog.String("state", string(session.State)),
		slog.Int("exit_code", session.ExitCode),
		slog.Int("messages", session.MessageCount),
		slog.Int("tool_uses", session.ToolUseCount),
	)

	return session, nil
}

// inspectWorkingCopy applies the uncommitted policy after a successful
// session. It returns either the next request or a finished result.
func (c *Controller) inspectWorkingCopy(ctx context.Context, r *run) (agent.Request, *CycleResult) {
	files, err := c.deps.Git.GetChangedFiles(ctx)
	if err != nil {
		return agent.Request{}, c.fail(ctx, r, fmt.Errorf("failed to inspect working copy: %w", err))
	}
	if len(files) == 0 {
		return agent.Request{}, c.finish(r, OutcomeSucceeded, "", nil)
	}

	r.cycle.UncommittedChangesDetected = true
	c.log.Info("uncommitted changes after session",
		slog.Int("files", len(files)),
		slog.String("policy", string(c.cfg.UncommittedPolicy)),
	)

	switch c.cfg.UncommittedPolicy {
	case PolicyIgnore:
		return agent.Request{}, c.finish(r, OutcomeSucceeded, "", nil)

	case PolicyCommit:
		hash, err := c.commitAndPush(ctx, r)
		if err != nil {
			return agent.Request{}, c.fail(ctx, r, err)
		}
		r.result.CommitHash = hash
		return agent.Request{}, c.finish(r, OutcomeSucceeded, "", nil)

	default:
		if done := c.checkBudget(r); done != nil {
			return agent.Request{}, done
		}
		c.setState(StateRestarting, slog.Int("iteration", r.cycle.Iteration+1))
		return c.resumeRequest(r, c.deps.Prompts.BuildReconcile(files)), nil
	}
}

func (c *Controller) commitAndPush(ctx context.Context, r *run) (string, error) {
	msg := git.FormatCommitMessage(r.start.Title, r.result.SessionID)
	hash, err := c.deps.Git.Commit(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("failed to commit leftover changes: %w", err)
	}
	if err := c.deps.Git.Push(ctx); err != nil {
		return hash, fmt.Errorf("failed to push leftover changes: %w", err)
	}
	c.log.Info("committed leftover changes", slog.String("commit", hash))
	return hash, nil
}

// checkBudget guards every transition back to executing.
func (c *Controller) checkBudget(r *run) *CycleResult {
	status := r.budget.CheckBudget()
	if status.CanContinue {
		return nil
	}
	if status.ReasonCode == BudgetReasonIterations {
		return c.finish(r, OutcomeRestartLimit, status.Reason, ErrRestartLimitExceeded)
	}
	return c.finish(r, OutcomeFailed, status.Reason, ErrBudgetExceeded)
}

// ResetWait returns how long to wait before resuming a rate-limited
// session. ok is false when the reset time is unknown or too far away.
func (c *Controller) ResetWait(reset time.Time) (time.Duration, bool) {
	if reset.IsZero() {
		return 0, false
	}
	wait := max(reset.Sub(c.deps.Clock.Now()), 0) + c.cfg.ResetBuffer
	if wait > c.cfg.MaxResetWait {
		return wait, false
	}
	return wait, true
}

func (c *Controller) waitForReset(ctx context.Context, r *run, session *agent.Session) *CycleResult {
	if r.result.SessionID == "" {
		return c.finish(r, OutcomeRateLimited, "rate limited before a session id was assigned", agent.ErrRateLimited)
	}

	wait, ok := c.ResetWait(session.ResetTime)
	if !ok {
		reason := "rate limited, reset time unknown"
		if !session.ResetTime.IsZero() {
			reason = fmt.Sprintf("rate limited until %s, longer than the %s wait limit",
				session.ResetTime.Format(time.RFC3339), c.cfg.MaxResetWait)
		}
		return c.finish(r, OutcomeRateLimited, reason, agent.ErrRateLimited)
	}

	c.setState(StateWaitingForReset,
		slog.Time("reset_time", session.ResetTime),
		slog.Duration("wait", wait),
		slog.String("session_id", r.result.SessionID),
	)

	if err := c.deps.Clock.Sleep(ctx, wait); err != nil {
		return c.finish(r, OutcomeCancelled, "cancelled while waiting for rate limit reset", agent.ErrCancelled)
	}
	return nil
}

// fail ends the cycle as failed, or as cancelled when the error comes from
// an interrupted context rather than the agent or git.
func (c *Controller) fail(ctx context.Context, r *run, err error) *CycleResult {
	if ctx.Err() != nil || errors.Is(err, agent.ErrCancelled) {
		return c.finish(r, OutcomeCancelled, "cancelled", agent.ErrCancelled)
	}
	return c.finish(r, OutcomeFailed, err.Error(), err)
}

func (c *Controller) finish(r *run, outcome Outcome, reason string, err error) *CycleResult {
	res := r.result
	res.Outcome = outcome
	res.Success = outcome == OutcomeSucceeded
	res.Iterations = r.cycle.Iteration
	res.Reason = reason
	res.Err = err
	res.UncommittedChangesDetected = r.cycle.UncommittedChangesDetected
	if !res.Success && res.SessionID != "" {
		res.ResumeCommand = c.deps.Backend.ResumeCommand(res.SessionID)
	}

	c.setState(StateDone,
		slog.String("outcome", string(outcome)),
		slog.Int("iterations", res.Iterations),
	)

	level := slog.LevelInfo
	if !res.Success {
		level = slog.LevelWarn
	}
	c.log.Log(context.Background(), level, "cycle finished",
		slog.String("outcome", string(outcome)),
		slog.String("session_id", res.SessionID),
		slog.Int("iterations", res.Iterations),
		slog.String("reason", reason),
	)

	if c.cfg.RecordsDir != "" {
		path, saveErr := SaveRecord(c.cfg.RecordsDir, c.fillRecord(r))
		if saveErr != nil {
			c.log.Warn("failed to save cycle record", slog.String("error", saveErr.Error()))
		} else {
			res.RecordPath = path
		}
	}

	return res
}

func (c *Controller) fillRecord(r *run) *CycleRecord {
	rec := r.record
	res := r.result
	rec.Target = r.start.Target()
	rec.WorkDir = r.start.Params.WorkDir
	rec.EndTime = c.deps.Clock.Now()
	rec.Outcome = res.Outcome
	rec.Reason = res.Reason
	rec.Iterations = res.Iterations
	rec.Retries = len(res.Retries)
	rec.UncommittedChangesDetected = r.cycle.UncommittedChangesDetected
	rec.FeedbackDetected = r.cycle.FeedbackDetected
	rec.CommitHash = res.CommitHash
	rec.TotalCostUSD = res.TotalCostUSD
	rec.SessionIDs = rec.SessionIDs[:0]
	for _, s := range res.Sessions {
		if s.ID != "" {
			rec.SessionIDs = append(rec.SessionIDs, s.ID)
		}
	}
	if len(rec.SessionIDs) == 0 && res.SessionID != "" {
		rec.SessionIDs = append(rec.SessionIDs, res.SessionID)
	}
	return rec
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
