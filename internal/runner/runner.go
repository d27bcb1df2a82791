// Package runner wires configuration, the agent backend and the control loops
// into one solve invocation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/yarlson/go-solve/internal/agent"
	"github.com/yarlson/go-solve/internal/config"
	gitpkg "github.com/yarlson/go-solve/internal/git"
	"github.com/yarlson/go-solve/internal/github"
	"github.com/yarlson/go-solve/internal/logging"
	"github.com/yarlson/go-solve/internal/loop"
	"github.com/yarlson/go-solve/internal/prompt"
	"github.com/yarlson/go-solve/internal/provider"
	"github.com/yarlson/go-solve/internal/reporter"
	"github.com/yarlson/go-solve/internal/state"
	"github.com/yarlson/go-solve/internal/stream"
)

// ErrCycleFailed is returned when a cycle ends in any outcome but succeeded.
var ErrCycleFailed = errors.New("cycle did not succeed")

// Options are the command-line overrides of one invocation.
// Zero values fall back to the loaded config.
type Options struct {
	Provider            string
	Model               string
	MaxIterations       int
	UncommittedPolicy   string
	AutoContinueOnLimit bool
	Branch              string

	// PullRequest is the pull request to watch, as a URL or number.
	// Empty means the pull request whose head is the working branch.
	PullRequest string

	Watch  bool
	Stream bool
	DryRun bool
}

// newGitHubClient is replaced in tests.
var newGitHubClient = github.NewClient

// Run solves target, an issue or pull request URL, in workDir.
// With Watch set it keeps polling the pull request for feedback afterwards.
func Run(ctx context.Context, workDir string, cfg *config.Config, target string, opts Options, stdout, stderr io.Writer) error {
	ref, err := github.ParseURL(target)
	if err != nil {
		return err
	}

	closer, err := logging.Init(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	w, err := newWiring(workDir, cfg, opts, stdout)
	if err != nil {
		return err
	}

	if opts.Branch != "" && !opts.DryRun {
		if err := w.git.EnsureBranch(ctx, opts.Branch); err != nil {
			return fmt.Errorf("failed to prepare branch %s: %w", opts.Branch, err)
		}
	}
	branch := opts.Branch
	if branch == "" {
		branch, _ = w.git.GetCurrentBranch(ctx)
	}

	start := loop.Start{
		Params: paramsFor(ref, workDir, branch),
		Title:  "resolve " + ref.String(),
	}

	if opts.DryRun {
		return dryRun(w, start, opts, stdout)
	}

	if err := state.EnsureSolveDir(workDir); err != nil {
		return fmt.Errorf("failed to create .solve directory: %w", err)
	}

	ctx, intr := handleSignals(ctx, stderr)
	defer intr.release()

	_, _ = fmt.Fprintf(stdout, "Solving %s with %s\n\n", ref, w.backend.Name())

	since := time.Now()
	res := w.controller.Run(ctx, start)
	w.report(res, start, stdout)

	if !res.Success {
		return cycleError(res)
	}
	if !opts.Watch && !cfg.Watch.Enabled {
		return nil
	}

	prRef, err := w.resolvePullRequest(ctx, ref, branch, opts.PullRequest)
	if err != nil {
		return err
	}
	start.Params.PullRequestURL = prRef.URL()
	start.Params.PullRequestNumber = prRef.Number

	client := newGitHubClient()
	source := github.NewFeedbackSource(client, ref, prRef, w.ignoredAuthors(ctx, client, cfg.GitHub))
	watcher := loop.NewWatcher(loop.WatchConfig{
		Interval:             cfg.Watch.Interval,
		MaxConsecutiveErrors: cfg.Watch.MaxConsecutiveErrors,
	}, source, reportingRunner{w: w, out: stdout}, nil, start).WithPauseCheck(func() bool {
		paused, err := state.IsPaused(workDir)
		return err == nil && paused
	})
	intr.onFirst(func() {
		_, _ = fmt.Fprintln(stderr, "\nStopping watch after the current cycle. Interrupt again to cancel.")
		watcher.Stop()
	})

	_, _ = fmt.Fprintf(stdout, "\nWatching %s for feedback (every %s)\n", prRef, cfg.Watch.Interval)
	wres := watcher.Run(ctx, since)
	_, _ = fmt.Fprintf(stdout, "\n%s", reporter.FormatWatchResult(wres))

	if wres.Outcome == loop.WatchPollErrors {
		return wres.Err
	}
	return nil
}

// Resume continues sessionID, or the last saved session when it is empty.
func Resume(ctx context.Context, workDir string, cfg *config.Config, sessionID string, opts Options, stdout, stderr io.Writer) error {
	saved, err := state.LoadSession(state.SessionFilePath(workDir))
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = saved.SessionID
	}
	if sessionID == "" {
		return errors.New("no session to resume: pass a session id")
	}

	closer, err := logging.Init(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	// A saved session belongs to the backend that created it.
	if opts.Provider == "" && saved.SessionID == sessionID {
		opts.Provider = saved.Backend
	}

	w, err := newWiring(workDir, cfg, opts, stdout)
	if err != nil {
		return err
	}

	start := loop.Start{
		Params:          prompt.Params{WorkDir: workDir},
		ResumeSessionID: sessionID,
	}
	if saved.SessionID == sessionID && saved.Target != "" {
		if ref, err := github.ParseURL(saved.Target); err == nil {
			start.Params = paramsFor(ref, workDir, "")
			start.Title = "resolve " + ref.String()
		}
	}

	if opts.DryRun {
		return dryRun(w, start, opts, stdout)
	}

	if err := state.EnsureSolveDir(workDir); err != nil {
		return fmt.Errorf("failed to create .solve directory: %w", err)
	}

	ctx, intr := handleSignals(ctx, stderr)
	defer intr.release()

	_, _ = fmt.Fprintf(stdout, "Resuming session %s with %s\n\n", sessionID, w.backend.Name())

	res := w.controller.Run(ctx, start)
	w.report(res, start, stdout)

	if !res.Success {
		return cycleError(res)
	}
	return nil
}

// wiring holds the collaborators built from config for one working copy.
type wiring struct {
	workDir    string
	backend    agent.Backend
	git        gitpkg.Manager
	prompts    *prompt.Builder
	controller *loop.Controller
	loopCfg    loop.Config
	log        *slog.Logger
}

func newWiring(workDir string, cfg *config.Config, opts Options, stdout io.Writer) (*wiring, error) {
	name, err := provider.Resolve(opts.Provider, cfg.Agent.Provider)
	if err != nil {
		return nil, err
	}

	backend, err := provider.New(name, provider.Options{
		Command:         cfg.Agent.Command,
		SkipPermissions: cfg.Agent.SkipPermissions,
	})
	if err != nil {
		return nil, err
	}

	loopCfg, err := controllerConfig(workDir, name, cfg, opts)
	if err != nil {
		return nil, err
	}

	sizes := prompt.SizeOptions{
		MaxFeedbackBytes: cfg.Prompt.MaxFeedbackBytes,
		MaxFilesBytes:    cfg.Prompt.MaxFilesBytes,
	}
	prompts := prompt.NewBuilder(&sizes)

	gitManager := gitpkg.NewShellManager(workDir).WithRemote(cfg.Git.Remote)

	var sink agent.LineSink
	if opts.Stream {
		sink = stream.NewProcessor(stdout, stream.Options{
			ShowTools:  IsTerminal(stdout),
			ShowStderr: true,
		})
	}

	controller := loop.NewController(loopCfg, loop.Deps{
		Backend: backend,
		Git:     gitManager,
		Prompts: prompts,
		Retrier: loop.NewRetrier(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, nil),
		Sink:    sink,
	})

	return &wiring{
		workDir:    workDir,
		backend:    backend,
		git:        gitManager,
		prompts:    prompts,
		controller: controller,
		loopCfg:    loopCfg,
		log:        logging.WithComponent("runner"),
	}, nil
}

func controllerConfig(workDir, backend string, cfg *config.Config, opts Options) (loop.Config, error) {
	policyName := cfg.Restart.UncommittedPolicy
	if opts.UncommittedPolicy != "" {
		policyName = opts.UncommittedPolicy
	}
	policy, err := loop.ParseUncommittedPolicy(policyName)
	if err != nil {
		return loop.Config{}, err
	}

	maxIterations := cfg.Restart.MaxIterations
	if opts.MaxIterations > 0 {
		maxIterations = opts.MaxIterations
	}

	model := cfg.Agent.Model
	if opts.Model != "" {
		model = opts.Model
	}

	return loop.Config{
		MaxIterations:       maxIterations,
		UncommittedPolicy:   policy,
		AutoContinueOnLimit: cfg.Restart.AutoContinueOnLimit || opts.AutoContinueOnLimit,
		ResetBuffer:         cfg.Restart.ResetBuffer,
		MaxResetWait:        cfg.Restart.MaxResetWait,
		Model:               model,
		ExtraArgs:           cfg.Agent.Args,
		Env:                 cfg.Agent.EnvMap(),
		LogsDir:             state.BackendLogsDirPath(workDir, backend),
		RecordsDir:          state.RecordsDirPath(workDir),
		Budget: loop.BudgetLimits{
			MaxDuration: cfg.Restart.MaxDuration,
			MaxCostUSD:  cfg.Restart.MaxCostUSD,
		},
	}, nil
}

func paramsFor(ref github.Ref, workDir, branch string) prompt.Params {
	p := prompt.Params{
		Owner:   ref.Owner,
		Repo:    ref.Repo,
		Branch:  branch,
		WorkDir: workDir,
	}
	if ref.Kind == github.KindPullRequest {
		p.PullRequestURL = ref.URL()
		p.PullRequestNumber = ref.Number
	} else {
		p.IssueURL = ref.URL()
		p.IssueNumber = ref.Number
	}
	return p
}

// resolvePullRequest finds the pull request to watch: the target itself,
// the --pr override, or the pull request whose head is branch.
func (w *wiring) resolvePullRequest(ctx context.Context, target github.Ref, branch, override string) (github.Ref, error) {
	if override != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(override, "#")); err == nil && n > 0 {
			return target.PullRequestRef(n), nil
		}
		ref, err := github.ParseURL(override)
		if err != nil {
			return github.Ref{}, err
		}
		if ref.Kind != github.KindPullRequest {
			return github.Ref{}, fmt.Errorf("not a pull request: %s", override)
		}
		return ref, nil
	}

	if target.Kind == github.KindPullRequest {
		return target, nil
	}

	if branch == "" {
		return github.Ref{}, errors.New("cannot find the pull request to watch: no working branch, pass --pr")
	}
	pr, err := newGitHubClient().PullRequestForBranch(ctx, target.Owner, target.Repo, branch)
	if err != nil {
		return github.Ref{}, fmt.Errorf("failed to look up pull request for %s: %w", branch, err)
	}
	if pr == nil {
		return github.Ref{}, fmt.Errorf("no pull request found for branch %s, pass --pr", branch)
	}
	return target.PullRequestRef(pr.Number), nil
}

// ignoredAuthors returns the configured logins plus, with IgnoreSelf, the
// login gh is authenticated as.
func (w *wiring) ignoredAuthors(ctx context.Context, client *github.Client, cfg config.GitHubConfig) []string {
	authors := slices.Clone(cfg.IgnoreAuthors)
	if !cfg.IgnoreSelf {
		return authors
	}

	login, err := client.CurrentUser(ctx)
	if err != nil {
		w.log.Warn("failed to look up the gh login, its comments count as feedback",
			slog.String("error", err.Error()),
		)
		return authors
	}
	if login != "" {
		authors = append(authors, login)
	}
	return authors
}

// report prints the cycle result and remembers the session for `solve resume`.
func (w *wiring) report(res *loop.CycleResult, start loop.Start, stdout io.Writer) {
	_, _ = fmt.Fprintf(stdout, "\n%s", reporter.FormatCycleResult(res))
	if reporter.NeedsResumeInstructions(res) {
		_, _ = fmt.Fprintf(stdout, "\n%s", reporter.FormatResumeInstructions(res.SessionID, w.workDir, w.backend))
	}

	if res.SessionID == "" {
		return
	}

	if state.DetectSessionFork(start.ResumeSessionID, res.SessionID) {
		logging.WithSession(res.SessionID).Warn("agent did not resume the session, it started a new one",
			slog.String("component", "runner"),
			slog.String("resumed_session_id", start.ResumeSessionID),
		)
	}

	saved := &state.SessionState{
		Backend:       w.backend.Name(),
		SessionID:     res.SessionID,
		Target:        start.Target(),
		Outcome:       string(res.Outcome),
		ResumeCommand: res.ResumeCommand,
		UpdatedAt:     time.Now(),
	}
	if err := state.SaveSession(state.SessionFilePath(w.workDir), saved); err != nil {
		w.log.Warn("failed to save session state", slog.String("error", err.Error()))
	}
}

// reportingRunner prints every feedback cycle the watch loop runs.
type reportingRunner struct {
	w   *wiring
	out io.Writer
}

func (r reportingRunner) Run(ctx context.Context, start loop.Start) *loop.CycleResult {
	_, _ = fmt.Fprintf(r.out, "\nNew feedback (%d comments), starting a cycle\n", len(start.Params.Feedback))
	res := r.w.controller.Run(ctx, start)
	r.w.report(res, start, r.out)
	return res
}

func dryRun(w *wiring, start loop.Start, opts Options, stdout io.Writer) error {
	p := start.Params
	_, _ = fmt.Fprintf(stdout, "[dry-run] Provider: %s\n", w.backend.Name())
	if start.ResumeSessionID != "" {
		_, _ = fmt.Fprintf(stdout, "[dry-run] Would resume session: %s\n", start.ResumeSessionID)
	}
	if target := start.Target(); target != "" {
		_, _ = fmt.Fprintf(stdout, "[dry-run] Target: %s\n", target)
	}
	if p.Branch != "" {
		_, _ = fmt.Fprintf(stdout, "[dry-run] Branch: %s\n", p.Branch)
	}
	if w.loopCfg.Model != "" {
		_, _ = fmt.Fprintf(stdout, "[dry-run] Model: %s\n", w.loopCfg.Model)
	}
	_, _ = fmt.Fprintf(stdout, "[dry-run] Max iterations: %d\n", w.loopCfg.MaxIterations)
	_, _ = fmt.Fprintf(stdout, "[dry-run] Uncommitted policy: %s\n", w.loopCfg.UncommittedPolicy)
	_, _ = fmt.Fprintf(stdout, "[dry-run] Auto-continue on limit: %t\n", w.loopCfg.AutoContinueOnLimit)
	if opts.Watch {
		_, _ = fmt.Fprintln(stdout, "[dry-run] Would watch the pull request for feedback")
	}

	if start.ResumeSessionID != "" {
		_, _ = fmt.Fprintf(stdout, "\n[dry-run] Prompt:\n%s\n", w.prompts.BuildResume())
		return nil
	}

	built, err := w.prompts.Build(p)
	if err != nil {
		return fmt.Errorf("failed to build prompts: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "\n[dry-run] System prompt:\n%s\n", built.SystemPrompt)
	_, _ = fmt.Fprintf(stdout, "\n[dry-run] Prompt:\n%s\n", built.UserPrompt)
	return nil
}

func cycleError(res *loop.CycleResult) error {
	if res == nil {
		return ErrCycleFailed
	}
	if res.Err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCycleFailed, res.Outcome, res.Err)
	}
	return fmt.Errorf("%w: %s", ErrCycleFailed, res.Outcome)
}

// interrupts turns SIGINT/SIGTERM into cancellation. The first signal runs
// the registered handler if there is one; any other signal cancels ctx.
type interrupts struct {
	mu      sync.Mutex
	first   func()
	fired   bool
	cancel  context.CancelFunc
	signals chan os.Signal
}

func handleSignals(ctx context.Context, stderr io.Writer) (context.Context, *interrupts) {
	ctx, cancel := context.WithCancel(ctx)
	in := &interrupts{cancel: cancel, signals: make(chan os.Signal, 2)}
	signal.Notify(in.signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-in.signals:
				if h := in.take(); h != nil {
					h()
					continue
				}
				_, _ = fmt.Fprintln(stderr, "\nReceived interrupt signal, cancelling...")
				cancel()
				return
			}
		}
	}()

	return ctx, in
}

// onFirst registers the handler of the first signal.
func (in *interrupts) onFirst(h func()) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.first = h
}

func (in *interrupts) take() func() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.fired || in.first == nil {
		return nil
	}
	in.fired = true
	return in.first
}

func (in *interrupts) release() {
	signal.Stop(in.signals)
	in.cancel()
}

// IsTerminal reports whether v is a file attached to a terminal.
func IsTerminal(v any) bool {
	if f, ok := v.(interface{ Fd() uintptr }); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
