// Package reporter renders cycle results and status for the operator.
package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/yarlson/go-solve/internal/loop"
)

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// Resumer renders the manual resume command of a session.
// agent.Backend implements it.
type Resumer interface {
	ResumeCommand(sessionID string) string
}

// OutcomeColor colors an outcome name by severity.
func OutcomeColor(outcome string) string {
	switch outcome {
	case string(loop.OutcomeSucceeded), string(loop.WatchMerged):
		return green(outcome)
	case string(loop.OutcomeRateLimited), string(loop.OutcomeRestartLimit),
		string(loop.WatchPaused), string(loop.WatchStopped), string(loop.WatchClosed):
		return yellow(outcome)
	case string(loop.OutcomeCancelled):
		return cyan(outcome)
	default:
		return red(outcome)
	}
}

// NeedsResumeInstructions reports whether res must be followed by resume
// instructions, which is any unsuccessful cycle that has a session id.
func NeedsResumeInstructions(res *loop.CycleResult) bool {
	if res == nil || res.SessionID == "" || res.Success {
		return false
	}
	return true
}

// FormatCycleResult formats a finished cycle for CLI display.
func FormatCycleResult(res *loop.CycleResult) string {
	var sb strings.Builder

	sb.WriteString(bold("## Result") + "\n\n")
	_, _ = fmt.Fprintf(&sb, "Outcome: %s\n", OutcomeColor(string(res.Outcome)))
	_, _ = fmt.Fprintf(&sb, "Iterations: %d\n", res.Iterations)
	if res.SessionID != "" {
		_, _ = fmt.Fprintf(&sb, "Session: %s\n", res.SessionID)
	}
	if len(res.Retries) > 0 {
		_, _ = fmt.Fprintf(&sb, "Overload retries: %d\n", len(res.Retries))
	}
	if res.UncommittedChangesDetected {
		sb.WriteString("Uncommitted changes: detected\n")
	}
	if res.CommitHash != "" {
		_, _ = fmt.Fprintf(&sb, "Commit: %s\n", res.CommitHash)
	}
	if res.TotalCostUSD > 0 {
		_, _ = fmt.Fprintf(&sb, "Cost: $%.2f\n", res.TotalCostUSD)
	}
	if d := cycleDuration(res); d > 0 {
		_, _ = fmt.Fprintf(&sb, "Duration: %s\n", d.Round(time.Second))
	}
	if res.Reason != "" {
		_, _ = fmt.Fprintf(&sb, "Reason: %s\n", res.Reason)
	}
	if last := res.LastSession(); last != nil && last.RawLogPath != "" {
		_, _ = fmt.Fprintf(&sb, "Log: %s\n", last.RawLogPath)
	}

	return sb.String()
}

func cycleDuration(res *loop.CycleResult) time.Duration {
	var total time.Duration
	for _, s := range res.Sessions {
		total += s.Duration()
	}
	return total
}

// FormatResumeInstructions tells the operator how to continue a session by
// hand. The session id is always printed verbatim.
func FormatResumeInstructions(sessionID, workDir string, backend Resumer) string {
	var sb strings.Builder

	sb.WriteString(bold("## Resume") + "\n\n")
	_, _ = fmt.Fprintf(&sb, "Session ID: %s\n\n", sessionID)
	sb.WriteString("Continue with solve:\n")
	_, _ = fmt.Fprintf(&sb, "  solve resume %s\n\n", sessionID)
	sb.WriteString("Or directly with the agent:\n")
	if workDir != "" {
		_, _ = fmt.Fprintf(&sb, "  (cd %s && %s)\n", shellQuote(workDir), backend.ResumeCommand(sessionID))
	} else {
		_, _ = fmt.Fprintf(&sb, "  %s\n", backend.ResumeCommand(sessionID))
	}

	return sb.String()
}

// FormatWatchResult formats the end of watch mode.
func FormatWatchResult(res *loop.WatchResult) string {
	var sb strings.Builder

	sb.WriteString(bold("## Watch") + "\n\n")
	_, _ = fmt.Fprintf(&sb, "Outcome: %s\n", OutcomeColor(string(res.Outcome)))
	_, _ = fmt.Fprintf(&sb, "Feedback cycles: %d\n", res.Cycles)
	if res.FailedCycles > 0 {
		_, _ = fmt.Fprintf(&sb, "Failed cycles: %d\n", res.FailedCycles)
	}
	if !res.Watermark.IsZero() {
		_, _ = fmt.Fprintf(&sb, "Last feedback handled: %s\n", res.Watermark.Format(time.RFC3339))
	}
	if res.Err != nil {
		_, _ = fmt.Fprintf(&sb, "Error: %v\n", res.Err)
	}

	return sb.String()
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
