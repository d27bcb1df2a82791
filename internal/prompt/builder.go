// Package prompt renders the system and user prompts handed to the agent.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Params are the positional facts of one solving session.
type Params struct {
	// IssueURL is the issue being solved.
	IssueURL string

	// IssueNumber is the issue number, if known.
	IssueNumber int

	// PullRequestURL is the draft pull request prepared for the fix.
	PullRequestURL string

	// PullRequestNumber is the pull request number, if known.
	PullRequestNumber int

	// Owner and Repo identify the upstream repository.
	Owner string
	Repo  string

	// Branch is the prepared working branch.
	Branch string

	// WorkDir is the prepared repository checkout.
	WorkDir string

	// Feedback are new reviewer or issue comments, in order.
	Feedback []string

	// Continue marks a continuation of work already in progress.
	Continue bool
}

// Validate checks that the required parameters are present.
func (p Params) Validate() error {
	if p.IssueURL == "" && p.PullRequestURL == "" {
		return errors.New("issue URL or pull request URL is required")
	}
	if p.WorkDir == "" {
		return errors.New("working directory is required")
	}
	return nil
}

// SizeOptions configures the maximum sizes for various prompt components.
type SizeOptions struct {
	// MaxFeedbackBytes is the maximum size of the feedback block.
	MaxFeedbackBytes int

	// MaxFilesBytes is the maximum size of the file list in reconcile prompts.
	MaxFilesBytes int
}

// DefaultSizeOptions returns sensible default size options.
func DefaultSizeOptions() SizeOptions {
	return SizeOptions{
		MaxFeedbackBytes: 16000,
		MaxFilesBytes:    2000,
	}
}

// Validate checks that all size options are non-negative.
func (o SizeOptions) Validate() error {
	if o.MaxFeedbackBytes < 0 {
		return errors.New("max feedback bytes cannot be negative")
	}
	if o.MaxFilesBytes < 0 {
		return errors.New("max files bytes cannot be negative")
	}
	return nil
}

// BuildResult contains the built prompts ready for agent invocation.
type BuildResult struct {
	// SystemPrompt is the operating procedure.
	SystemPrompt string

	// UserPrompt is the task description with positional facts.
	UserPrompt string
}

// Builder builds agent prompts. Output depends only on its inputs.
type Builder struct {
	opts SizeOptions
}

// NewBuilder creates a new prompt builder with the given options.
// If opts is nil, default options are used.
func NewBuilder(opts *SizeOptions) *Builder {
	if opts == nil {
		defaultOpts := DefaultSizeOptions()
		opts = &defaultOpts
	}
	return &Builder{opts: *opts}
}

// BuildSystemPrompt renders the operating procedure for p.
func (b *Builder) BuildSystemPrompt(p Params) string {
	var sb strings.Builder

	sb.WriteString("You are an AI issue solver working in a prepared repository checkout.\n\n")

	sb.WriteString("## Context\n")
	if p.Owner != "" && p.Repo != "" {
		_, _ = fmt.Fprintf(&sb, "- Repository: %s/%s\n", p.Owner, p.Repo)
	}
	if p.IssueURL != "" {
		_, _ = fmt.Fprintf(&sb, "- Issue: %s\n", p.IssueURL)
	}
	if p.PullRequestURL != "" {
		_, _ = fmt.Fprintf(&sb, "- Pull request: %s\n", p.PullRequestURL)
	}
	if p.Branch != "" {
		_, _ = fmt.Fprintf(&sb, "- Branch: %s\n", p.Branch)
	}
	_, _ = fmt.Fprintf(&sb, "- Working directory: %s\n\n", p.WorkDir)

	sb.WriteString("## Procedure\n")
	sb.WriteString("1. Read the issue and every comment on it and on the pull request.\n")
	sb.WriteString("2. Study the codebase and follow its existing conventions.\n")
	sb.WriteString("3. Reproduce the problem with a test before fixing it when possible.\n")
	sb.WriteString("4. Make the smallest change that fully resolves the issue.\n")
	sb.WriteString("5. Run the project's tests, linters and build locally. Fix every failure.\n")
	if p.Branch != "" {
		_, _ = fmt.Fprintf(&sb, "6. Commit with clear messages and push to %s.\n", p.Branch)
	} else {
		sb.WriteString("6. Commit with clear messages and push your branch.\n")
	}
	if p.PullRequestNumber > 0 {
		_, _ = fmt.Fprintf(&sb, "7. Update the description of pull request #%d to explain the change", p.PullRequestNumber)
	} else {
		sb.WriteString("7. Update the pull request description to explain the change")
	}
	if p.IssueNumber > 0 {
		_, _ = fmt.Fprintf(&sb, " and reference issue #%d", p.IssueNumber)
	}
	sb.WriteString(".\n\n")

	sb.WriteString("## Rules\n")
	sb.WriteString("- Never leave uncommitted changes in the working directory when you finish.\n")
	sb.WriteString("- Keep all work inside the working directory.\n")
	sb.WriteString("- Do not merge the pull request.\n")

	return sb.String()
}

// BuildUserPrompt renders the task prompt for p.
// Feedback lines are inserted verbatim before the final directive.
func (b *Builder) BuildUserPrompt(p Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder

	if p.IssueURL != "" {
		_, _ = fmt.Fprintf(&sb, "Issue to solve: %s\n", p.IssueURL)
	}
	if p.PullRequestURL != "" {
		_, _ = fmt.Fprintf(&sb, "Your prepared pull request: %s\n", p.PullRequestURL)
	}
	if p.Branch != "" {
		_, _ = fmt.Fprintf(&sb, "Your prepared branch: %s\n", p.Branch)
	}
	_, _ = fmt.Fprintf(&sb, "Your prepared working directory: %s\n", p.WorkDir)
	sb.WriteString("\n")

	if len(p.Feedback) > 0 {
		sb.WriteString("New comments since your last session:\n")
		block := truncateWithMarker(strings.Join(p.Feedback, "\n"), b.opts.MaxFeedbackBytes)
		sb.WriteString(block)
		sb.WriteString("\n\n")
	}

	if p.Continue {
		sb.WriteString("Continue working on the pull request and address all feedback.")
	} else {
		sb.WriteString("Proceed.")
	}

	return sb.String(), nil
}

// Build builds both system and user prompts from the given parameters.
func (b *Builder) Build(p Params) (*BuildResult, error) {
	userPrompt, err := b.BuildUserPrompt(p)
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		SystemPrompt: b.BuildSystemPrompt(p),
		UserPrompt:   userPrompt,
	}, nil
}

// truncateWithMarker truncates a string to at most maxBytes, backing off to a
// rune boundary, and adds a marker if truncated.
// If maxBytes is 0, no truncation is performed.
func truncateWithMarker(s string, maxBytes int) string {
	if maxBytes == 0 || len(s) <= maxBytes {
		return s
	}

	marker := "... [truncated]"
	truncateAt := max(maxBytes, 0)
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + marker
}
