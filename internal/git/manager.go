// Package git inspects and updates the working copy the agent edits.
package git

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common Git failures.
var (
	// ErrNotAGitRepo indicates the directory is not a git repository.
	ErrNotAGitRepo = errors.New("not a git repository")

	// ErrNoCommits indicates the repository has no commits yet.
	ErrNoCommits = errors.New("repository has no commits")

	// ErrNoChanges indicates there are no changes to commit.
	ErrNoChanges = errors.New("no changes to commit")

	// ErrCommitFailed indicates the commit operation failed.
	ErrCommitFailed = errors.New("commit failed")

	// ErrPushFailed indicates the push was rejected or could not reach the remote.
	ErrPushFailed = errors.New("push failed")
)

// GitError represents a Git command error with additional context.
type GitError struct {
	// Command is the git command that failed.
	Command string
	// Output is the stderr/stdout output from the command.
	Output string
	// Err is the underlying error (typically a sentinel error).
	Err error
}

// Error returns a formatted error message.
func (e *GitError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git command %q failed: %s", e.Command, e.Output)
	}
	return fmt.Sprintf("git command %q failed", e.Command)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *GitError) Unwrap() error {
	return e.Err
}

// Manager is what a solve run needs from the working copy: branch
// preparation before the first session and the uncommitted-changes check
// between sessions.
type Manager interface {
	// EnsureBranch switches to branchName, creating it if needed.
	EnsureBranch(ctx context.Context, branchName string) error

	// GetCurrentBranch returns the name of the current branch.
	GetCurrentBranch(ctx context.Context) (string, error)

	// GetChangedFiles returns staged, unstaged and untracked files.
	GetChangedFiles(ctx context.Context) ([]string, error)

	// Commit stages all changes, commits them and returns the commit hash.
	// Returns ErrNoChanges if there are no changes to commit.
	Commit(ctx context.Context, message string) (string, error)

	// Push pushes the current branch to the configured remote.
	Push(ctx context.Context) error
}
