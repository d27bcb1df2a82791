package git

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// DefaultRemote is the remote Push targets unless configured otherwise.
const DefaultRemote = "origin"

// ShellManager implements the Manager interface by shelling out to git.
type ShellManager struct {
	workDir string
	remote  string
}

// NewShellManager creates a ShellManager for the repository at workDir.
func NewShellManager(workDir string) *ShellManager {
	return &ShellManager{
		workDir: workDir,
		remote:  DefaultRemote,
	}
}

// WithRemote sets the remote used by Push.
func (m *ShellManager) WithRemote(remote string) *ShellManager {
	if remote != "" {
		m.remote = remote
	}
	return m
}

// runGit executes a git command and returns its trimmed stdout.
func (m *ShellManager) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		stderrStr := stderr.String()
		stderrLower := strings.ToLower(stderrStr)
		command := "git " + strings.Join(args, " ")

		if strings.Contains(stderrLower, "not a git repository") {
			return "", &GitError{Command: command, Output: stderrStr, Err: ErrNotAGitRepo}
		}

		if strings.Contains(stderrLower, "ambiguous argument 'head'") ||
			strings.Contains(stderrLower, "unknown revision") {
			return "", &GitError{Command: command, Output: stderrStr, Err: ErrNoCommits}
		}

		return "", &GitError{Command: command, Output: stderrStr, Err: err}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// GetCurrentBranch returns the name of the current branch.
func (m *ShellManager) GetCurrentBranch(ctx context.Context) (string, error) {
	return m.runGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// GetCurrentCommit returns the current HEAD commit hash.
func (m *ShellManager) GetCurrentCommit(ctx context.Context) (string, error) {
	return m.runGit(ctx, "rev-parse", "HEAD")
}

// HasChanges returns true if there are uncommitted changes in the working tree.
// This includes staged changes, unstaged changes, and untracked files.
func (m *ShellManager) HasChanges(ctx context.Context) (bool, error) {
	output, err := m.runGit(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return output != "", nil
}

// GetChangedFiles returns a list of files with uncommitted changes.
// This includes staged, unstaged, and untracked files.
func (m *ShellManager) GetChangedFiles(ctx context.Context) ([]string, error) {
	output, err := m.runGit(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	if output == "" {
		return nil, nil
	}

	var files []string
	for _, line := range strings.Split(output, "\n") {
		if len(line) <= 3 {
			continue
		}
		// Format is "XY filename"; runGit may have trimmed the leading space
		file := strings.TrimSpace(line[2:])
		// Renamed files are reported as "old -> new"
		if idx := strings.Index(file, " -> "); idx != -1 {
			file = file[idx+4:]
		}
		files = append(files, file)
	}

	return files, nil
}

// Commit creates a commit with the given message and returns the commit hash.
// It stages all changes before committing.
func (m *ShellManager) Commit(ctx context.Context, message string) (string, error) {
	hasChanges, err := m.HasChanges(ctx)
	if err != nil {
		return "", err
	}
	if !hasChanges {
		return "", &GitError{
			Command: "git commit",
			Output:  "nothing to commit, working tree clean",
			Err:     ErrNoChanges,
		}
	}

	if _, err := m.runGit(ctx, "add", "-A"); err != nil {
		return "", err
	}

	if _, err := m.runGit(ctx, "commit", "-m", message); err != nil {
		return "", &GitError{
			Command: "git commit",
			Output:  err.Error(),
			Err:     ErrCommitFailed,
		}
	}

	return m.GetCurrentCommit(ctx)
}

// Push pushes HEAD to the configured remote and sets the upstream.
func (m *ShellManager) Push(ctx context.Context) error {
	if _, err := m.runGit(ctx, "push", "--set-upstream", m.remote, "HEAD"); err != nil {
		return &GitError{
			Command: "git push " + m.remote,
			Output:  err.Error(),
			Err:     ErrPushFailed,
		}
	}
	return nil
}

// EnsureBranch ensures a branch exists and switches to it.
// Handles empty repos (no commits) gracefully.
func (m *ShellManager) EnsureBranch(ctx context.Context, branchName string) error {
	currentBranch, err := m.GetCurrentBranch(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoCommits) {
			return err
		}
		// symbolic-ref works in empty repos
		currentBranch, err = m.runGit(ctx, "symbolic-ref", "--short", "HEAD")
		if err != nil {
			return err
		}
		if currentBranch == branchName {
			return nil
		}
		_, err = m.runGit(ctx, "checkout", "-b", branchName)
		return err
	}
	if currentBranch == branchName {
		return nil
	}

	if _, err := m.runGit(ctx, "rev-parse", "--verify", branchName); err == nil {
		_, err = m.runGit(ctx, "checkout", branchName)
		return err
	}

	_, err = m.runGit(ctx, "checkout", "-b", branchName)
	return err
}
