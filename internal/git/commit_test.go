package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferCommitType(t *testing.T) {
	tests := []struct {
		title string
		want  CommitType
	}{
		{"Fix crash when config is missing", CommitTypeFix},
		{"Login fails with error 500", CommitTypeFix},
		{"Add support for YAML output", CommitTypeFeat},
		{"Implement retry backoff", CommitTypeFeat},
		{"Update dependencies", CommitTypeChore},
		{"Address review comments", CommitTypeChore},
		{"", CommitTypeChore},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, InferCommitType(tt.title))
		})
	}
}

func TestFormatCommitMessage(t *testing.T) {
	assert.Equal(t,
		"fix: Fix login redirect\n\nSession: sess-1",
		FormatCommitMessage("Fix login redirect", "sess-1"))

	assert.Equal(t,
		"feat: Add dark mode",
		FormatCommitMessage("Add dark mode", ""))

	assert.Equal(t,
		"chore: commit remaining changes from agent session",
		FormatCommitMessage("  ", ""))
}

func TestGitError(t *testing.T) {
	err := &GitError{Command: "git push", Output: "rejected", Err: ErrPushFailed}

	assert.Equal(t, `git command "git push" failed: rejected`, err.Error())
	assert.ErrorIs(t, err, ErrPushFailed)
	assert.Equal(t, `git command "git push" failed`, (&GitError{Command: "git push"}).Error())
}
