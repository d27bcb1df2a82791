package git

import (
	"fmt"
	"strings"
)

// CommitType represents the type prefix for conventional commits.
type CommitType string

// Supported conventional commit types.
const (
	// CommitTypeFeat indicates a new feature.
	CommitTypeFeat CommitType = "feat"

	// CommitTypeFix indicates a bug fix.
	CommitTypeFix CommitType = "fix"

	// CommitTypeChore indicates maintenance or other changes.
	CommitTypeChore CommitType = "chore"
)

// featKeywords are keywords that indicate a feat commit type.
var featKeywords = []string{"add", "implement", "create", "new", "support"}

// fixKeywords are keywords that indicate a fix commit type.
var fixKeywords = []string{"fix", "bug", "repair", "resolve", "correct", "crash", "error"}

// InferCommitType picks a commit type from an issue title.
// Titles naming a defect win over titles asking for something new.
func InferCommitType(title string) CommitType {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return r == ' ' || r == ':' || r == ',' || r == '.' || r == '(' || r == ')'
	})

	has := func(keywords []string) bool {
		for _, w := range words {
			for _, k := range keywords {
				if w == k || strings.HasPrefix(w, k) && len(w) <= len(k)+2 {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has(fixKeywords):
		return CommitTypeFix
	case has(featKeywords):
		return CommitTypeFeat
	default:
		return CommitTypeChore
	}
}

// FormatCommitMessage creates the message used when uncommitted agent work
// is committed automatically.
// Format: "<type>: <subject>\n\nSession: <sessionID>". Without a subject a
// generic one is used; without a session id the body is omitted.
func FormatCommitMessage(subject, sessionID string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "commit remaining changes from agent session"
	}
	msg := fmt.Sprintf("%s: %s", InferCommitType(subject), subject)

	if sessionID == "" {
		return msg
	}
	return fmt.Sprintf("%s\n\nSession: %s", msg, sessionID)
}
