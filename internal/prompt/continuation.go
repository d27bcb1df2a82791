package prompt

import (
	"fmt"
	"strings"
)

// BuildReconcile builds the minimal prompt sent when a successful session
// left uncommitted changes behind.
func (b *Builder) BuildReconcile(files []string) string {
	var sb strings.Builder

	sb.WriteString("Your previous session finished, but the working directory still has uncommitted changes.\n")

	if len(files) > 0 {
		var list strings.Builder
		for _, f := range files {
			_, _ = fmt.Fprintf(&list, "- %s\n", f)
		}
		sb.WriteString("\nUncommitted files:\n")
		sb.WriteString(strings.TrimSuffix(truncateWithMarker(list.String(), b.opts.MaxFilesBytes), "\n"))
		sb.WriteString("\n")
	}

	sb.WriteString("\nReview these changes. Commit and push the ones that belong to the fix, ")
	sb.WriteString("revert or remove the rest, and leave the working directory clean.")

	return sb.String()
}

// BuildResume builds the prompt for resuming a session after a rate-limit
// reset. The resumed session already holds the full context.
func (b *Builder) BuildResume() string {
	return "Continue."
}
