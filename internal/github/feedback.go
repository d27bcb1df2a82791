package github

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yarlson/go-solve/internal/loop"
)

// FeedbackSource reports new comments and the merge state of one pull request.
type FeedbackSource struct {
	client *Client
	issue  Ref
	pr     Ref
	ignore map[string]bool
}

// NewFeedbackSource watches pr and, when issue points elsewhere, the issue it solves.
// Comments by ignoreAuthors (case-insensitive) are dropped.
func NewFeedbackSource(client *Client, issue, pr Ref, ignoreAuthors []string) *FeedbackSource {
	ignore := make(map[string]bool, len(ignoreAuthors))
	for _, a := range ignoreAuthors {
		if a = strings.TrimSpace(a); a != "" {
			ignore[strings.ToLower(a)] = true
		}
	}
	return &FeedbackSource{client: client, issue: issue, pr: pr, ignore: ignore}
}

// Feedback returns comments created after since, oldest first.
func (s *FeedbackSource) Feedback(ctx context.Context, since time.Time) ([]loop.Feedback, error) {
	var all []Comment

	if s.issue.Number > 0 && s.issue != s.pr {
		comments, err := s.client.IssueComments(ctx, s.issue)
		if err != nil {
			return nil, fmt.Errorf("issue comments: %w", err)
		}
		all = append(all, comments...)
	}

	comments, err := s.client.IssueComments(ctx, s.pr)
	if err != nil {
		return nil, fmt.Errorf("pull request comments: %w", err)
	}
	all = append(all, comments...)

	reviews, err := s.client.ReviewComments(ctx, s.pr)
	if err != nil {
		return nil, fmt.Errorf("review comments: %w", err)
	}
	all = append(all, reviews...)

	var feedback []loop.Feedback
	for _, c := range all {
		if !c.CreatedAt.After(since) || s.ignore[strings.ToLower(c.Author)] {
			continue
		}
		feedback = append(feedback, loop.Feedback{
			Author:    c.Author,
			Body:      strings.TrimSpace(c.Body),
			CreatedAt: c.CreatedAt,
			URL:       c.URL,
		})
	}

	sort.SliceStable(feedback, func(i, j int) bool {
		return feedback[i].CreatedAt.Before(feedback[j].CreatedAt)
	})
	return feedback, nil
}

// PullRequestState maps the gh state of the watched pull request.
func (s *FeedbackSource) PullRequestState(ctx context.Context) (loop.PRState, error) {
	pr, err := s.client.PullRequest(ctx, s.pr)
	if err != nil {
		return "", err
	}

	switch strings.ToUpper(pr.State) {
	case StateMerged:
		return loop.PRMerged, nil
	case StateClosed:
		return loop.PRClosed, nil
	case StateOpen:
		return loop.PROpen, nil
	default:
		return "", fmt.Errorf("unknown pull request state %q", pr.State)
	}
}
