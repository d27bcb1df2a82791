package github

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Comment is one issue comment, review, or review comment.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	URL       string    `json:"url"`
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Branch string `json:"headRefName"`
	URL    string `json:"url"`
}

// Pull request states as reported by gh.
const (
	StateOpen   = "OPEN"
	StateMerged = "MERGED"
	StateClosed = "CLOSED"
)

// Exec runs gh with args and returns trimmed stdout.
type Exec func(ctx context.Context, args ...string) (string, error)

// Client wraps the gh CLI.
type Client struct {
	exec Exec
}

// NewClient returns a Client that shells out to gh.
func NewClient() *Client {
	return &Client{exec: ghCmd}
}

// NewClientWithExec returns a Client that runs gh through e.
func NewClientWithExec(e Exec) *Client {
	return &Client{exec: e}
}

func ghCmd(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

const commentJQ = `.[] | {author: .user.login, body: .body, createdAt: .created_at, url: .html_url}`

const reviewJQ = `.[] | select(.body != "") | {author: .user.login, body: .body, createdAt: .submitted_at, url: .html_url}`

// IssueComments returns the conversation comments on an issue or pull request.
func (c *Client) IssueComments(ctx context.Context, ref Ref) ([]Comment, error) {
	return c.comments(ctx, fmt.Sprintf("repos/%s/issues/%d/comments", ref.FullName(), ref.Number), commentJQ)
}

// ReviewComments returns inline review comments and non-empty review bodies
// on a pull request.
func (c *Client) ReviewComments(ctx context.Context, ref Ref) ([]Comment, error) {
	inline, err := c.comments(ctx, fmt.Sprintf("repos/%s/pulls/%d/comments", ref.FullName(), ref.Number), commentJQ)
	if err != nil {
		return nil, err
	}
	reviews, err := c.comments(ctx, fmt.Sprintf("repos/%s/pulls/%d/reviews", ref.FullName(), ref.Number), reviewJQ)
	if err != nil {
		return nil, err
	}
	return append(inline, reviews...), nil
}

func (c *Client) comments(ctx context.Context, endpoint, jq string) ([]Comment, error) {
	out, err := c.exec(ctx, "api", endpoint, "--paginate", "--jq", jq)
	if err != nil {
		return nil, err
	}

	var comments []Comment
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cm Comment
		if err := json.Unmarshal([]byte(line), &cm); err != nil {
			return nil, fmt.Errorf("parse comment: %w", err)
		}
		comments = append(comments, cm)
	}
	return comments, scanner.Err()
}

// CurrentUser returns the login gh is authenticated as.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	login, err := c.exec(ctx, "api", "user", "--jq", ".login")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(login), nil
}

// PullRequest returns the pull request ref points to.
func (c *Client) PullRequest(ctx context.Context, ref Ref) (*PullRequest, error) {
	out, err := c.exec(ctx, "pr", "view", strconv.Itoa(ref.Number),
		"--repo", ref.FullName(),
		"--json", "number,title,state,headRefName,url",
	)
	if err != nil {
		return nil, err
	}

	var pr PullRequest
	if err := json.Unmarshal([]byte(out), &pr); err != nil {
		return nil, fmt.Errorf("parse PR: %w", err)
	}
	return &pr, nil
}

// PullRequestForBranch returns the most recent pull request whose head is
// branch, or nil when there is none.
func (c *Client) PullRequestForBranch(ctx context.Context, owner, repo, branch string) (*PullRequest, error) {
	out, err := c.exec(ctx, "pr", "list",
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--head", branch,
		"--state", "all",
		"--json", "number,title,state,headRefName,url",
	)
	if err != nil {
		return nil, err
	}

	var prs []PullRequest
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PRs: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}
