// Package github reads issue and pull request state through the gh CLI.
package github

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Kind distinguishes issues from pull requests.
type Kind string

const (
	KindIssue       Kind = "issue"
	KindPullRequest Kind = "pull"
)

// Ref identifies an issue or pull request.
type Ref struct {
	Owner  string
	Repo   string
	Number int
	Kind   Kind
}

var shorthandPattern = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)#(\d+)$`)

// ParseURL parses https://github.com/<owner>/<repo>/(issues|pull)/<n>.
// The shorthand owner/repo#n is accepted and treated as an issue.
func ParseURL(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if m := shorthandPattern.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[3])
		return Ref{Owner: m[1], Repo: m[2], Number: n, Kind: KindIssue}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return Ref{}, fmt.Errorf("not a github url: %s", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 {
		return Ref{}, fmt.Errorf("url must point to an issue or pull request: %s", raw)
	}

	var kind Kind
	switch parts[2] {
	case "issues":
		kind = KindIssue
	case "pull", "pulls":
		kind = KindPullRequest
	default:
		return Ref{}, fmt.Errorf("url must point to an issue or pull request: %s", raw)
	}

	n, err := strconv.Atoi(parts[3])
	if err != nil || n <= 0 {
		return Ref{}, fmt.Errorf("invalid number in url: %s", raw)
	}

	return Ref{Owner: parts[0], Repo: parts[1], Number: n, Kind: kind}, nil
}

// FullName returns owner/repo.
func (r Ref) FullName() string {
	return r.Owner + "/" + r.Repo
}

// URL returns the canonical web URL.
func (r Ref) URL() string {
	segment := "issues"
	if r.Kind == KindPullRequest {
		segment = "pull"
	}
	return fmt.Sprintf("https://github.com/%s/%s/%s/%d", r.Owner, r.Repo, segment, r.Number)
}

// String returns owner/repo#number.
func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.FullName(), r.Number)
}

// PullRequestRef returns a ref to pull request number in the same repository.
func (r Ref) PullRequestRef(number int) Ref {
	return Ref{Owner: r.Owner, Repo: r.Repo, Number: number, Kind: KindPullRequest}
}
