package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Ref
		wantErr bool
	}{
		{
			name:  "issue",
			input: "https://github.com/acme/widgets/issues/42",
			want:  Ref{Owner: "acme", Repo: "widgets", Number: 42, Kind: KindIssue},
		},
		{
			name:  "pull request with trailing path",
			input: "https://github.com/acme/widgets/pull/7/files",
			want:  Ref{Owner: "acme", Repo: "widgets", Number: 7, Kind: KindPullRequest},
		},
		{
			name:  "www host and whitespace",
			input: "  https://www.github.com/acme/go.tools/issues/1 ",
			want:  Ref{Owner: "acme", Repo: "go.tools", Number: 1, Kind: KindIssue},
		},
		{
			name:  "shorthand",
			input: "acme/widgets#12",
			want:  Ref{Owner: "acme", Repo: "widgets", Number: 12, Kind: KindIssue},
		},
		{name: "other host", input: "https://gitlab.com/acme/widgets/issues/1", wantErr: true},
		{name: "repository only", input: "https://github.com/acme/widgets", wantErr: true},
		{name: "discussions", input: "https://github.com/acme/widgets/discussions/3", wantErr: true},
		{name: "bad number", input: "https://github.com/acme/widgets/issues/abc", wantErr: true},
		{name: "zero", input: "https://github.com/acme/widgets/issues/0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRef_Formatting(t *testing.T) {
	issue := Ref{Owner: "acme", Repo: "widgets", Number: 42, Kind: KindIssue}

	assert.Equal(t, "acme/widgets", issue.FullName())
	assert.Equal(t, "acme/widgets#42", issue.String())
	assert.Equal(t, "https://github.com/acme/widgets/issues/42", issue.URL())

	pr := issue.PullRequestRef(7)
	assert.Equal(t, KindPullRequest, pr.Kind)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", pr.URL())
}
