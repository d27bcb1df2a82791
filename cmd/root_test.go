package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/go-solve/internal/logging"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	logging.Suppress()
	os.Exit(m.Run())
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("help shows all subcommands", func(t *testing.T) {
		out, err := execute(t, "--help")
		require.NoError(t, err)

		for _, sub := range []string{"resume", "status", "logs", "pause", "config"} {
			assert.Contains(t, out, sub, "expected help to mention %s", sub)
		}
		assert.Contains(t, out, "<issue-or-pr-url>")
	})

	t.Run("requires a target", func(t *testing.T) {
		_, err := execute(t)
		require.Error(t, err)
	})

	t.Run("rejects a non-GitHub target", func(t *testing.T) {
		_, err := execute(t, "--workdir", t.TempDir(), "https://example.com/acme/widgets/issues/1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a github url")
	})
}

func TestRootCommand_Flags(t *testing.T) {
	cmd := NewRootCmd()

	tests := []struct {
		name      string
		shorthand string
		defValue  string
		local     bool
	}{
		{name: "config", defValue: ""},
		{name: "workdir", shorthand: "C", defValue: ""},
		{name: "provider", defValue: ""},
		{name: "model", shorthand: "m", defValue: ""},
		{name: "max-iterations", shorthand: "n", defValue: "0"},
		{name: "uncommitted-policy", defValue: ""},
		{name: "auto-continue-limit", defValue: "false"},
		{name: "stream", defValue: "false"},
		{name: "dry-run", defValue: "false"},
		{name: "branch", shorthand: "b", defValue: "", local: true},
		{name: "pr", defValue: "", local: true},
		{name: "watch", shorthand: "w", defValue: "false", local: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := cmd.PersistentFlags()
			if tt.local {
				flags = cmd.Flags()
			}
			flag := flags.Lookup(tt.name)
			require.NotNil(t, flag, "expected --%s flag to exist", tt.name)
			assert.Equal(t, tt.defValue, flag.DefValue)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
		})
	}
}

func TestRootCommand_DryRun(t *testing.T) {
	workDir := t.TempDir()

	out, err := execute(t, "--workdir", workDir, "--dry-run", "-n", "2", "--uncommitted-policy", "commit",
		"https://github.com/acme/widgets/issues/42")
	require.NoError(t, err)

	assert.Contains(t, out, "[dry-run] Provider: claude")
	assert.Contains(t, out, "[dry-run] Target: https://github.com/acme/widgets/issues/42")
	assert.Contains(t, out, "[dry-run] Max iterations: 2")
	assert.Contains(t, out, "[dry-run] Uncommitted policy: commit")
	assert.Contains(t, out, "Issue to solve: https://github.com/acme/widgets/issues/42")
	assert.NoDirExists(t, filepath.Join(workDir, ".solve"))
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	workDir := t.TempDir()
	cfgPath := filepath.Join(workDir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("agent: [unclosed"), 0644))

	_, err := execute(t, "--workdir", workDir, "--config", cfgPath, "https://github.com/acme/widgets/issues/42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestGetWorkDir(t *testing.T) {
	t.Cleanup(func() { rootWorkDir = "" })

	rootWorkDir = "relative/dir"
	dir, err := getWorkDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.Equal(t, "dir", filepath.Base(dir))

	rootWorkDir = ""
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir, err = getWorkDir()
	require.NoError(t, err)
	assert.Equal(t, wd, dir)
}
