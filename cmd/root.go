package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yarlson/go-solve/internal/config"
	"github.com/yarlson/go-solve/internal/runner"
)

var (
	cfgFile     string
	rootWorkDir string
)

// GetConfigFile returns the config file path from the flag.
func GetConfigFile() string {
	return cfgFile
}

// Root command flags
var (
	rootProvider          string
	rootModel             string
	rootMaxIterations     int
	rootUncommittedPolicy string
	rootAutoContinue      bool
	rootBranch            string
	rootPullRequest       string
	rootWatch             bool
	rootStream            bool
	rootDryRun            bool
)

// NewRootCmd creates the root command for the solve CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "solve <issue-or-pr-url>",
		Short: "Solve GitHub issues autonomously with a coding agent",
		Long: `solve drives a coding agent CLI (Claude Code or OpenCode) against a prepared
working copy until a GitHub issue is resolved.

It retries overloaded sessions with backoff, restarts sessions that leave
uncommitted work behind, waits out usage limits when allowed, and in watch
mode keeps addressing new review comments until the pull request is merged.`,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE:         runRoot,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: solve.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVarP(&rootWorkDir, "workdir", "C", "", "working copy to operate in (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&rootProvider, "provider", "", "agent provider (claude or opencode)")
	rootCmd.PersistentFlags().StringVarP(&rootModel, "model", "m", "", "model passed to the agent")
	rootCmd.PersistentFlags().IntVarP(&rootMaxIterations, "max-iterations", "n", 0, "maximum agent executions per cycle (0 uses config)")
	rootCmd.PersistentFlags().StringVar(&rootUncommittedPolicy, "uncommitted-policy", "", "what to do with uncommitted changes: restart, commit or ignore")
	rootCmd.PersistentFlags().BoolVar(&rootAutoContinue, "auto-continue-limit", false, "wait for a usage limit to reset and continue")
	rootCmd.PersistentFlags().BoolVar(&rootStream, "stream", false, "stream agent output to console")
	rootCmd.PersistentFlags().BoolVar(&rootDryRun, "dry-run", false, "show what would be done")
	rootCmd.Flags().StringVarP(&rootBranch, "branch", "b", "", "check out or create this branch before solving")
	rootCmd.Flags().StringVar(&rootPullRequest, "pr", "", "pull request to watch, as a URL or number")
	rootCmd.Flags().BoolVarP(&rootWatch, "watch", "w", false, "keep addressing pull request feedback until merged or closed")

	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newPauseCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	workDir, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	opts := runOptions()
	opts.Branch = rootBranch
	opts.PullRequest = rootPullRequest
	opts.Watch = rootWatch

	return runner.Run(cmd.Context(), workDir, cfg, args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// runOptions collects the flags shared by solving and resuming.
func runOptions() runner.Options {
	return runner.Options{
		Provider:            rootProvider,
		Model:               rootModel,
		MaxIterations:       rootMaxIterations,
		UncommittedPolicy:   rootUncommittedPolicy,
		AutoContinueOnLimit: rootAutoContinue,
		Stream:              rootStream,
		DryRun:              rootDryRun,
	}
}

// getWorkDir returns the --workdir flag as an absolute path, or the current directory.
func getWorkDir() (string, error) {
	if rootWorkDir != "" {
		abs, err := filepath.Abs(rootWorkDir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		return abs, nil
	}
	workDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return workDir, nil
}

func loadWorkspace() (string, *config.Config, error) {
	workDir, err := getWorkDir()
	if err != nil {
		return "", nil, err
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}

	return workDir, cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
