package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yarlson/go-solve/internal/runner"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume an agent session",
		Long: `Continue an agent session where it stopped, for example after a usage limit.

Without a session id the last session recorded in .solve/state/session.json is resumed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, args)
		},
	}
}

func runResume(cmd *cobra.Command, args []string) error {
	workDir, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	var sessionID string
	if len(args) > 0 {
		sessionID = args[0]
	}

	return runner.Resume(cmd.Context(), workDir, cfg, sessionID, runOptions(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}
