package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/go-solve/internal/state"
)

func newPauseCmd() *cobra.Command {
	var unpause bool

	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause watch mode",
		Long:  "Set a pause flag so a running watch loop exits before its next poll. Use --clear to remove it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPause(cmd, unpause)
		},
	}

	cmd.Flags().BoolVar(&unpause, "clear", false, "remove the pause flag")

	return cmd
}

func runPause(cmd *cobra.Command, unpause bool) error {
	workDir, err := getWorkDir()
	if err != nil {
		return err
	}

	paused, err := state.IsPaused(workDir)
	if err != nil {
		return err
	}

	if unpause {
		if !paused {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Watch mode is not paused\n")
			return nil
		}
		if err := state.SetPaused(workDir, false); err != nil {
			return fmt.Errorf("failed to clear pause: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pause flag cleared.\n")
		return nil
	}

	if paused {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Watch mode is already paused\n")
		return nil
	}

	if err := state.SetPaused(workDir, true); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Watch mode paused. It stops before the next poll. Use 'solve pause --clear' to undo.\n")
	return nil
}
