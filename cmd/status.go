package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yarlson/go-solve/internal/reporter"
)

func newStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current status",
		Long:  "Display the last agent session, the watch pause flag, and recent cycles.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent cycles to show (0 shows all)")

	return cmd
}

func runStatus(cmd *cobra.Command, limit int) error {
	workDir, err := getWorkDir()
	if err != nil {
		return err
	}

	status, err := reporter.LoadStatus(workDir, limit)
	if err != nil {
		return err
	}

	return reporter.WriteStatus(cmd.OutOrStdout(), status)
}
