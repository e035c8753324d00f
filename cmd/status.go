package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/contact-harvester/internal/report"
)

// newStatusCmd creates the 'status' subcommand, a read-only view of the checkpoint.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the current checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runID, summary, err := appInstance.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run:        %s\n", runID)
			fmt.Fprintf(out, "checkpoint: %s\n\n", appInstance.CheckpointPath())
			return report.Write(out, summary)
		},
	}
}
