package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write checkpointed results to the configured export formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.Export(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d results\n", n)
			return nil
		},
	}
}
