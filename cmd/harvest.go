package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/orchestrator"
	"github.com/JakeFAU/contact-harvester/internal/report"
)

// newHarvestCmd creates the 'harvest' subcommand, which starts or resumes a run.
func newHarvestCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Run or resume a harvest",
		Long: `Harvests every entity that has no result in the checkpoint yet. When no
checkpoint exists, the entity list is read from --source (or source.path).
SIGINT and SIGTERM stop dispatching new work, save the checkpoint and export
what has been collected so far.`,
		RunE: runHarvestCommand,
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "entity list file (json, csv, yaml or xlsx)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "harvest at most this many entities from a fresh source")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := appInstance.Run(ctx)
	switch {
	case orchestrator.IsInterrupted(err):
		logger.Warn("harvest interrupted; run again to resume",
			zap.String("checkpoint", appInstance.CheckpointPath()),
			zap.Int("pending", summary.Pending()),
		)
	case err != nil:
		return fmt.Errorf("run harvest: %w", err)
	}

	report.Log(logger, summary)
	if err := report.Write(cmd.OutOrStdout(), summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
