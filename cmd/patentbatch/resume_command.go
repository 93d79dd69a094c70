package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"patentbatch/internal/metrics"
	"patentbatch/internal/workflow"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue the saved session",
		Long: `Restore the saved session and continue its outstanding work. Async
sessions poll their open requests; batch sessions re-attach to the
recorded batch job. Nothing is submitted again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			collectors := metrics.New()
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			progress := newProgressReporter(cmd.ErrOrStderr(), logger, 0)
			ws, err := ctx.openWorkspace(true, workflow.WithMetrics(collectors), workflow.WithProgress(progress.Update))
			if err != nil {
				return err
			}
			defer ws.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mode, err := ws.manager.Resume(runCtx)
			if err != nil {
				return err
			}
			summary := ws.manager.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "Resuming %s session %s (%d of %d finished)\n",
				mode, summary.RunID, summary.Stats.Finished(), summary.Inputs)
			return driveRun(cmd, ws, collectors, progress, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outputPath, "output", "o", "", "Report path (defaults to a timestamped file in paths.report_dir)")
	flags.StringVarP(&opts.format, "format", "f", "", "Report format: xlsx, csv, or json")
	flags.BoolVar(&opts.noExport, "no-export", false, "Skip writing the report")
	flags.StringVar(&opts.metricsBind, "metrics-listen", "", "Serve /metrics and /status on this address (overrides metrics.listen)")
	return cmd
}
