package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"patentbatch/internal/inputs"
	"patentbatch/internal/metrics"
	"patentbatch/internal/services"
	"patentbatch/internal/task"
	"patentbatch/internal/taskstore"
	"patentbatch/internal/workflow"
)

type runOptions struct {
	inputsPath   string
	templatePath string
	mode         string
	idColumn     string
	textColumn   string
	sheet        string
	outputPath   string
	format       string
	noExport     bool
	discard      bool
	metricsBind  string
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process an input file with a prompt template",
		Long: `Load inputs and a template, pick async or batch mode, and wait for every
input to finish. Interrupting the run leaves a saved session that
'patentbatch resume' continues.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			preference, ok := task.ParseMode(opts.mode)
			if !ok {
				return services.Wrap(services.ErrValidation, "cli", "run", fmt.Sprintf("unknown mode %q (want auto, async, or batch)", opts.mode), nil)
			}
			loaded, err := inputs.LoadFile(opts.inputsPath, inputs.Options{
				IDColumn:   opts.idColumn,
				TextColumn: opts.textColumn,
				Sheet:      opts.sheet,
			})
			if err != nil {
				return err
			}
			tpl, err := inputs.LoadTemplate(opts.templatePath)
			if err != nil {
				return err
			}
			if err := inputs.ValidateTemplate(tpl); err != nil {
				return err
			}

			collectors := metrics.New()
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			progress := newProgressReporter(cmd.ErrOrStderr(), logger, len(loaded))
			ws, err := ctx.openWorkspace(true, workflow.WithMetrics(collectors), workflow.WithProgress(progress.Update))
			if err != nil {
				return err
			}
			defer ws.Close()

			if !opts.discard {
				if err := refuseOutstanding(cmd.Context(), ws.store); err != nil {
					return err
				}
			}
			if err := ws.manager.Load(loaded, tpl); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rec := ws.manager.Router().Recommend(len(loaded))
			fmt.Fprintf(out, "Loaded %d inputs from %s\n", len(loaded), opts.inputsPath)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mode, err := ws.manager.Start(runCtx, preference)
			if err != nil {
				return err
			}
			if preference.IsExplicit() {
				fmt.Fprintf(out, "Mode: %s (requested)\n", mode)
			} else {
				fmt.Fprintf(out, "Mode: %s (%s)\n", mode, rec.Reason)
			}
			return driveRun(cmd, ws, collectors, progress, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.inputsPath, "inputs", "i", "", "Input file (csv, json, jsonl, or xlsx)")
	flags.StringVarP(&opts.templatePath, "template", "t", "", "Prompt template file (toml or json)")
	flags.StringVarP(&opts.mode, "mode", "m", "auto", "Execution mode: auto, async, or batch")
	flags.StringVar(&opts.idColumn, "id-column", "", "Column holding the input id (default \"id\")")
	flags.StringVar(&opts.textColumn, "text-column", "", "Column holding the input text; other columns are ignored")
	flags.StringVar(&opts.sheet, "sheet", "", "Worksheet to read from xlsx inputs (default first sheet)")
	flags.StringVarP(&opts.outputPath, "output", "o", "", "Report path (defaults to a timestamped file in paths.report_dir)")
	flags.StringVarP(&opts.format, "format", "f", "", "Report format: xlsx, csv, or json")
	flags.BoolVar(&opts.noExport, "no-export", false, "Skip writing the report")
	flags.BoolVar(&opts.discard, "discard", false, "Start over even if the saved session has outstanding work")
	flags.StringVar(&opts.metricsBind, "metrics-listen", "", "Serve /metrics and /status on this address (overrides metrics.listen)")
	_ = cmd.MarkFlagRequired("inputs")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

// refuseOutstanding stops a new run from overwriting a session that still
// has remote work in flight.
func refuseOutstanding(ctx context.Context, store taskstore.SnapshotStore) error {
	snap, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, taskstore.ErrNoSnapshot) {
			return nil
		}
		return err
	}
	if !snap.Resumable() {
		return nil
	}
	return services.Wrap(services.ErrValidation, "cli", "run",
		fmt.Sprintf("saved %s session %s has outstanding work; run 'patentbatch resume' or pass --discard", snap.Mode, snap.RunID), nil)
}

// driveRun waits for the started run, then prints the summary and exports
// the report. A cancelled run reports how to resume.
func driveRun(cmd *cobra.Command, ws *workspace, collectors *metrics.Collectors, progress *progressReporter, opts runOptions) error {
	bind := opts.metricsBind
	if strings.TrimSpace(bind) == "" {
		bind = ws.cfg.Metrics.Listen
	}
	server, err := startMetricsServer(bind, collectors, ws.manager, ws.logger)
	if err != nil {
		return err
	}
	defer server.stop()

	runErr := ws.manager.Wait(context.Background())
	progress.Finish()

	out := cmd.OutOrStdout()
	summary := ws.manager.Status()
	printSummary(out, summary)

	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(out, "Run interrupted; continue with 'patentbatch resume'")
		return runErr
	}
	if !opts.noExport {
		path, err := exportReport(ws.cfg, ws.manager, opts.outputPath, opts.format)
		if err != nil {
			return errors.Join(runErr, err)
		}
		fmt.Fprintf(out, "Report: %s\n", path)
	}
	return runErr
}

func printSummary(out io.Writer, s workflow.StatusSummary) {
	fmt.Fprintf(out, "Finished %d of %d: %d completed, %d failed\n",
		s.Stats.Finished(), s.Stats.Total, s.Stats.Completed, s.Stats.Failed)
	if s.Batch.BatchID != "" {
		fmt.Fprintf(out, "Batch %s: %s\n", s.Batch.BatchID, s.Batch.Status)
	}
}
