package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"patentbatch/internal/config"
	"patentbatch/internal/output"
	"patentbatch/internal/workflow"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	var format string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export results of the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.openWorkspace(false)
			if err != nil {
				return err
			}
			defer ws.Close()

			if _, err := ws.manager.Restore(cmd.Context()); err != nil {
				return err
			}
			path, err := exportReport(ws.cfg, ws.manager, outputPath, format)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d results to %s\n", len(ws.manager.Results()), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report path (defaults to a timestamped file in paths.report_dir)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Report format: xlsx, csv, or json")
	return cmd
}

// exportReport writes the manager's report and returns the path written.
// Without an explicit path the report lands in paths.report_dir.
func exportReport(cfg *config.Config, mgr *workflow.Manager, path, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	path = strings.TrimSpace(path)
	if path == "" {
		if format == "" {
			format = cfg.Output.Format
		}
		path = filepath.Join(cfg.Paths.ReportDir, output.DefaultFilename(format, time.Now()))
	} else {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return "", fmt.Errorf("resolve output path: %w", err)
		}
		path = expanded
	}
	if err := mgr.Export(path, format); err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}
	return path, nil
}
