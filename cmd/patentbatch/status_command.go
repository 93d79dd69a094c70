package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"patentbatch/internal/output"
	"patentbatch/internal/services"
	"patentbatch/internal/task"
	"patentbatch/internal/workflow"
)

// statusView is the JSON shape of a session status.
type statusView struct {
	Running     bool             `json:"running"`
	RunID       string           `json:"run_id,omitempty"`
	Mode        task.Mode        `json:"mode,omitempty"`
	Inputs      int              `json:"inputs"`
	Stats       output.Stats     `json:"stats"`
	BatchID     string           `json:"batch_id,omitempty"`
	BatchStatus task.BatchStatus `json:"batch_status,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}

func newStatusView(s workflow.StatusSummary) statusView {
	view := statusView{
		Running:     s.Running,
		RunID:       s.RunID,
		Mode:        s.Mode,
		Inputs:      s.Inputs,
		Stats:       s.Stats,
		BatchID:     s.Batch.BatchID,
		BatchStatus: s.Batch.Status,
		LastError:   s.LastError,
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt
		view.StartedAt = &started
	}
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		view.FinishedAt = &finished
	}
	return view
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var showResults bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.openWorkspace(false)
			if err != nil {
				return err
			}
			defer ws.Close()

			snap, err := ws.manager.Restore(cmd.Context())
			if err != nil {
				if errors.Is(err, services.ErrNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "No saved session")
					return nil
				}
				return err
			}
			summary := ws.manager.Status()

			if jsonOutput {
				return writeJSON(cmd, struct {
					statusView
					Resumable bool          `json:"resumable"`
					SavedAt   time.Time     `json:"saved_at"`
					Results   []task.Result `json:"results,omitempty"`
				}{
					statusView: newStatusView(summary),
					Resumable:  snap.Resumable(),
					SavedAt:    snap.Timestamp,
					Results:    resultsIf(showResults, ws.manager.Results()),
				})
			}

			out := cmd.OutOrStdout()
			fields := [][2]string{
				{"Run", fallback(summary.RunID, "-")},
				{"Mode", fallback(string(summary.Mode), "-")},
				{"Inputs", strconv.Itoa(summary.Inputs)},
				{"Completed", strconv.Itoa(summary.Stats.Completed)},
				{"Failed", strconv.Itoa(summary.Stats.Failed)},
				{"Outstanding", strconv.Itoa(summary.Inputs - summary.Stats.Finished())},
				{"Resumable", yesNo(snap.Resumable())},
			}
			if summary.Mode == task.ModeBatch {
				fields = append(fields,
					[2]string{"Batch", fallback(summary.Batch.BatchID, "-")},
					[2]string{"Batch status", fallback(string(summary.Batch.Status), "-")},
				)
			}
			if !snap.Timestamp.IsZero() {
				fields = append(fields, [2]string{"Saved", snap.Timestamp.Local().Format(time.DateTime)})
			}
			fmt.Fprintln(out, renderFields(fields))

			if showResults {
				renderResults(out, ws.manager.Results())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	cmd.Flags().BoolVar(&showResults, "results", false, "List per-input results")
	return cmd
}

func renderResults(out io.Writer, results []task.Result) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No results")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			fallback(r.InputID, r.Key),
			string(r.Status),
			strconv.Itoa(r.Usage.TotalTokens),
			truncate(r.Error, 240),
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		{header: "Input"},
		{header: "Status"},
		{header: "Tokens", align: alignRight},
		{header: "Error", maxWidth: 60},
	}, rows))
}
