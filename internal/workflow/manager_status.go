package workflow

import (
	"time"

	"patentbatch/internal/output"
	"patentbatch/internal/task"
)

// StatusSummary is a point-in-time view of the session.
type StatusSummary struct {
	Running    bool
	RunID      string
	Mode       task.Mode
	Inputs     int
	Stats      output.Stats
	Batch      task.BatchTask
	LastError  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Status returns the latest session information.
func (m *Manager) Status() StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:    m.running,
		StartedAt:  m.startedAt,
		FinishedAt: m.finishedAt,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	summary.RunID = m.session.RunID()
	summary.Mode = m.session.Mode()
	summary.Inputs = len(m.session.Inputs())
	summary.Stats = m.results.Stats()
	summary.Batch = m.session.Batch()
	summary.Batch.JSONLContent = ""
	summary.Batch.ResultContent = ""
	return summary
}

// Results returns copies of the collected results.
func (m *Manager) Results() []task.Result {
	return m.results.Results()
}

// Report builds the exportable table over the loaded inputs.
func (m *Manager) Report() output.Report {
	return output.BuildReport(m.session.Inputs(), m.results.Results(), m.cfg.Output.CellLimit)
}

// Export writes the report to path. An empty format is inferred from the
// extension, falling back to the configured format.
func (m *Manager) Export(path, format string) error {
	if format == "" {
		if _, ok := output.FormatFromPath(path); !ok {
			format = m.cfg.Output.Format
		}
	}
	return output.Export(path, format, m.Report())
}
