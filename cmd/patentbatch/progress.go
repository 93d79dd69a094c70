package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"patentbatch/internal/logging"
	"patentbatch/internal/output"
)

// progressReporter renders run progress as a bar on terminals and as sampled
// log lines everywhere else.
type progressReporter struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	max     int
	sampler *logging.ProgressSampler
	logger  *slog.Logger
	last    output.Stats
}

func newProgressReporter(w io.Writer, logger *slog.Logger, total int) *progressReporter {
	p := &progressReporter{logger: logger, max: total}
	if !isTerminal(w) {
		p.sampler = logging.NewProgressSampler(10)
		return p
	}
	if total <= 0 {
		total = -1
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("processing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return p
}

// Update is registered with the workflow manager.
func (p *progressReporter) Update(stats output.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = stats

	if p.bar != nil {
		if stats.Total > p.max {
			p.max = stats.Total
			p.bar.ChangeMax(stats.Total)
		}
		p.bar.Describe(fmt.Sprintf("processing (%d failed)", stats.Failed))
		_ = p.bar.Set(stats.Finished())
		return
	}
	total := max(stats.Total, p.max)
	if !p.sampler.ShouldLog("run", stats.Finished(), total) {
		return
	}
	if p.logger != nil {
		p.logger.Info("progress",
			logging.Int("completed", stats.Completed),
			logging.Int("failed", stats.Failed),
			logging.Int("processing", stats.Processing+stats.Pending),
			logging.Int("total", total),
			logging.String(logging.FieldEventType, "run_progress"),
		)
	}
}

// Finish clears the bar.
func (p *progressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
