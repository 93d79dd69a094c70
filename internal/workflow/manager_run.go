package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"patentbatch/internal/logging"
	"patentbatch/internal/services"
	"patentbatch/internal/task"
	"patentbatch/internal/taskstore"
)

// ErrRunning is returned when an operation needs the manager idle.
var ErrRunning = errors.New("a run is already in progress")

// Load replaces the session inputs and template and clears collected results.
func (m *Manager) Load(inputs []task.Input, tpl task.Template) error {
	if m.isRunning() {
		return ErrRunning
	}
	if err := m.session.Load(inputs, tpl); err != nil {
		return err
	}
	m.results.Clear()
	return nil
}

// Start begins a new run over the loaded inputs. The mode comes from the
// router: an explicit preference wins, auto picks by input count.
func (m *Manager) Start(ctx context.Context, preference task.Mode) (task.Mode, error) {
	inputs := m.session.Inputs()
	if len(inputs) == 0 {
		return "", services.Wrap(services.ErrValidation, "workflow", "start", "no inputs loaded", nil)
	}
	mode := m.router.DetermineMode(len(inputs), preference)

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return "", ErrRunning
	}
	m.session.Reset()
	m.results.Clear()
	runID := uuid.NewString()
	m.session.Begin(runID, mode)
	runCtx := m.begin(ctx, runID, mode)
	m.mu.Unlock()

	logging.WithContext(runCtx, m.logger).Info("run started",
		logging.Int("inputs", len(inputs)),
		logging.String("preference", string(preference)),
	)
	m.saveOrWarn(runCtx)

	go m.execute(runCtx, func(ctx context.Context) error {
		if mode == task.ModeBatch {
			return m.batchEngine().Run(ctx)
		}
		return m.asyncEngine().Run(ctx)
	})
	return mode, nil
}

// Resume restores the saved session and continues its outstanding work in
// the background. Async runs poll their open requests; batch runs re-attach
// to the recorded batch id.
func (m *Manager) Resume(ctx context.Context) (task.Mode, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return "", ErrRunning
	}
	m.mu.Unlock()

	snap, err := m.restore(ctx)
	if err != nil {
		return "", err
	}
	if !snap.Resumable() {
		return snap.Mode, services.Wrap(services.ErrValidation, "workflow", "resume", "saved session has no outstanding work", nil)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return "", ErrRunning
	}
	runCtx := m.begin(ctx, snap.RunID, snap.Mode)
	m.mu.Unlock()

	logging.WithContext(runCtx, m.logger).Info("run resumed",
		logging.Int("inputs", len(snap.Inputs)),
		logging.String(logging.FieldBatchID, snap.BatchTask.BatchID),
	)

	mode := snap.Mode
	go m.execute(runCtx, func(ctx context.Context) error {
		if mode == task.ModeBatch {
			return m.batchEngine().Recover(ctx)
		}
		return m.asyncEngine().Resume(ctx)
	})
	return mode, nil
}

// Restore loads the saved session without running it, for status and export.
func (m *Manager) Restore(ctx context.Context) (taskstore.Snapshot, error) {
	if m.isRunning() {
		return taskstore.Snapshot{}, ErrRunning
	}
	return m.restore(ctx)
}

func (m *Manager) restore(ctx context.Context) (taskstore.Snapshot, error) {
	snap, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, taskstore.ErrNoSnapshot) {
			return taskstore.Snapshot{}, services.Wrap(services.ErrNotFound, "workflow", "restore", "no saved session", err)
		}
		return taskstore.Snapshot{}, err
	}
	if err := m.session.Restore(snap); err != nil {
		return taskstore.Snapshot{}, err
	}
	m.results.Restore(snap.Results)
	return snap, nil
}

// begin marks the manager running and returns the run context. Callers hold m.mu.
func (m *Manager) begin(ctx context.Context, runID string, mode task.Mode) context.Context {
	ctx = services.WithRunID(ctx, runID)
	ctx = services.WithMode(ctx, string(mode))
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.done = make(chan struct{})
	m.lastErr = nil
	m.startedAt = time.Now().UTC()
	m.finishedAt = time.Time{}
	return runCtx
}

func (m *Manager) execute(ctx context.Context, run func(context.Context) error) {
	logger := logging.WithContext(ctx, m.logger)
	err := run(ctx)
	m.saveOrWarn(ctx)

	stats := m.results.Stats()
	switch {
	case err == nil:
		logger.Info("run finished",
			logging.Int("total", stats.Total),
			logging.Int("completed", stats.Completed),
			logging.Int("failed", stats.Failed),
		)
	case errors.Is(err, context.Canceled):
		logger.Info("run stopped", logging.Int("completed", stats.Completed), logging.Int("outstanding", stats.Total-stats.Finished()))
	default:
		logging.ErrorWithContext(logger, "run failed", "run_failed",
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Error(err),
		)
	}

	m.mu.Lock()
	m.running = false
	m.lastErr = err
	m.finishedAt = time.Now().UTC()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	done := m.done
	m.mu.Unlock()
	close(done)
}

// Wait blocks until the current run ends and returns its error. It returns
// immediately when nothing is running.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Stop cancels the current run and waits for it to checkpoint.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
}

// Reset stops any run, clears the session run state and results, and deletes
// the saved snapshot.
func (m *Manager) Reset(ctx context.Context) error {
	m.Stop()
	m.session.Reset()
	m.results.Clear()
	if err := m.store.Clear(ctx); err != nil {
		return services.Wrap(services.ErrTransient, "workflow", "reset", "clear saved session", err)
	}
	m.logger.Info("session reset")
	return nil
}

func (m *Manager) isRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
