package workflow

import (
	"context"

	"patentbatch/internal/logging"
	"patentbatch/internal/taskstore"
)

// checkpoint saves the session and results. It runs on a context detached
// from cancellation so the final save after Stop still lands.
func (m *Manager) checkpoint(ctx context.Context) error {
	if !m.currentMode().IsExplicit() {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	snap := m.snapshot()
	if err := m.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		return err
	}
	logging.WithContext(ctx, m.logger).Debug("session checkpointed",
		logging.Int("requests", len(snap.AsyncTask.Requests)),
		logging.Int("results", len(snap.Results)),
	)
	return nil
}

func (m *Manager) snapshot() taskstore.Snapshot {
	snap := m.session.Snapshot()
	snap.Results = m.results.Results()
	return snap
}

func (m *Manager) saveOrWarn(ctx context.Context) {
	if err := m.checkpoint(ctx); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "session checkpoint failed",
			"session_checkpoint_failed",
			logging.String(logging.FieldErrorHint, "check the session store"),
			logging.String(logging.FieldImpact, "resume may repeat work"),
			logging.Error(err),
		)
	}
}
