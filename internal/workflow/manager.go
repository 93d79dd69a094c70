package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"patentbatch/internal/asyncengine"
	"patentbatch/internal/batchengine"
	"patentbatch/internal/config"
	"patentbatch/internal/logging"
	"patentbatch/internal/metrics"
	"patentbatch/internal/output"
	"patentbatch/internal/router"
	"patentbatch/internal/services/completion"
	"patentbatch/internal/task"
	"patentbatch/internal/taskstore"
)

// Client covers both execution substrates.
type Client interface {
	asyncengine.Client
	batchengine.Client
}

// Manager coordinates the single active session.
type Manager struct {
	cfg     *config.Config
	store   taskstore.SnapshotStore
	logger  *slog.Logger
	client  Client
	metrics *metrics.Collectors
	router  router.Settings

	session *taskstore.Session
	results *output.Handler

	onProgress func(output.Stats)

	saveMu sync.Mutex

	mu         sync.RWMutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastErr    error
	startedAt  time.Time
	finishedAt time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithClient overrides the remote client (used in tests).
func WithClient(client Client) ManagerOption {
	return func(m *Manager) { m.client = client }
}

// WithMetrics records engine activity on collectors.
func WithMetrics(collectors *metrics.Collectors) ManagerOption {
	return func(m *Manager) { m.metrics = collectors }
}

// WithProgress registers a callback invoked with fresh stats as results arrive.
func WithProgress(fn func(output.Stats)) ManagerOption {
	return func(m *Manager) { m.onProgress = fn }
}

// NewManager constructs a manager backed by store. The remote client is
// built from cfg unless WithClient is supplied.
func NewManager(cfg *config.Config, store taskstore.SnapshotStore, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:     cfg,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "workflow"),
		router:  router.SettingsFromConfig(cfg),
		session: taskstore.NewSession(),
		results: output.NewHandler(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = completion.NewClient(completion.ConfigFromApp(cfg))
	}
	return m
}

// Session exposes the active session for read access.
func (m *Manager) Session() *taskstore.Session {
	return m.session
}

// Router returns the mode-selection settings in effect.
func (m *Manager) Router() router.Settings {
	return m.router
}

func (m *Manager) asyncEngine() *asyncengine.Engine {
	return asyncengine.New(m.client, m.session, m.results, asyncengine.Options{
		Concurrency:  m.cfg.Async.Concurrency,
		PollInterval: m.cfg.AsyncPollInterval(),
		MaxRetries:   m.cfg.Async.MaxRetries,
		Logger:       m.logger,
		Metrics:      m.metrics,
		Checkpoint:   m.checkpoint,
		OnProgress:   m.onProgress,
	})
}

func (m *Manager) batchEngine() *batchengine.Engine {
	return batchengine.New(m.client, m.session, m.results, batchengine.Options{
		PollInterval:     m.cfg.BatchPollInterval(),
		CompletionWindow: m.cfg.Batch.CompletionWindow,
		Endpoint:         m.cfg.Batch.Endpoint,
		Metadata:         map[string]string{"run_id": m.session.RunID()},
		Logger:           m.logger,
		Metrics:          m.metrics,
		Checkpoint:       m.checkpoint,
		OnProgress:       m.onProgress,
	})
}

// currentMode is the mode recorded on the session, used for snapshots.
func (m *Manager) currentMode() task.Mode {
	return m.session.Mode()
}
