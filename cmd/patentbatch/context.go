package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"patentbatch/internal/config"
	"patentbatch/internal/logging"
	"patentbatch/internal/taskstore"
	"patentbatch/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the run logger and prunes expired log files once.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.loggerErr = fmt.Errorf("init logger: %w", err)
			return
		}
		logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "*.log", cfg.LogFilePath())
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

// workspace bundles what a command needs to drive the session.
type workspace struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   taskstore.SnapshotStore
	lock    *taskstore.Lock
	manager *workflow.Manager
}

// openWorkspace opens the snapshot store and builds a manager over it. When
// exclusive is set the session lock is held until Close.
func (c *commandContext) openWorkspace(exclusive bool, opts ...workflow.ManagerOption) (*workspace, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}

	ws := &workspace{cfg: cfg, logger: logger}
	if exclusive {
		lock, err := taskstore.AcquireLock(cfg.SessionLockPath())
		if err != nil {
			return nil, err
		}
		ws.lock = lock
	}
	store, err := taskstore.Open(cfg)
	if err != nil {
		_ = ws.lock.Release()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	ws.store = store
	ws.manager = workflow.NewManager(cfg, store, logger, opts...)
	return ws, nil
}

func (w *workspace) Close() error {
	if w == nil {
		return nil
	}
	var errs []error
	if w.manager != nil {
		w.manager.Stop()
	}
	if w.store != nil {
		errs = append(errs, w.store.Close())
	}
	errs = append(errs, w.lock.Release())
	return errors.Join(errs...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
