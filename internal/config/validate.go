package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAsync(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateRouter(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	return c.validateLogging()
}

// RequireAPIKey reports a configuration error when no API key is available.
// Commands that never talk to the remote service skip this check.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.Remote.APIKey) != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return fmt.Errorf("remote.api_key is required. Set PATENTBATCH_API_KEY env var or edit %s (create with 'patentbatch config init')", defaultPath)
}

func (c *Config) validateAsync() error {
	if err := ensurePositiveMap(map[string]int{
		"async.concurrency":      c.Async.Concurrency,
		"async.poll_interval":    c.Async.PollInterval,
		"async.max_retries":      c.Async.MaxRetries,
		"remote.timeout_seconds": c.Remote.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Remote.RetryAttempts < 0 {
		return errors.New("remote.retry_attempts must be zero or positive")
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.PollInterval <= 0 {
		return errors.New("batch.poll_interval must be positive")
	}
	if c.Batch.PollInterval < c.Async.PollInterval {
		return errors.New("batch.poll_interval must not be shorter than async.poll_interval")
	}
	return nil
}

func (c *Config) validateRouter() error {
	if c.Router.Threshold <= 0 {
		return errors.New("router.threshold must be positive")
	}
	if c.Router.PerItemSeconds < 0 {
		return errors.New("router.per_item_seconds must not be negative")
	}
	if c.Router.BatchMinimumSeconds < 0 {
		return errors.New("router.batch_minimum_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateSession() error {
	switch c.Session.Backend {
	case "sqlite":
		return nil
	case "redis":
		if c.Session.RedisAddr == "" {
			return errors.New("session.redis_addr must be set when session.backend is redis")
		}
		return nil
	default:
		return fmt.Errorf("session.backend: unsupported value %q (use sqlite or redis)", c.Session.Backend)
	}
}

func (c *Config) validateOutput() error {
	if c.Output.CellLimit <= 0 {
		return errors.New("output.cell_limit must be positive")
	}
	switch c.Output.Format {
	case "xlsx", "csv", "json":
		return nil
	default:
		return fmt.Errorf("output.format: unsupported value %q (use xlsx, csv, or json)", c.Output.Format)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
