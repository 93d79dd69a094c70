package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	ReportDir string `toml:"report_dir"`
}

// Remote contains connection settings for the completion service. Endpoint
// paths are joined onto BaseURL; an {id} segment is replaced with the task,
// batch, or file id.
type Remote struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	SubmitPath     string `toml:"submit_path"`
	RetrievePath   string `toml:"retrieve_path"`
	UploadPath     string `toml:"upload_path"`
	CreatePath     string `toml:"create_batch_path"`
	StatusPath     string `toml:"check_status_path"`
	DownloadPath   string `toml:"download_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
}

// Async contains settings for the low-latency polling engine.
type Async struct {
	Concurrency  int `toml:"concurrency"`
	PollInterval int `toml:"poll_interval"`
	MaxRetries   int `toml:"max_retries"`
}

// Batch contains settings for the file-based batch engine.
type Batch struct {
	PollInterval     int    `toml:"poll_interval"`
	CompletionWindow string `toml:"completion_window"`
	Endpoint         string `toml:"endpoint"`
}

// Router contains settings for mode selection and time estimates.
type Router struct {
	Threshold           int     `toml:"threshold"`
	PerItemSeconds      float64 `toml:"per_item_seconds"`
	BatchMinimumSeconds int     `toml:"batch_minimum_seconds"`
}

// Session contains settings for the resumable session snapshot.
type Session struct {
	Backend   string `toml:"backend"`
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
	RedisKey  string `toml:"redis_key"`
}

// Output contains settings for report export.
type Output struct {
	CellLimit int    `toml:"cell_limit"`
	Format    string `toml:"format"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Config encapsulates all configuration values for patentbatch.
//
// Configuration sections by subsystem:
//   - Paths: state, log, and report directories
//   - Remote: completion service connection and endpoint paths
//   - Async: concurrency, poll interval, and retry budget of the polling engine
//   - Batch: poll interval and job parameters of the file-based engine
//   - Router: auto-mode threshold and estimate constants
//   - Session: snapshot backend (sqlite or redis)
//   - Output: report format and cell overflow limit
//   - Logging: log format, level, and retention
//   - Metrics: optional Prometheus listen address
type Config struct {
	Paths   Paths   `toml:"paths"`
	Remote  Remote  `toml:"remote"`
	Async   Async   `toml:"async"`
	Batch   Batch   `toml:"batch"`
	Router  Router  `toml:"router"`
	Session Session `toml:"session"`
	Output  Output  `toml:"output"`
	Logging Logging `toml:"logging"`
	Metrics Metrics `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("patentbatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log, and report directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.ReportDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// AsyncPollInterval returns the async engine poll interval.
func (c *Config) AsyncPollInterval() time.Duration {
	return time.Duration(c.Async.PollInterval) * time.Second
}

// BatchPollInterval returns the batch engine poll interval.
func (c *Config) BatchPollInterval() time.Duration {
	return time.Duration(c.Batch.PollInterval) * time.Second
}

// SessionDBPath returns the SQLite snapshot database location.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Paths.StateDir, "session.db")
}

// LogFilePath returns the log file written alongside console output.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "patentbatch.log")
}

// SessionLockPath returns the single-session lock file location.
func (c *Config) SessionLockPath() string {
	return filepath.Join(c.Paths.StateDir, "session.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
