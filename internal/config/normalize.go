package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRemote()
	c.normalizeBatch()
	c.normalizeSession()
	c.normalizeOutput()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = defaultReportDir
	}
	if c.Paths.ReportDir, err = expandPath(c.Paths.ReportDir); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRemote() {
	c.Remote.APIKey = strings.TrimSpace(c.Remote.APIKey)
	if c.Remote.APIKey == "" {
		if value, ok := os.LookupEnv("PATENTBATCH_API_KEY"); ok {
			c.Remote.APIKey = strings.TrimSpace(value)
		}
	}
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = defaultBaseURL
	}
	c.Remote.SubmitPath = normalizeEndpointPath(c.Remote.SubmitPath, defaultSubmitPath)
	c.Remote.RetrievePath = normalizeEndpointPath(c.Remote.RetrievePath, defaultRetrievePath)
	c.Remote.UploadPath = normalizeEndpointPath(c.Remote.UploadPath, defaultUploadPath)
	c.Remote.CreatePath = normalizeEndpointPath(c.Remote.CreatePath, defaultCreatePath)
	c.Remote.StatusPath = normalizeEndpointPath(c.Remote.StatusPath, defaultStatusPath)
	c.Remote.DownloadPath = normalizeEndpointPath(c.Remote.DownloadPath, defaultDownloadPath)
}

func (c *Config) normalizeBatch() {
	c.Batch.CompletionWindow = strings.TrimSpace(c.Batch.CompletionWindow)
	if c.Batch.CompletionWindow == "" {
		c.Batch.CompletionWindow = defaultCompletionWindow
	}
	c.Batch.Endpoint = normalizeEndpointPath(c.Batch.Endpoint, defaultBatchEndpoint)
}

func (c *Config) normalizeSession() {
	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	if c.Session.Backend == "" {
		c.Session.Backend = defaultSessionBackend
	}
	c.Session.RedisAddr = strings.TrimSpace(c.Session.RedisAddr)
	if c.Session.RedisAddr == "" {
		if value, ok := os.LookupEnv("PATENTBATCH_REDIS_ADDR"); ok {
			c.Session.RedisAddr = strings.TrimSpace(value)
		}
	}
	c.Session.RedisKey = strings.TrimSpace(c.Session.RedisKey)
	if c.Session.RedisKey == "" {
		c.Session.RedisKey = defaultRedisKey
	}
}

func (c *Config) normalizeOutput() {
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	if c.Output.Format == "" {
		c.Output.Format = defaultOutputFormat
	}
	if c.Output.CellLimit == 0 {
		c.Output.CellLimit = defaultCellLimit
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeEndpointPath(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return value
}
