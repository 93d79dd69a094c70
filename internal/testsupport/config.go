package testsupport

import (
	"path/filepath"
	"testing"

	"patentbatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Poll intervals are one second and the remote points at an unroutable
// address until WithRemote is applied.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Remote.APIKey = "test"
	cfgVal.Remote.BaseURL = "http://127.0.0.1:0"
	cfgVal.Remote.RetryAttempts = 1
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ReportDir = filepath.Join(base, "reports")
	cfgVal.Async.PollInterval = 1
	cfgVal.Batch.PollInterval = 1

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithRemote points the remote client at baseURL using flat endpoint paths
// that carry ids as query parameters.
func WithRemote(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Remote.BaseURL = baseURL
		b.cfg.Remote.SubmitPath = "/async_submit"
		b.cfg.Remote.RetrievePath = "/async_retrieve"
		b.cfg.Remote.UploadPath = "/upload"
		b.cfg.Remote.CreatePath = "/create_batch"
		b.cfg.Remote.StatusPath = "/check_status"
		b.cfg.Remote.DownloadPath = "/download_result"
	}
}

// WithThreshold overrides the auto-mode threshold.
func WithThreshold(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Router.Threshold = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
