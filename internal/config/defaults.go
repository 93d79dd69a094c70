package config

const (
	defaultConfigPath          = "~/.config/patentbatch/config.toml"
	defaultStateDir            = "~/.local/share/patentbatch/state"
	defaultLogDir              = "~/.local/share/patentbatch/logs"
	defaultReportDir           = "~/patentbatch/reports"
	defaultBaseURL             = "https://open.bigmodel.cn/api/paas/v4"
	defaultSubmitPath          = "/async/chat/completions"
	defaultRetrievePath        = "/async-result/{id}"
	defaultUploadPath          = "/files"
	defaultCreatePath          = "/batches"
	defaultStatusPath          = "/batches/{id}"
	defaultDownloadPath        = "/files/{id}/content"
	defaultTimeoutSeconds      = 60
	defaultRetryAttempts       = 3
	defaultConcurrency         = 5
	defaultAsyncPollInterval   = 5
	defaultMaxRetries          = 3
	defaultBatchPollInterval   = 60
	defaultCompletionWindow    = "24h"
	defaultBatchEndpoint       = "/v4/chat/completions"
	defaultThreshold           = 50
	defaultPerItemSeconds      = 8
	defaultBatchMinimumSeconds = 1800
	defaultSessionBackend      = "sqlite"
	defaultRedisKey            = "patentbatch:session"
	defaultCellLimit           = 32767
	defaultOutputFormat        = "xlsx"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			ReportDir: defaultReportDir,
		},
		Remote: Remote{
			BaseURL:        defaultBaseURL,
			SubmitPath:     defaultSubmitPath,
			RetrievePath:   defaultRetrievePath,
			UploadPath:     defaultUploadPath,
			CreatePath:     defaultCreatePath,
			StatusPath:     defaultStatusPath,
			DownloadPath:   defaultDownloadPath,
			TimeoutSeconds: defaultTimeoutSeconds,
			RetryAttempts:  defaultRetryAttempts,
		},
		Async: Async{
			Concurrency:  defaultConcurrency,
			PollInterval: defaultAsyncPollInterval,
			MaxRetries:   defaultMaxRetries,
		},
		Batch: Batch{
			PollInterval:     defaultBatchPollInterval,
			CompletionWindow: defaultCompletionWindow,
			Endpoint:         defaultBatchEndpoint,
		},
		Router: Router{
			Threshold:           defaultThreshold,
			PerItemSeconds:      defaultPerItemSeconds,
			BatchMinimumSeconds: defaultBatchMinimumSeconds,
		},
		Session: Session{
			Backend:  defaultSessionBackend,
			RedisKey: defaultRedisKey,
		},
		Output: Output{
			CellLimit: defaultCellLimit,
			Format:    defaultOutputFormat,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
