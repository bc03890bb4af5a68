package config

const (
	defaultWorkDir               = "~/.local/share/ferry"
	defaultMonitorDir            = "./monitor"
	defaultDestinationURL        = "http://localhost:8042"
	defaultUploadPath            = "/instances"
	defaultProbePath             = "/system"
	defaultDestinationWorkers    = 10
	defaultDestinationTimeout    = 60
	defaultPollInterval          = 30
	defaultMaxRetryAttempts      = 1
	defaultRetryDelaySeconds     = 30
	defaultSuccessRatio          = 0.80
	defaultCleanupOldFilesDays   = 7
	defaultWebhookBind           = "0.0.0.0:5000"
	defaultWebhookWorkers        = 4
	defaultWebhookQueueSize      = 64
	defaultWebhookBlockTimeout   = 5
	defaultWebhookMaxBodyBytes   = 1 << 20
	defaultNotifyRequestTimeout  = 10
	defaultLedgerRetentionDays   = 30
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 14
	ledgerFileName               = "ledger.db"
	downloadsDirName             = "downloads"
	processingDirName            = "processing"
	logsDirName                  = "logs"
	OverflowReject               = "reject"
	OverflowBlock                = "block"
	defaultWebhookOverflowPolicy = OverflowReject
)

var defaultInboxExtensions = []string{".dcm", ".zip"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
		},
		Inbox: Inbox{
			MonitorDir: defaultMonitorDir,
			Extensions: append([]string(nil), defaultInboxExtensions...),
			AutoDelete: true,
		},
		Destination: Destination{
			URL:            defaultDestinationURL,
			UploadPath:     defaultUploadPath,
			ProbePath:      defaultProbePath,
			MaxWorkers:     defaultDestinationWorkers,
			RequestTimeout: defaultDestinationTimeout,
		},
		Workflow: Workflow{
			PollInterval:        defaultPollInterval,
			MaxRetryAttempts:    defaultMaxRetryAttempts,
			RetryDelaySeconds:   defaultRetryDelaySeconds,
			SuccessRatio:        defaultSuccessRatio,
			CleanupOldFilesDays: defaultCleanupOldFilesDays,
		},
		Webhook: Webhook{
			Bind:         defaultWebhookBind,
			Workers:      defaultWebhookWorkers,
			QueueSize:    defaultWebhookQueueSize,
			Overflow:     defaultWebhookOverflowPolicy,
			BlockTimeout: defaultWebhookBlockTimeout,
			MaxBodyBytes: defaultWebhookMaxBodyBytes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Errors:         true,
		},
		Ledger: Ledger{
			Enabled:       true,
			RetentionDays: defaultLedgerRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
