package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"ferry/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every directory exists on return; the webhook binds an ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = base
	cfgVal.Paths.DownloadsDir = filepath.Join(base, "downloads")
	cfgVal.Paths.ProcessingDir = filepath.Join(base, "processing")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Inbox.MonitorDir = filepath.Join(base, "monitor")
	cfgVal.Ledger.Path = filepath.Join(base, "logs", "ledger.db")
	cfgVal.Webhook.Bind = "127.0.0.1:0"
	cfgVal.Workflow.RetryDelaySeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{cfgVal.Paths.DownloadsDir, cfgVal.Paths.ProcessingDir, cfgVal.Paths.LogDir, cfgVal.Inbox.MonitorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithDestination points uploads at url, typically an httptest server.
func WithDestination(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Destination.URL = url
	}
}

// WithRetry sets the transmit retry policy.
func WithRetry(attempts, delaySeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxRetryAttempts = attempts
		b.cfg.Workflow.RetryDelaySeconds = delaySeconds
	}
}

// WithAutoDelete toggles deletion of acknowledged source files.
func WithAutoDelete(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Inbox.AutoDelete = enabled
	}
}

// WithNtfyTopic points notifications at topic.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithLedgerDisabled turns the transfer ledger off.
func WithLedgerDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ledger.Enabled = false
	}
}

// WithDedupeInFlight toggles the per-item in-flight guard.
func WithDedupeInFlight(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.DedupeInFlight = enabled
	}
}
