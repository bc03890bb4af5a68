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

// Paths contains working directory configuration.
type Paths struct {
	WorkDir       string `toml:"work_dir"`
	DownloadsDir  string `toml:"downloads_dir"`
	ProcessingDir string `toml:"processing_dir"`
	LogDir        string `toml:"log_dir"`
}

// Inbox describes the watched source folder.
type Inbox struct {
	MonitorDir string   `toml:"monitor_dir"`
	Extensions []string `toml:"extensions"`
	AutoDelete bool     `toml:"auto_delete"`
}

// Destination describes the upload target items are transmitted to.
type Destination struct {
	URL            string `toml:"url"`
	UploadPath     string `toml:"upload_path"`
	ProbePath      string `toml:"probe_path"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	MaxWorkers     int    `toml:"max_workers"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Workflow contains retry policy and polling configuration.
type Workflow struct {
	PollInterval        int     `toml:"poll_interval"`
	MaxRetryAttempts    int     `toml:"max_retry_attempts"`
	RetryDelaySeconds   int     `toml:"retry_delay_seconds"`
	SuccessRatio        float64 `toml:"success_ratio"`
	CleanupOldFilesDays int     `toml:"cleanup_old_files_days"`
	DedupeInFlight      bool    `toml:"dedupe_in_flight"`
}

// Webhook contains push endpoint configuration.
type Webhook struct {
	Bind         string `toml:"bind"`
	EnableAuth   bool   `toml:"enable_auth"`
	Secret       string `toml:"secret"`
	Workers      int    `toml:"workers"`
	QueueSize    int    `toml:"queue_size"`
	Overflow     string `toml:"overflow"`
	BlockTimeout int    `toml:"block_timeout"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Errors         bool   `toml:"errors"`
	CycleSummary   bool   `toml:"cycle_summary"`
}

// Ledger contains configuration for the SQLite transfer history.
type Ledger struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Ferry.
//
// Configuration sections by subsystem:
//   - Paths: working, download, processing and log directories
//   - Inbox: watched source folder and accepted extensions
//   - Destination: upload endpoint, credentials and parallelism
//   - Workflow: polling interval, retry policy and housekeeping age
//   - Webhook: push endpoint bind address, auth and dispatch pool
//   - Notifications: ntfy push notification settings
//   - Ledger: SQLite transfer history
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Inbox         Inbox         `toml:"inbox"`
	Destination   Destination   `toml:"destination"`
	Workflow      Workflow      `toml:"workflow"`
	Webhook       Webhook       `toml:"webhook"`
	Notifications Notifications `toml:"notifications"`
	Ledger        Ledger        `toml:"ledger"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ferry/config.toml")
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
		decoder.DisallowUnknownFields()
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

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ferry.toml")
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

// EnsureDirectories creates required directories for daemon operation.
// The inbox monitor directory is created on a best-effort basis so the
// process can start while a synced folder is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.DownloadsDir, c.Paths.ProcessingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Inbox.MonitorDir) != "" {
		_ = os.MkdirAll(c.Inbox.MonitorDir, 0o755)
	}
	return nil
}

// PollInterval returns the configured polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// RetryDelay returns the fixed delay between transmit attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Workflow.RetryDelaySeconds) * time.Second
}

// CleanupAge returns the age after which downloads and work directories are pruned.
func (c *Config) CleanupAge() time.Duration {
	return time.Duration(c.Workflow.CleanupOldFilesDays) * 24 * time.Hour
}

// DestinationTimeout returns the per-request timeout used against the destination.
func (c *Config) DestinationTimeout() time.Duration {
	return time.Duration(c.Destination.RequestTimeout) * time.Second
}

// WebhookBlockTimeout returns how long a push submission may wait for queue space
// when the overflow policy is "block".
func (c *Config) WebhookBlockTimeout() time.Duration {
	return time.Duration(c.Webhook.BlockTimeout) * time.Second
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

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	if redacted.Destination.Password != "" {
		redacted.Destination.Password = "<redacted>"
	}
	if redacted.Webhook.Secret != "" {
		redacted.Webhook.Secret = "<redacted>"
	}
	out, err := toml.Marshal(redacted)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}
