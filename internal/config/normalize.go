package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeInbox(); err != nil {
		return err
	}
	c.normalizeDestination()
	c.normalizeWebhook()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if err := c.normalizeLedger(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.DownloadsDir, err = c.workSubdir(c.Paths.DownloadsDir, downloadsDirName); err != nil {
		return fmt.Errorf("paths.downloads_dir: %w", err)
	}
	if c.Paths.ProcessingDir, err = c.workSubdir(c.Paths.ProcessingDir, processingDirName); err != nil {
		return fmt.Errorf("paths.processing_dir: %w", err)
	}
	if c.Paths.LogDir, err = c.workSubdir(c.Paths.LogDir, logsDirName); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) workSubdir(value, name string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return filepath.Join(c.Paths.WorkDir, name), nil
	}
	return expandPath(value)
}

func (c *Config) normalizeInbox() error {
	var err error
	if c.Inbox.MonitorDir, err = expandPath(strings.TrimSpace(c.Inbox.MonitorDir)); err != nil {
		return fmt.Errorf("inbox.monitor_dir: %w", err)
	}
	exts := make([]string, 0, len(c.Inbox.Extensions))
	seen := make(map[string]struct{}, len(c.Inbox.Extensions))
	for _, ext := range c.Inbox.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	c.Inbox.Extensions = exts
	return nil
}

func (c *Config) normalizeDestination() {
	c.Destination.URL = strings.TrimRight(strings.TrimSpace(c.Destination.URL), "/")
	c.Destination.UploadPath = normalizeURLPath(c.Destination.UploadPath, defaultUploadPath)
	c.Destination.ProbePath = normalizeURLPath(c.Destination.ProbePath, defaultProbePath)
	c.Destination.Username = strings.TrimSpace(c.Destination.Username)
	if c.Destination.Password == "" {
		if value, ok := os.LookupEnv("FERRY_DESTINATION_PASSWORD"); ok {
			c.Destination.Password = value
		}
	}
}

func normalizeURLPath(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return value
}

func (c *Config) normalizeWebhook() {
	c.Webhook.Bind = strings.TrimSpace(c.Webhook.Bind)
	if c.Webhook.Bind == "" {
		c.Webhook.Bind = defaultWebhookBind
	}
	if c.Webhook.Secret == "" {
		if value, ok := os.LookupEnv("FERRY_WEBHOOK_SECRET"); ok {
			c.Webhook.Secret = strings.TrimSpace(value)
		}
	}
	c.Webhook.Overflow = strings.ToLower(strings.TrimSpace(c.Webhook.Overflow))
	if c.Webhook.Overflow == "" {
		c.Webhook.Overflow = defaultWebhookOverflowPolicy
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = defaultWebhookMaxBodyBytes
	}
}

func (c *Config) normalizeLedger() error {
	if strings.TrimSpace(c.Ledger.Path) == "" {
		c.Ledger.Path = filepath.Join(c.Paths.LogDir, ledgerFileName)
		return nil
	}
	var err error
	if c.Ledger.Path, err = expandPath(c.Ledger.Path); err != nil {
		return fmt.Errorf("ledger.path: %w", err)
	}
	return nil
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
