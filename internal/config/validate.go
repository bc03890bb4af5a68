package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateInbox(); err != nil {
		return err
	}
	if err := c.validateDestination(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateWebhook(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateInbox() error {
	if strings.TrimSpace(c.Inbox.MonitorDir) == "" {
		return errors.New("inbox.monitor_dir must be set")
	}
	if len(c.Inbox.Extensions) == 0 {
		return errors.New("inbox.extensions must include at least one extension")
	}
	return nil
}

func (c *Config) validateDestination() error {
	if c.Destination.URL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/ferry/config.toml"
		}
		return fmt.Errorf("destination.url is required. Edit %s (create with 'ferry config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Destination.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("destination.url %q must be an absolute http(s) URL", c.Destination.URL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("destination.url scheme %q is not supported", parsed.Scheme)
	}
	return ensurePositiveMap(map[string]int{
		"destination.max_workers":     c.Destination.MaxWorkers,
		"destination.request_timeout": c.Destination.RequestTimeout,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval":          c.Workflow.PollInterval,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
		"workflow.cleanup_old_files_days": c.Workflow.CleanupOldFilesDays,
	}); err != nil {
		return err
	}
	if c.Workflow.MaxRetryAttempts < 1 {
		return errors.New("workflow.max_retry_attempts must be >= 1")
	}
	if c.Workflow.RetryDelaySeconds < 0 {
		return errors.New("workflow.retry_delay_seconds must not be negative")
	}
	if c.Workflow.SuccessRatio <= 0 || c.Workflow.SuccessRatio > 1 {
		return errors.New("workflow.success_ratio must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateWebhook() error {
	if err := ensurePositiveMap(map[string]int{
		"webhook.workers":    c.Webhook.Workers,
		"webhook.queue_size": c.Webhook.QueueSize,
	}); err != nil {
		return err
	}
	switch c.Webhook.Overflow {
	case OverflowReject:
	case OverflowBlock:
		if c.Webhook.BlockTimeout <= 0 {
			return errors.New("webhook.block_timeout must be positive when webhook.overflow is \"block\"")
		}
	default:
		return fmt.Errorf("webhook.overflow %q must be %q or %q", c.Webhook.Overflow, OverflowReject, OverflowBlock)
	}
	if c.Webhook.EnableAuth && strings.TrimSpace(c.Webhook.Secret) == "" {
		return errors.New("webhook.secret must be set when webhook.enable_auth is true (or set FERRY_WEBHOOK_SECRET)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be \"console\" or \"json\"", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
