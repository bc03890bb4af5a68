package preflight

import (
	"context"

	"ferry/internal/config"
	"ferry/internal/transmit"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Monitor directory", cfg.Inbox.MonitorDir),
		CheckDirectoryAccess("Downloads directory", cfg.Paths.DownloadsDir),
		CheckDirectoryAccess("Processing directory", cfg.Paths.ProcessingDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDestination(ctx, cfg.Destination.URL, transmit.New(cfg, nil)),
	}

	if cfg.Ledger.Enabled {
		results = append(results, CheckLedger(cfg))
	}
	if cfg.Webhook.EnableAuth {
		results = append(results, CheckWebhookAuth(cfg))
	}
	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNotifications(cfg))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
