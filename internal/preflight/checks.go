package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"ferry/internal/config"
	"ferry/internal/services"
)

const destinationTimeout = 10 * time.Second

// Prober performs the destination connectivity check.
type Prober interface {
	ProbeErr(ctx context.Context) error
}

// CheckDestination verifies the destination answers its probe path.
// A single attempt is made with a short timeout.
func CheckDestination(ctx context.Context, url string, prober Prober) Result {
	const name = "Destination"

	if strings.TrimSpace(url) == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	if prober == nil {
		return Result{Name: name, Detail: "no prober configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, destinationTimeout)
	defer cancel()

	if err := prober.ProbeErr(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", url, summarizeProbeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", url)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckLedger verifies the ledger database can be created or opened for writing.
func CheckLedger(cfg *config.Config) Result {
	const name = "Ledger"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Ledger.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	path := cfg.Ledger.Path
	if _, err := os.Stat(path); err == nil {
		if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not writable: %v)", path, err)}
		}
		return Result{Name: name, Passed: true, Detail: path}
	}
	dir := CheckDirectoryAccess(name, filepath.Dir(path))
	if !dir.Passed {
		return dir
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
}

// CheckWebhookAuth reports whether signed requests are configured consistently.
func CheckWebhookAuth(cfg *config.Config) Result {
	const name = "Webhook auth"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Webhook.EnableAuth {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return Result{Name: name, Detail: "enabled but secret missing (set FERRY_WEBHOOK_SECRET)"}
	}
	return Result{Name: name, Passed: true, Detail: "HMAC-SHA256 signatures required"}
}

// CheckNotifications reports the notification transport in use.
func CheckNotifications(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: topic must be an http(s) url)", topic)}
	}
	return Result{Name: name, Passed: true, Detail: topic}
}

// summarizeProbeError produces a human-readable summary for probe failures.
func summarizeProbeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "probe timed out (destination unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "probe timed out (destination unreachable)"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("connection failed (%v)", opErr.Err)
	}
	if errors.Is(err, services.ErrConfiguration) {
		return "destination rejected the request (check credentials)"
	}
	return err.Error()
}
