package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ferry/internal/config"
	"ferry/internal/logging"
)

const (
	currentLogName = "ferry.log"
	pidFileName    = "ferry.pid"
	lockFileName   = "ferry.lock"
)

// RunLog is the per-run log file opened by OpenRunLog.
type RunLog struct {
	Logger *slog.Logger
	Path   string
	closer io.Closer
}

// Close releases the log file handle.
func (r *RunLog) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// OpenRunLog creates ferry-<runid>.log under the log directory, points
// ferry.log at it and prunes run logs past logging.retention_days.
func OpenRunLog(cfg *config.Config) (*RunLog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("ferry-%s.log", runID))

	logger, closer, err := logging.NewRunLogger(cfg, logPath)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", currentLogName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "ferry-*.log", Exclude: []string{logPath}},
	)
	return &RunLog{Logger: logger, Path: logPath, closer: closer}, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// CurrentLogPath is the ferry.log pointer to the newest run log.
func CurrentLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, currentLogName)
}

// LockFilePath is the single-instance lock file.
func LockFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, lockFileName)
}

// PIDFilePath is where a running instance records its pid.
func PIDFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, pidFileName)
}

// ReadPID returns the pid recorded by a running instance, or 0 when none.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(PIDFilePath(cfg))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
