package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"ferry/internal/config"
	"ferry/internal/daemon"
)

// ErrNotRunning indicates no instance holds the lock.
var ErrNotRunning = errors.New("ferry is not running")

// Status describes the instance currently holding the lock, if any.
type Status struct {
	Running  bool
	PID      int
	LockPath string
}

// StopResult captures how an instance was stopped.
type StopResult struct {
	PID    int
	Forced bool
}

const pollInterval = 100 * time.Millisecond

// Inspect reports whether another instance holds the lock.
func Inspect(cfg *config.Config) (Status, error) {
	if cfg == nil {
		return Status{}, errors.New("config is required")
	}
	lockPath := daemon.LockFilePath(cfg)
	status := Status{LockPath: lockPath}
	if _, err := os.Stat(lockPath); errors.Is(err, os.ErrNotExist) {
		return status, nil
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return status, fmt.Errorf("probe lock %s: %w", lockPath, err)
	}
	if ok {
		_ = lock.Unlock()
		return status, nil
	}
	status.Running = true
	status.PID = daemon.ReadPID(cfg)
	return status, nil
}

// Stop sends SIGTERM to the running instance and waits up to grace for it
// to exit, then falls back to SIGKILL.
func Stop(ctx context.Context, cfg *config.Config, grace time.Duration) (StopResult, error) {
	status, err := Inspect(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !status.Running {
		return StopResult{}, ErrNotRunning
	}
	pid := status.PID
	if pid <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine ferry pid (pid file: %s)", daemon.PIDFilePath(cfg))
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			removePIDFile(cfg)
			return result, nil
		}
		return result, fmt.Errorf("signal ferry process %d: %w", pid, err)
	}
	if waitForExit(ctx, cfg, pid, grace) {
		return result, nil
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill ferry process %d: %w", pid, err)
	}
	result.Forced = true
	removePIDFile(cfg)
	return result, nil
}

// waitForExit returns true once the process is gone or the lock is free.
func waitForExit(ctx context.Context, cfg *config.Config, pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if !alive(pid) {
			removePIDFile(cfg)
			return true
		}
		if status, err := Inspect(cfg); err == nil && !status.Running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func removePIDFile(cfg *config.Config) {
	_ = os.Remove(daemon.PIDFilePath(cfg))
}
