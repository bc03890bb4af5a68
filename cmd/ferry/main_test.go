package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ferry/internal/workflow"
)

func TestCycleExitCode(t *testing.T) {
	tests := []struct {
		name  string
		stats workflow.CycleStats
		want  int
	}{
		{name: "nothing pending", stats: workflow.CycleStats{}, want: exitOK},
		{name: "all succeeded", stats: workflow.CycleStats{Processed: 3, Successful: 3}, want: exitOK},
		{name: "partial", stats: workflow.CycleStats{Processed: 3, Successful: 2, Failed: 1}, want: exitPartial},
		{name: "all failed", stats: workflow.CycleStats{Processed: 2, Failed: 2}, want: exitFailure},
		{name: "aborted", stats: workflow.CycleStats{Aborted: "destination unreachable"}, want: exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cycleExitCode(tt.stats); got != tt.want {
				t.Fatalf("cycleExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitCodeFromError(t *testing.T) {
	if got := exitCode(nil); got != exitOK {
		t.Fatalf("nil error -> %d", got)
	}
	if got := exitCode(errors.New("boom")); got != exitFailure {
		t.Fatalf("plain error -> %d", got)
	}
	if got := exitCode(context.Canceled); got != exitInterrupted {
		t.Fatalf("canceled -> %d", got)
	}
	if got := exitCode(withExitCode(exitPartial, nil)); got != exitPartial {
		t.Fatalf("partial -> %d", got)
	}
	if err := withExitCode(exitOK, nil); err != nil {
		t.Fatalf("exitOK should not produce an error, got %v", err)
	}
}

func TestOnceCommandSucceeds(t *testing.T) {
	env := setupCLITestEnv(t, false)
	env.addInboxFile(t, "scan-1.dcm")
	env.addInboxFile(t, "scan-2.dcm")

	out, _, err := runCLI(t, []string{"once"}, env.configPath)
	if err != nil {
		t.Fatalf("once: %v (code %d)\n%s", err, exitCode(err), out)
	}
	requireContains(t, out, "2 processed, 2 succeeded, 0 failed")
	if env.uploads.Load() != 2 {
		t.Fatalf("expected 2 uploads, got %d", env.uploads.Load())
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "scan-1.dcm")
	requireContains(t, out, "Success")
}

func TestOnceCommandFailsWhenDestinationDown(t *testing.T) {
	env := setupCLITestEnv(t, true)
	env.addInboxFile(t, "scan-1.dcm")

	out, _, err := runCLI(t, []string{"once"}, env.configPath)
	if code := exitCode(err); code != exitFailure {
		t.Fatalf("exit code = %d, want %d\n%s", code, exitFailure, out)
	}
	requireContains(t, out, "Cycle aborted")
	if _, statErr := os.Stat(filepath.Join(env.monitorDir, "scan-1.dcm")); statErr != nil {
		t.Fatalf("source must remain after an aborted cycle: %v", statErr)
	}
}

func TestTestConnectionCommand(t *testing.T) {
	up := setupCLITestEnv(t, false)
	out, _, err := runCLI(t, []string{"test-connection"}, up.configPath)
	if err != nil {
		t.Fatalf("test-connection: %v", err)
	}
	requireContains(t, out, "Connection successful")

	down := setupCLITestEnv(t, true)
	out, _, err = runCLI(t, []string{"test-connection"}, down.configPath)
	if exitCode(err) != exitFailure {
		t.Fatalf("expected exit 1 for unreachable destination, got %v", err)
	}
	requireContains(t, out, "Connection failed")
}

func TestDownloadAndCleanupCommands(t *testing.T) {
	env := setupCLITestEnv(t, false)
	env.addInboxFile(t, "a.dcm")
	env.addInboxFile(t, "ignored.txt")

	out, _, err := runCLI(t, []string{"download"}, env.configPath)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	requireContains(t, out, "Fetched 1 item(s)")
	if env.uploads.Load() != 0 {
		t.Fatal("download must not upload")
	}

	out, _, err = runCLI(t, []string{"cleanup"}, env.configPath)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	requireContains(t, out, "Cleanup complete")
}

func TestCheckAndStatusCommands(t *testing.T) {
	env := setupCLITestEnv(t, false)
	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "All checks passed")

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Checks ==")
	requireContains(t, out, "Not running")
	requireContains(t, out, "0 succeeded, 0 failed")

	down := setupCLITestEnv(t, true)
	_, _, err = runCLI(t, []string{"check"}, down.configPath)
	if exitCode(err) != exitFailure {
		t.Fatalf("expected check to fail against an unreachable destination, got %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t, false)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}

func TestLogsCommandPrintsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries available")

	logDir := filepath.Join(env.baseDir, "work", "logs")
	if err := os.WriteFile(filepath.Join(logDir, "ferry.log"), []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out, _, err = runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}

func TestStopWithoutInstance(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, _, err := runCLI(t, []string{"stop"}, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Ferry is not running")
}
