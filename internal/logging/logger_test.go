package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/services"
)

func noColor() *bool {
	v := false
	return &v
}

func newFileLogger(t *testing.T, format, level string) (*slog.Logger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "ferry.log")
	logger, err := logging.New(logging.Options{
		Format:      format,
		Level:       level,
		OutputPaths: []string{logPath},
		Color:       noColor(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logger, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigConsole(t *testing.T) {
	cfg := config.Default()
	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logger, logPath := newFileLogger(t, "console", "info")
	logger.Info("message without caller")

	if content := readLog(t, logPath); strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logger, logPath := newFileLogger(t, "console", "debug")
	logger.Info("message with caller")

	if content := readLog(t, logPath); !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersSubject(t *testing.T) {
	logger, logPath := newFileLogger(t, "console", "info")

	ctx := services.WithItemID(context.Background(), "study-7")
	ctx = services.WithStage(ctx, "transmit")
	component := logging.NewComponentLogger(logger, "workflow")
	logging.WithContext(ctx, component).Info("upload finished", logging.Int("files", 4))

	content := readLog(t, logPath)
	for _, fragment := range []string{"INFO", "workflow: [study-7/transmit] upload finished", "files=4"} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in %q", fragment, content)
		}
	}
	if strings.Contains(content, "\x1b[") {
		t.Fatalf("expected no ANSI sequences when colour disabled, got %q", content)
	}
}

func TestJSONLoggerUsesContextFields(t *testing.T) {
	logger, logPath := newFileLogger(t, "json", "info")

	ctx := services.WithItemID(context.Background(), "study-9")
	ctx = services.WithTrigger(ctx, services.TriggerPush)
	ctx = services.WithRequestID(ctx, "req-1")
	logging.WithContext(ctx, logger).Info("accepted")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["item_id"] != "study-9" || entry["trigger"] != "push" || entry["correlation_id"] != "req-1" {
		t.Fatalf("unexpected context fields: %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WarnWithContext(logger, "acknowledge failed", "acknowledge_failed", logging.String(logging.FieldImpact, "source file remains"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "acknowledge_failed" {
		t.Fatalf("missing event_type: %v", entry)
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatalf("missing default error_hint: %v", entry)
	}
	if entry[logging.FieldImpact] != "source file remains" {
		t.Fatalf("explicit impact overwritten: %v", entry)
	}
}

func TestNewRunLoggerWritesJSONFile(t *testing.T) {
	cfg := config.Default()
	logPath := filepath.Join(t.TempDir(), "runs", "ferry-run.log")

	logger, closer, err := logging.NewRunLogger(&cfg, logPath)
	if err != nil {
		t.Fatalf("NewRunLogger: %v", err)
	}
	logger.Info("cycle finished", logging.Int("processed", 2))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if content := readLog(t, logPath); !strings.Contains(content, `"processed":2`) {
		t.Fatalf("expected json line in run log, got %q", content)
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "ferry-old.log")
	newPath := filepath.Join(dir, "ferry-new.log")
	keepPath := filepath.Join(dir, "ferry-current.log")
	for _, p := range []string{oldPath, newPath, keepPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -30)
	for _, p := range []string{oldPath, keepPath} {
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 14, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "ferry-*.log",
		Exclude: []string{keepPath},
	})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, stat err=%v", err)
	}
	for _, p := range []string{newPath, keepPath} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s kept: %v", p, err)
		}
	}

	if n := logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir}); n != 0 {
		t.Fatalf("zero retention removed %d files", n)
	}
}
