package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	monitorDir string
	uploads    *atomic.Int32
}

// setupCLITestEnv writes a config pointing every path at a temp dir and the
// destination at an httptest server. down makes every destination call fail.
func setupCLITestEnv(t *testing.T, down bool) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	uploads := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Method == http.MethodPost {
			uploads.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	monitor := filepath.Join(base, "monitor")
	if err := os.MkdirAll(monitor, 0o755); err != nil {
		t.Fatalf("mkdir monitor: %v", err)
	}
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
work_dir = %q

[inbox]
monitor_dir = %q

[destination]
url = %q

[workflow]
retry_delay_seconds = 0

[webhook]
bind = "127.0.0.1:0"

[logging]
level = "error"
`, filepath.Join(base, "work"), monitor, srv.URL)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{baseDir: base, configPath: configPath, monitorDir: monitor, uploads: uploads}
}

func (e *cliTestEnv) addInboxFile(t *testing.T, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.monitorDir, name), []byte("payload"), 0o644); err != nil {
		t.Fatalf("write inbox file: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substring string) {
	t.Helper()
	if !strings.Contains(output, substring) {
		t.Fatalf("expected output to contain %q, got:\n%s", substring, output)
	}
}
