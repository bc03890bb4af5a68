package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ferry/internal/config"
	"ferry/internal/daemon"
	"ferry/internal/logging"
	"ferry/internal/testsupport"
	"ferry/internal/workflow"
)

type destination struct {
	uploads   atomic.Int32
	failFirst atomic.Int32
	down      bool
	// uploading, when set, is signalled as each upload arrives; the reply
	// is then held for uploadHold.
	uploading  chan struct{}
	uploadHold time.Duration
}

func (d *destination) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/system":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/instances":
			if d.uploading != nil {
				select {
				case d.uploading <- struct{}{}:
				default:
				}
				time.Sleep(d.uploadHold)
			}
			if d.failFirst.Add(-1) >= 0 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			d.uploads.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDaemon(t *testing.T, dest *destination, opts ...testsupport.ConfigOption) (*daemon.Daemon, *config.Config) {
	t.Helper()
	srv := dest.server(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithDestination(srv.URL)}, opts...)...)
	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, cfg
}

func TestDaemonAcquireRelease(t *testing.T) {
	d, cfg := newDaemon(t, &destination{}, testsupport.WithLedgerDisabled())

	if err := d.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if pid := daemon.ReadPID(cfg); pid != os.Getpid() {
		t.Fatalf("pid file = %d, want %d", pid, os.Getpid())
	}

	second, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer second.Close()
	if err := second.Acquire(); err == nil {
		t.Fatal("expected second instance to fail to acquire the lock")
	}

	d.Release()
	if pid := daemon.ReadPID(cfg); pid != 0 {
		t.Fatalf("expected pid file removed, read %d", pid)
	}
	if err := second.Acquire(); err != nil {
		t.Fatalf("expected lock to be free after release: %v", err)
	}
}

func TestRunOnceProcessesInbox(t *testing.T) {
	dest := &destination{}
	d, cfg := newDaemon(t, dest)
	source := filepath.Join(cfg.Inbox.MonitorDir, "scan-001.dcm")
	testsupport.WriteFile(t, source, 64)

	stats := d.RunOnce(context.Background())
	if stats.Aborted != "" {
		t.Fatalf("cycle aborted: %s", stats.Aborted)
	}
	if stats.Processed != 1 || stats.Successful != 1 {
		t.Fatalf("unexpected cycle stats: %+v", stats)
	}
	if dest.uploads.Load() != 1 {
		t.Fatalf("expected 1 upload, got %d", dest.uploads.Load())
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatalf("expected acknowledged source to be deleted, stat err=%v", err)
	}

	counts, err := d.Ledger().Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Success != 1 || counts.Cycles != 1 || counts.Transmissions != 1 {
		t.Fatalf("unexpected ledger counts: %+v", counts)
	}
	if snap := d.Stats().Snapshot(); snap.Processed != 1 || snap.Cycles != 1 {
		t.Fatalf("unexpected lifetime stats: %+v", snap)
	}
}

func TestRunOnceFinishesItemWhenStoppedMidUpload(t *testing.T) {
	dest := &destination{uploading: make(chan struct{}, 1), uploadHold: 200 * time.Millisecond}
	d, cfg := newDaemon(t, dest)
	source := filepath.Join(cfg.Inbox.MonitorDir, "scan-003.dcm")
	testsupport.WriteFile(t, source, 64)

	result := make(chan workflow.CycleStats, 1)
	go func() { result <- d.RunOnce(context.Background()) }()

	select {
	case <-dest.uploading:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never started")
	}
	d.Controller().Stop("signal interrupt")

	var stats workflow.CycleStats
	select {
	case stats = <-result:
	case <-time.After(10 * time.Second):
		t.Fatal("RunOnce did not return")
	}
	if stats.Processed != 1 || stats.Successful != 1 || stats.Failed != 0 {
		t.Fatalf("in-flight item must complete after a stop, got %+v", stats)
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatalf("expected acknowledged source to be deleted, stat err=%v", err)
	}
	if d.Controller().Running() {
		t.Fatal("controller should report stopped")
	}
}

func TestRunOnceRetriesFailedTransmit(t *testing.T) {
	dest := &destination{}
	dest.failFirst.Store(1)
	d, cfg := newDaemon(t, dest, testsupport.WithRetry(2, 0))
	testsupport.WriteFile(t, filepath.Join(cfg.Inbox.MonitorDir, "scan-002.dcm"), 64)

	stats := d.RunOnce(context.Background())
	if stats.Successful != 1 || stats.Failed != 0 {
		t.Fatalf("expected retry to succeed, got %+v", stats)
	}
	if dest.uploads.Load() != 1 {
		t.Fatalf("expected 1 accepted upload, got %d", dest.uploads.Load())
	}
}

func TestRunOnceAbortsWhenDestinationDown(t *testing.T) {
	dest := &destination{down: true}
	d, cfg := newDaemon(t, dest)
	testsupport.WriteFile(t, filepath.Join(cfg.Inbox.MonitorDir, "scan-001.dcm"), 64)

	stats := d.RunOnce(context.Background())
	if stats.Aborted == "" || stats.Processed != 0 {
		t.Fatalf("expected aborted cycle with zero processed, got %+v", stats)
	}
	if err := d.TestConnection(context.Background()); err == nil {
		t.Fatal("expected connection test to fail")
	}
}

func TestDownloadFetchesWithoutTransmitting(t *testing.T) {
	dest := &destination{}
	d, cfg := newDaemon(t, dest)
	testsupport.WriteFile(t, filepath.Join(cfg.Inbox.MonitorDir, "a.dcm"), 8)
	testsupport.WriteFile(t, filepath.Join(cfg.Inbox.MonitorDir, "b.dcm"), 8)

	items, err := d.Download(context.Background())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	for _, item := range items {
		if _, err := os.Stat(item.Locator); err != nil {
			t.Fatalf("expected fetched copy at %s: %v", item.Locator, err)
		}
	}
	if dest.uploads.Load() != 0 {
		t.Fatal("download must not transmit")
	}
}

func TestServeAcceptsPushAndDrains(t *testing.T) {
	dest := &destination{}
	d, cfg := newDaemon(t, dest)
	testsupport.WriteFile(t, filepath.Join(cfg.Inbox.MonitorDir, "pushed.dcm"), 32)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(ctx, 0) }()

	addr := waitFor(t, func() (string, bool) {
		addr := d.WebhookAddr()
		return addr, addr != ""
	})

	body, _ := json.Marshal(map[string]any{
		"identifier": "pushed",
		"filename":   "pushed.dcm",
		"row_number": 7,
	})
	resp, err := http.Post("http://"+addr+"/webhook/upload", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	waitFor(t, func() (int64, bool) {
		processed := d.Stats().Snapshot().Processed
		return processed, processed == 1
	})

	d.Controller().Stop("test complete")
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after stop")
	}

	if snap := d.Stats().Snapshot(); snap.Successful != 1 {
		t.Fatalf("expected push item to succeed, got %+v", snap)
	}
	at, ok, err := d.Ledger().TransmittedAt(context.Background(), "pushed", "7")
	if err != nil || !ok || at.IsZero() {
		t.Fatalf("expected transmission mark for row 7, ok=%v err=%v", ok, err)
	}
}

func TestPushedFileIsNotResentByPoll(t *testing.T) {
	dest := &destination{}
	d, cfg := newDaemon(t, dest, testsupport.WithAutoDelete(false), testsupport.WithDedupeInFlight(true))
	testsupport.WriteFile(t, filepath.Join(cfg.Inbox.MonitorDir, "scan-001.dcm"), 32)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(ctx, 0) }()

	addr := waitFor(t, func() (string, bool) {
		addr := d.WebhookAddr()
		return addr, addr != ""
	})

	body, _ := json.Marshal(map[string]any{
		"identifier": "PID-9",
		"filename":   "scan-001.dcm",
		"row_number": 3,
	})
	resp, err := http.Post("http://"+addr+"/webhook/upload", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	waitFor(t, func() (int64, bool) {
		processed := d.Stats().Snapshot().Processed
		return processed, processed == 1
	})

	stats := d.RunOnce(context.Background())
	if stats.Processed != 0 {
		t.Fatalf("poll re-processed a pushed file: %+v", stats)
	}

	d.Controller().Stop("test complete")
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after stop")
	}

	if got := dest.uploads.Load(); got != 1 {
		t.Fatalf("uploads = %d, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(cfg.Inbox.MonitorDir, "scan-001.dcm")); err != nil {
		t.Fatalf("source should be kept with auto_delete off: %v", err)
	}
}

func TestServeWaitsForCancelledPushBeforeReturning(t *testing.T) {
	dest := &destination{uploading: make(chan struct{}, 1), uploadHold: time.Second}
	srv := dest.server(t)
	cfg := testsupport.NewConfig(t, testsupport.WithDestination(srv.URL), testsupport.WithRetry(1, 0))
	d, err := daemon.New(cfg, logging.NewNop(), daemon.WithDrainTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	testsupport.WriteFile(t, filepath.Join(cfg.Inbox.MonitorDir, "slow.dcm"), 32)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(context.Background(), 0) }()
	addr := waitFor(t, func() (string, bool) {
		addr := d.WebhookAddr()
		return addr, addr != ""
	})

	body, _ := json.Marshal(map[string]any{"identifier": "slow", "filename": "slow.dcm"})
	resp, err := http.Post("http://"+addr+"/webhook/upload", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	select {
	case <-dest.uploading:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never started")
	}
	d.Controller().Stop("signal interrupt")
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after drain timeout")
	}

	if snap := d.Stats().Snapshot(); snap.Processed != 1 || snap.Failed != 1 {
		t.Fatalf("expected cancelled push to finish before Serve returned, got %+v", snap)
	}
	entries, err := d.Ledger().Recent(context.Background(), 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected cancelled push in history, got %d (%v)", len(entries), err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Inbox.MonitorDir, "slow.dcm")); err != nil {
		t.Fatalf("cancelled push must leave the source in place: %v", err)
	}
}

func TestCleanupRemovesStaleWorkDirs(t *testing.T) {
	d, cfg := newDaemon(t, &destination{})
	stale := filepath.Join(cfg.Paths.ProcessingDir, "old-item")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	d.Cleanup(context.Background())
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale work dir removed, stat err=%v", err)
	}
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	d, _ := newDaemon(t, &destination{}, testsupport.WithLedgerDisabled())
	sent, msg, err := d.TestNotification(context.Background())
	if sent || err != nil {
		t.Fatalf("expected no-op without topic, sent=%v err=%v", sent, err)
	}
	if msg == "" {
		t.Fatal("expected explanatory message")
	}
}

func TestTestNotificationPublishes(t *testing.T) {
	var hits atomic.Int32
	var title atomic.Value
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		title.Store(r.Header.Get("Title"))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ntfy.Close)

	d, _ := newDaemon(t, &destination{}, testsupport.WithLedgerDisabled(), testsupport.WithNtfyTopic(ntfy.URL+"/ferry"))
	sent, _, err := d.TestNotification(context.Background())
	if err != nil || !sent {
		t.Fatalf("expected notification sent, sent=%v err=%v", sent, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 ntfy request, got %d", hits.Load())
	}
	if got, _ := title.Load().(string); got == "" {
		t.Fatal("expected a Title header on the test notification")
	}
}

func waitFor[T any](t *testing.T, check func() (T, bool)) T {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		value, ok := check()
		if ok {
			return value
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline (last value %v)", value)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
