package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ferry/internal/config"
	"ferry/internal/dispatch"
	"ferry/internal/inbox"
	"ferry/internal/ledger"
	"ferry/internal/lifecycle"
	"ferry/internal/logging"
	"ferry/internal/notifications"
	"ferry/internal/pipeline"
	"ferry/internal/transform"
	"ferry/internal/transmit"
	"ferry/internal/webhook"
	"ferry/internal/workflow"
)

const drainTimeout = 30 * time.Second

// Daemon wires the concrete collaborators into the workflow engine and
// enforces single-instance execution for the long-running modes.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store       *ledger.Store
	source      *inbox.Folder
	transformer *transform.Stager
	transmitter *transmit.Uploader
	notifier    *notifications.Notifier
	orch        *workflow.Orchestrator
	driver      *workflow.CycleDriver
	stats       *workflow.LifetimeStats
	controller  *lifecycle.Controller

	lockPath     string
	pidPath      string
	lock         *flock.Flock
	locked       atomic.Bool
	drainTimeout time.Duration

	mu     sync.Mutex
	server *webhook.Server
}

// Option customizes collaborator construction, mainly for tests.
type Option func(*Daemon)

// WithController shares an existing cancellation controller.
func WithController(c *lifecycle.Controller) Option {
	return func(d *Daemon) {
		d.controller = c
	}
}

// WithDrainTimeout bounds how long Serve waits for queued pushes at shutdown.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		d.drainTimeout = timeout
	}
}

// WithNotificationService replaces the configured notification transport.
func WithNotificationService(svc notifications.Service) Option {
	return func(d *Daemon) {
		d.notifier = notifications.NewNotifier(svc, d.logger)
	}
}

// New constructs a daemon with initialized dependencies. The ledger is opened
// when enabled; call Close to release it.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	policy := workflow.PolicyFromConfig(cfg)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("workflow policy: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	lockPath := LockFilePath(cfg)
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		stats:    workflow.NewLifetimeStats(),
		lockPath: lockPath,
		pidPath:  PIDFilePath(cfg),
		lock:     flock.New(lockPath),

		drainTimeout: drainTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.controller == nil {
		d.controller = lifecycle.NewController(logger)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewNotifier(notifications.NewService(cfg), logger)
	}

	var marker inbox.Marker
	var recorder workflow.Recorder
	if cfg.Ledger.Enabled {
		store, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		d.store = store
		marker = store
		recorder = NewHistory(store, cfg.Ledger.RetentionDays)
	}

	d.source = inbox.New(cfg, marker, logger)
	d.transformer = transform.New(cfg, logger)
	d.transmitter = transmit.New(cfg, logger)

	orchOpts := []workflow.Option{}
	if recorder != nil {
		orchOpts = append(orchOpts, workflow.WithRecorder(recorder))
	}
	if cfg.Workflow.DedupeInFlight {
		orchOpts = append(orchOpts, workflow.WithInFlightGuard())
	}
	d.orch = workflow.NewOrchestrator(d.source, d.transformer, d.transmitter, d.notifier, policy, logger, orchOpts...)
	d.driver = workflow.NewCycleDriver(d.orch, d.source, d.transformer, d.transmitter, d.notifier, recorder, logger)
	return d, nil
}

// Acquire takes the single-instance lock and writes the pid file.
func (d *Daemon) Acquire() error {
	if d.locked.Load() {
		return errors.New("daemon lock already held")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ferry instance is already running")
	}
	if err := writePIDFile(d.pidPath); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}
	d.locked.Store(true)
	d.logger.Debug("instance lock acquired", logging.String("lock", d.lockPath))
	return nil
}

// Release drops the lock and removes the pid file.
func (d *Daemon) Release() {
	if !d.locked.Swap(false) {
		return
	}
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove pid file", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release instance lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no ferry process is running"),
		)
	}
}

// Close releases the lock and the ledger.
func (d *Daemon) Close() error {
	d.Release()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Controller returns the shared cancellation controller.
func (d *Daemon) Controller() *lifecycle.Controller {
	return d.controller
}

// Stats returns the process-wide counters.
func (d *Daemon) Stats() *workflow.LifetimeStats {
	return d.stats
}

// Ledger returns the transfer ledger, or nil when disabled.
func (d *Daemon) Ledger() *ledger.Store {
	return d.store
}

// LockPath returns the single-instance lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// WebhookAddr returns the bound push endpoint address while Serve runs.
func (d *Daemon) WebhookAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server == nil {
		return ""
	}
	return d.server.Addr()
}

// RunOnce runs a single polling cycle. A controller stop does not interrupt
// the cycle; callers check Controller().Interrupted() afterwards.
func (d *Daemon) RunOnce(ctx context.Context) workflow.CycleStats {
	stats := d.driver.RunCycle(ctx)
	d.stats.AddCycle(stats)
	return stats
}

// RunContinuous polls every interval until the controller stops or ctx ends.
func (d *Daemon) RunContinuous(ctx context.Context, interval time.Duration) workflow.SchedulerSummary {
	if interval <= 0 {
		interval = d.cfg.PollInterval()
	}
	scheduler := workflow.NewScheduler(d.driver, d.stats, d.controller, interval, d.logger)
	return scheduler.Run(ctx)
}

// Serve runs the push endpoint until the controller stops or ctx ends. When
// pollInterval is positive the polling scheduler runs alongside it against
// the same statistics. Queued dispatches are drained before returning.
func (d *Daemon) Serve(ctx context.Context, pollInterval time.Duration) error {
	server := webhook.NewServer(d.cfg, nil, d.stats, d.logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start webhook server: %w", err)
	}
	d.mu.Lock()
	d.server = server
	d.mu.Unlock()

	dispatcher := dispatch.New(d.orch, d.stats, d.cfg, d.logger)
	server.SetDispatcher(dispatcher)
	d.logger.Info("push mode ready",
		logging.String(logging.FieldEventType, "serve_ready"),
		logging.String("addr", server.Addr()),
		logging.Bool("auth", d.cfg.Webhook.EnableAuth),
	)

	var wg sync.WaitGroup
	if pollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.RunContinuous(ctx, pollInterval)
		}()
	}

	select {
	case <-d.controller.Done():
	case <-ctx.Done():
	}

	server.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logging.WarnWithContext(d.logger, "dispatch queue not drained before shutdown", "dispatch_drain_timeout",
			logging.Error(err),
			logging.String(logging.FieldImpact, "in-flight pushes were cancelled; items remain at the source"),
		)
		dispatcher.Wait()
	}
	wg.Wait()

	d.mu.Lock()
	d.server = nil
	d.mu.Unlock()

	snap := d.stats.Snapshot()
	d.logger.Info("push mode stopped",
		logging.String(logging.FieldEventType, "serve_stopped"),
		logging.Int64("total_processed", snap.Processed),
		logging.Int64("total_successful", snap.Successful),
		logging.Int64("total_failed", snap.Failed),
	)
	return nil
}

// TestConnection probes the destination once.
func (d *Daemon) TestConnection(ctx context.Context) error {
	return d.transmitter.ProbeErr(ctx)
}

// Download fetches every pending item without transforming or transmitting.
func (d *Daemon) Download(ctx context.Context) ([]pipeline.WorkItem, error) {
	return d.source.ListPending(ctx)
}

// Cleanup runs the end-of-cycle housekeeping on its own.
func (d *Daemon) Cleanup(ctx context.Context) {
	d.driver.CleanupOld(ctx)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	svc := notifications.NewService(d.cfg)
	if err := svc.Publish(ctx, notifications.EventTest, notifications.Payload{"message": "Test notification from Ferry"}); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
