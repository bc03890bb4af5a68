package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"ferry/internal/logging"
	"ferry/internal/pipeline"
	"ferry/internal/services"
)

// CycleStats counts one CycleDriver pass.
type CycleStats struct {
	ID         string
	Pending    int
	Processed  int
	Successful int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
	// Aborted is set when the cycle stopped before processing its pending list.
	Aborted string
}

// Duration returns the wall time of the cycle.
func (c CycleStats) Duration() time.Duration {
	if c.StartedAt.IsZero() || c.FinishedAt.Before(c.StartedAt) {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// SuccessRate returns the successful percentage of processed items.
func (c CycleStats) SuccessRate() float64 {
	if c.Processed == 0 {
		return 0
	}
	return float64(c.Successful) / float64(c.Processed) * 100
}

// ItemProcessor runs one already-fetched item.
type ItemProcessor interface {
	Process(ctx context.Context, item pipeline.WorkItem) Outcome
}

// cycleNotifier is implemented by notifiers that also report finished cycles.
type cycleNotifier interface {
	CycleCompleted(ctx context.Context, processed, succeeded, failed int, duration time.Duration)
}

// CycleDriver runs one batch over every pending item.
type CycleDriver struct {
	orch        ItemProcessor
	source      pipeline.Source
	transformer pipeline.Transformer
	transmitter pipeline.Transmitter
	notifier    pipeline.Notifier
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewCycleDriver wires a driver. recorder may be nil.
func NewCycleDriver(orch ItemProcessor, source pipeline.Source, transformer pipeline.Transformer, transmitter pipeline.Transmitter, notifier pipeline.Notifier, recorder Recorder, logger *slog.Logger) *CycleDriver {
	if notifier == nil {
		notifier = pipeline.NopNotifier{}
	}
	return &CycleDriver{
		orch:        orch,
		source:      source,
		transformer: transformer,
		transmitter: transmitter,
		notifier:    notifier,
		recorder:    recorder,
		logger:      logging.NewComponentLogger(logger, "cycle"),
		now:         time.Now,
	}
}

// RunCycle probes the destination, processes pending items one at a time and
// runs old-file cleanup. The returned stats are always finalized and logged,
// including when the cycle aborts. An aborted cycle skips cleanup.
func (d *CycleDriver) RunCycle(ctx context.Context) (stats CycleStats) {
	stats = CycleStats{ID: uuid.NewString(), StartedAt: d.now()}
	ctx = services.WithRequestID(ctx, stats.ID)
	logger := d.logger.With(logging.String("cycle_id", stats.ID))

	defer func() {
		if r := recover(); r != nil {
			stats.Aborted = fmt.Sprintf("panic: %v", r)
			logger.Error("cycle panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "cycle_panic"),
				logging.String(logging.FieldErrorHint, "report this as a bug with the log file attached"),
			)
			d.notifier.SystemError(ctx, "cycle aborted: "+stats.Aborted)
		}
		stats.FinishedAt = d.now()
		d.finalize(ctx, logger, stats)
	}()

	logger.Info("cycle started", logging.String(logging.FieldEventType, "cycle_start"))

	if !d.transmitter.Probe(ctx) {
		stats.Aborted = "destination unreachable"
		logging.ErrorWithContext(logger, "connectivity probe failed; cycle aborted", "cycle_connectivity_failed",
			logging.String(logging.FieldErrorHint, "check destination.url and network reachability"),
			logging.Alert("connectivity"),
		)
		d.notifier.SystemError(ctx, "destination unreachable; cycle aborted")
		return stats
	}

	pending, err := d.source.ListPending(ctx)
	if err != nil {
		stats.Aborted = "list pending failed: " + err.Error()
		logging.ErrorWithContext(logger, "listing pending items failed; cycle aborted", "cycle_list_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check inbox.monitor_dir access"),
		)
		d.notifier.SystemError(ctx, stats.Aborted)
		return stats
	}
	stats.Pending = len(pending)
	if len(pending) == 0 {
		logger.Info("no pending items")
	}

	for idx, item := range pending {
		logger.Info("processing item",
			logging.Int("index", idx+1),
			logging.Int("pending", len(pending)),
			logging.String(logging.FieldItemID, item.ID),
			logging.String("name", item.Name),
		)
		out := d.orch.Process(ctx, item)
		if out.Skipped {
			continue
		}
		stats.Processed++
		if out.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
	}

	d.CleanupOld(ctx)
	return stats
}

// CleanupOld prunes old downloads, work directories and ledger history.
// Failures are logged and never abort the caller.
func (d *CycleDriver) CleanupOld(ctx context.Context) {
	ctx = services.WithStage(ctx, StageCleanup)
	logger := logging.WithContext(ctx, d.logger)
	warn := func(what string, err error) {
		logging.WarnWithContext(logger, what+" failed", "old_file_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions under paths.work_dir"),
			logging.String(logging.FieldImpact, "old files remain on disk"),
		)
	}
	if d.source != nil {
		if err := d.source.CleanupOld(ctx); err != nil {
			warn("download cleanup", err)
		}
	}
	if d.transformer != nil {
		if err := d.transformer.CleanupOld(ctx); err != nil {
			warn("processing cleanup", err)
		}
	}
	if d.recorder != nil {
		if err := d.recorder.PruneExpired(ctx); err != nil {
			warn("ledger prune", err)
		}
	}
}

func (d *CycleDriver) finalize(ctx context.Context, logger *slog.Logger, stats CycleStats) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "cycle_complete"),
		logging.Duration("duration", stats.Duration()),
		logging.Int("pending", stats.Pending),
		logging.Int("processed", stats.Processed),
		logging.Int("successful", stats.Successful),
		logging.Int("failed", stats.Failed),
	}
	if stats.Processed > 0 {
		attrs = append(attrs, logging.String("success_rate", fmt.Sprintf("%.1f%%", stats.SuccessRate())))
	}
	if stats.Aborted != "" {
		attrs = append(attrs, logging.String("aborted", stats.Aborted))
	}
	logger.Info("cycle finished", logging.Args(attrs...)...)

	if stats.Processed > 0 {
		if cn, ok := d.notifier.(cycleNotifier); ok {
			cn.CycleCompleted(ctx, stats.Processed, stats.Successful, stats.Failed, stats.Duration())
		}
	}
	if d.recorder != nil {
		if err := d.recorder.RecordCycle(context.WithoutCancel(ctx), stats); err != nil {
			logging.WarnWithContext(logger, "ledger write failed", "ledger_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ledger.path permissions and disk space"),
				logging.String(logging.FieldImpact, "history is missing this cycle"),
			)
		}
	}
}
