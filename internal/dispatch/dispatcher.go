package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/pipeline"
	"ferry/internal/services"
	"ferry/internal/workflow"
)

var (
	// ErrQueueFull is returned when the overflow policy rejects an item.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatcher closed")
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

// Processor runs one notified item through locate, fetch and the shared stages.
type Processor interface {
	ProcessNotified(ctx context.Context, item pipeline.WorkItem) workflow.Outcome
}

// Status is a point-in-time view of the pool.
type Status struct {
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
	Queued    int    `json:"queued"`
	InFlight  int64  `json:"in_flight"`
	Accepted  int64  `json:"accepted"`
	Rejected  int64  `json:"rejected"`
	Completed int64  `json:"completed"`
	Overflow  string `json:"overflow"`
}

type job struct {
	id       string
	item     pipeline.WorkItem
	enqueued time.Time
}

// Dispatcher is the push-path worker pool.
type Dispatcher struct {
	processor    Processor
	stats        *workflow.LifetimeStats
	logger       *slog.Logger
	overflow     string
	blockTimeout time.Duration
	workers      int

	queue  chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	inFlight  atomic.Int64
	accepted  atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
}

// New starts cfg.Webhook.Workers workers draining a queue of
// cfg.Webhook.QueueSize items. A nil stats gets a private LifetimeStats.
func New(processor Processor, stats *workflow.LifetimeStats, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	workers, size := defaultWorkers, defaultQueueSize
	overflow := config.OverflowReject
	var blockTimeout time.Duration
	if cfg != nil {
		if cfg.Webhook.Workers > 0 {
			workers = cfg.Webhook.Workers
		}
		if cfg.Webhook.QueueSize > 0 {
			size = cfg.Webhook.QueueSize
		}
		if strings.EqualFold(cfg.Webhook.Overflow, config.OverflowBlock) {
			overflow = config.OverflowBlock
		}
		blockTimeout = cfg.WebhookBlockTimeout()
	}
	if stats == nil {
		stats = workflow.NewLifetimeStats()
	}

	d := &Dispatcher{
		processor:    processor,
		stats:        stats,
		logger:       logging.NewComponentLogger(logger, "dispatch"),
		overflow:     overflow,
		blockTimeout: blockTimeout,
		workers:      workers,
		queue:        make(chan job, size),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker(i + 1)
	}
	d.logger.Info("dispatch pool started",
		logging.String(logging.FieldEventType, "dispatch_start"),
		logging.Int("workers", workers),
		logging.Int("queue_size", size),
		logging.String("overflow", overflow),
	)
	return d
}

// Submit enqueues item and returns its correlation id. It never waits for
// processing; with the block policy it may wait for queue space.
func (d *Dispatcher) Submit(item pipeline.WorkItem) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", ErrClosed
	}

	j := job{id: uuid.NewString(), item: item, enqueued: time.Now()}
	select {
	case d.queue <- j:
		d.accepted.Add(1)
		return j.id, nil
	default:
	}

	if d.overflow == config.OverflowBlock && d.blockTimeout > 0 {
		timer := time.NewTimer(d.blockTimeout)
		defer timer.Stop()
		select {
		case d.queue <- j:
			d.accepted.Add(1)
			return j.id, nil
		case <-timer.C:
		}
	}

	d.rejected.Add(1)
	logging.WarnWithContext(d.logger, "dispatch queue full; item rejected", "dispatch_queue_full",
		logging.String(logging.FieldItemID, item.ID),
		logging.String("overflow", d.overflow),
		logging.Int("queue_size", cap(d.queue)),
		logging.String(logging.FieldErrorHint, "raise webhook.queue_size or webhook.workers"),
		logging.String(logging.FieldImpact, "the sender must retry the notification"),
	)
	return "", ErrQueueFull
}

// Close stops intake and waits for queued and in-flight items to finish or
// for ctx to end. When ctx ends first, in-flight items are cancelled and
// queued ones dropped; call Wait to block until the workers exit.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		d.logger.Info("dispatch pool drained",
			logging.Int64("completed", d.completed.Load()),
			logging.Int64("rejected", d.rejected.Load()),
		)
		return nil
	case <-ctx.Done():
		d.cancel()
		return fmt.Errorf("drain dispatch queue: %w", ctx.Err())
	}
}

// Wait blocks until every worker has exited. Only meaningful after Close.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Status reports queue depth and counters.
func (d *Dispatcher) Status() Status {
	return Status{
		Workers:   d.workers,
		QueueSize: cap(d.queue),
		Queued:    len(d.queue),
		InFlight:  d.inFlight.Load(),
		Accepted:  d.accepted.Load(),
		Rejected:  d.rejected.Load(),
		Completed: d.completed.Load(),
		Overflow:  d.overflow,
	}
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for j := range d.queue {
		if d.ctx.Err() != nil {
			logging.WarnWithContext(d.logger, "queued item dropped at shutdown", "dispatch_dropped",
				logging.String(logging.FieldItemID, j.item.ID),
				logging.String(logging.FieldImpact, "item remains at the source"),
			)
			continue
		}
		d.run(n, j)
	}
}

func (d *Dispatcher) run(worker int, j job) {
	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	defer d.completed.Add(1)

	ctx := services.WithRequestID(d.ctx, j.id)
	ctx = services.WithTrigger(ctx, services.TriggerPush)
	logger := logging.WithContext(services.WithItemID(ctx, j.item.ID), d.logger).With(logging.Int("worker", worker))
	logger.Debug("dispatch started", logging.Duration("queued_for", time.Since(j.enqueued)))

	out := d.process(ctx, logger, j)
	out.CorrelationID = j.id
	d.stats.Record(out)

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dispatch_complete"),
		logging.Bool("success", out.Success),
		logging.Bool("skipped", out.Skipped),
		logging.Duration("duration", out.Duration()),
	}
	if !out.Success {
		attrs = append(attrs,
			logging.String("failure_kind", string(out.Kind)),
			logging.String("reason", out.Reason),
		)
	}
	logger.Info("dispatch finished", logging.Args(attrs...)...)
}

// process shields the worker from a panicking processor.
func (d *Dispatcher) process(ctx context.Context, logger *slog.Logger, j job) (out workflow.Outcome) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "dispatch_panic"),
				logging.String(logging.FieldErrorHint, "report this as a bug with the log file attached"),
			)
			out = workflow.Outcome{
				Item:       j.item,
				Kind:       workflow.FailureInternal,
				Reason:     fmt.Sprintf("panic: %v", r),
				Trigger:    services.TriggerPush,
				StartedAt:  started,
				FinishedAt: time.Now(),
			}
		}
	}()
	if d.processor == nil {
		return workflow.Outcome{
			Item:       j.item,
			Kind:       workflow.FailureInternal,
			Reason:     "no processor configured",
			Trigger:    services.TriggerPush,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
	}
	return d.processor.ProcessNotified(ctx, j.item)
}
