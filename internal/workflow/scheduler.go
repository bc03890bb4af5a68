package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ferry/internal/logging"
)

// RunningFlag is the cooperative stop signal shared with the lifecycle controller.
type RunningFlag interface {
	Running() bool
	// Done is closed when Running turns false.
	Done() <-chan struct{}
}

// CycleRunner runs one polling cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) CycleStats
}

// SchedulerSummary describes a finished Scheduler run.
type SchedulerSummary struct {
	Cycles   int
	Overruns int
	Runtime  time.Duration
	Totals   StatsSnapshot
}

// Scheduler repeats cycles at a fixed interval until the running flag drops.
type Scheduler struct {
	driver   CycleRunner
	stats    *LifetimeStats
	running  RunningFlag
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler builds a scheduler. A nil stats gets a private LifetimeStats.
func NewScheduler(driver CycleRunner, stats *LifetimeStats, running RunningFlag, interval time.Duration, logger *slog.Logger) *Scheduler {
	if stats == nil {
		stats = NewLifetimeStats()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		driver:   driver,
		stats:    stats,
		running:  running,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		now:      time.Now,
	}
}

// Run loops Idle -> Running(cycle) -> Sleeping until the running flag is
// cleared or ctx ends. An in-flight cycle always completes; the wait between
// cycles ends as soon as the flag drops.
func (s *Scheduler) Run(ctx context.Context) SchedulerSummary {
	start := s.now()
	var summary SchedulerSummary

	s.logger.Info("continuous mode started",
		logging.String(logging.FieldEventType, "scheduler_start"),
		logging.Duration("interval", s.interval),
	)

	for s.active(ctx) {
		summary.Cycles++
		cycleStart := s.now()
		s.logger.Info("starting check cycle", logging.Int("cycle", summary.Cycles))

		stats := s.driver.RunCycle(ctx)
		s.stats.AddCycle(stats)
		if stats.Processed > 0 {
			s.logger.Info("cycle processed items",
				logging.Int("processed", stats.Processed),
				logging.Int("successful", stats.Successful),
				logging.Int("failed", stats.Failed),
			)
		}

		if !s.active(ctx) {
			break
		}

		elapsed := s.now().Sub(cycleStart)
		if elapsed >= s.interval {
			summary.Overruns++
			logging.WarnWithContext(s.logger, "cycle exceeded interval; starting next cycle immediately", "cycle_overrun",
				logging.Duration("elapsed", elapsed),
				logging.Duration("interval", s.interval),
				logging.String(logging.FieldErrorHint, "raise workflow.poll_interval or reduce destination latency"),
				logging.String(logging.FieldImpact, "no idle time between cycles"),
			)
			continue
		}

		remaining := s.interval - elapsed
		s.logger.Info("cycle complete; waiting",
			logging.Duration("elapsed", elapsed),
			logging.String("next_check", s.now().Add(remaining).Format("15:04:05")),
		)
		if !s.wait(ctx, remaining) {
			break
		}
	}

	summary.Runtime = s.now().Sub(start)
	summary.Totals = s.stats.Snapshot()
	s.logSummary(summary)
	return summary
}

func (s *Scheduler) active(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return s.running == nil || s.running.Running()
}

// wait blocks for d and reports false when a stop arrived first.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	var done <-chan struct{}
	if s.running != nil {
		done = s.running.Done()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) logSummary(summary SchedulerSummary) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "scheduler_summary"),
		logging.Duration("runtime", summary.Runtime),
		logging.Int("cycles", summary.Cycles),
		logging.Int("overruns", summary.Overruns),
		logging.Int64("total_processed", summary.Totals.Processed),
		logging.Int64("total_successful", summary.Totals.Successful),
		logging.Int64("total_failed", summary.Totals.Failed),
	}
	if summary.Totals.Processed > 0 {
		attrs = append(attrs, logging.String("success_rate", fmt.Sprintf("%.1f%%", summary.Totals.SuccessRate())))
	}
	s.logger.Info("continuous mode stopped", logging.Args(attrs...)...)
}
