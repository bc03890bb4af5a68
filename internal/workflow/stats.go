package workflow

import (
	"sync"
	"time"
)

// LifetimeStats accumulates process-wide counters across both trigger paths.
// All methods are safe for concurrent use; counters never decrease.
type LifetimeStats struct {
	mu         sync.Mutex
	started    time.Time
	processed  int64
	successful int64
	failed     int64
	cycles     int64
	lastCycle  time.Time
	now        func() time.Time
}

// StatsSnapshot is a consistent copy of LifetimeStats.
type StatsSnapshot struct {
	Processed  int64         `json:"total_processed"`
	Successful int64         `json:"total_successful"`
	Failed     int64         `json:"total_failed"`
	Cycles     int64         `json:"cycles"`
	StartedAt  time.Time     `json:"started_at"`
	LastCycle  time.Time     `json:"last_cycle,omitzero"`
	Uptime     time.Duration `json:"-"`
}

// SuccessRate returns the successful percentage, or 0 before any item.
func (s StatsSnapshot) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Processed) * 100
}

// NewLifetimeStats starts the uptime clock.
func NewLifetimeStats() *LifetimeStats {
	return &LifetimeStats{started: time.Now(), now: time.Now}
}

// Record folds one push-dispatched outcome into the totals. Skipped
// outcomes were counted by the run that delivered the item.
func (l *LifetimeStats) Record(out Outcome) {
	if out.Skipped {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed++
	if out.Success {
		l.successful++
	} else {
		l.failed++
	}
}

// AddCycle folds a finished cycle into the totals.
func (l *LifetimeStats) AddCycle(cs CycleStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed += int64(cs.Processed)
	l.successful += int64(cs.Successful)
	l.failed += int64(cs.Failed)
	l.cycles++
	l.lastCycle = cs.FinishedAt
}

// Snapshot returns a consistent copy of the counters.
func (l *LifetimeStats) Snapshot() StatsSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := StatsSnapshot{
		Processed:  l.processed,
		Successful: l.successful,
		Failed:     l.failed,
		Cycles:     l.cycles,
		StartedAt:  l.started,
		LastCycle:  l.lastCycle,
	}
	if !l.started.IsZero() {
		snap.Uptime = l.now().Sub(l.started)
	}
	return snap
}
