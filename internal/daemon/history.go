package daemon

import (
	"context"
	"time"

	"ferry/internal/ledger"
	"ferry/internal/workflow"
)

// History records outcomes and cycles in the ledger.
type History struct {
	store     *ledger.Store
	retention time.Duration
	now       func() time.Time
}

var _ workflow.Recorder = (*History)(nil)

// NewHistory wraps store. retentionDays <= 0 keeps rows forever.
func NewHistory(store *ledger.Store, retentionDays int) *History {
	return &History{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// RecordOutcome appends one finished item.
func (h *History) RecordOutcome(ctx context.Context, out workflow.Outcome) error {
	status := ledger.StatusSuccess
	if out.Failed() {
		status = ledger.StatusFailure
	}
	return h.store.RecordOutcome(ctx, ledger.Entry{
		ItemID:        out.Item.ID,
		Name:          out.Item.Label(),
		Trigger:       out.Trigger,
		CorrelationID: out.CorrelationID,
		Status:        status,
		FailureKind:   string(out.Kind),
		Reason:        out.Reason,
		Attempts:      out.Attempts,
		Total:         out.Transmit.Total,
		Successful:    out.Transmit.Successful,
		Failed:        out.Transmit.Failed,
		Warnings:      out.Warnings,
		StartedAt:     out.StartedAt,
		FinishedAt:    out.FinishedAt,
	})
}

// RecordCycle appends one finished polling cycle.
func (h *History) RecordCycle(ctx context.Context, stats workflow.CycleStats) error {
	return h.store.RecordCycle(ctx, ledger.Cycle{
		ID:         stats.ID,
		StartedAt:  stats.StartedAt,
		FinishedAt: stats.FinishedAt,
		Pending:    stats.Pending,
		Processed:  stats.Processed,
		Succeeded:  stats.Successful,
		Failed:     stats.Failed,
		Aborted:    stats.Aborted,
	})
}

// PruneExpired drops rows older than the retention window.
func (h *History) PruneExpired(ctx context.Context) error {
	if h.retention <= 0 {
		return nil
	}
	_, err := h.store.Prune(ctx, h.now().Add(-h.retention))
	return err
}
