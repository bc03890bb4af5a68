package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ferry/internal/pipeline"
	"ferry/internal/testsupport"
	"ferry/internal/workflow"
)

func TestHistoryRecordsAndPrunes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	history := NewHistory(store, 7)
	ctx := context.Background()

	now := time.Now()
	old := now.Add(-10 * 24 * time.Hour)
	outcomes := []workflow.Outcome{
		{Item: pipeline.WorkItem{ID: "old"}, Success: true, StartedAt: old, FinishedAt: old},
		{Item: pipeline.WorkItem{ID: "new"}, Kind: workflow.FailureTransmit, Reason: "send failed after 1 attempts", StartedAt: now, FinishedAt: now},
	}
	for _, out := range outcomes {
		if err := history.RecordOutcome(ctx, out); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if err := history.RecordCycle(ctx, workflow.CycleStats{ID: "c1", StartedAt: old, FinishedAt: old, Processed: 1, Successful: 1}); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Success != 1 || counts.Failure != 1 || counts.Cycles != 1 {
		t.Fatalf("unexpected counts before prune: %+v", counts)
	}

	if err := history.PruneExpired(ctx); err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	counts, err = store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Success != 0 || counts.Failure != 1 || counts.Cycles != 0 {
		t.Fatalf("unexpected counts after prune: %+v", counts)
	}
}

func TestHistoryZeroRetentionKeepsRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	history := NewHistory(store, 0)
	old := time.Now().Add(-365 * 24 * time.Hour)
	if err := history.RecordOutcome(context.Background(), workflow.Outcome{Item: pipeline.WorkItem{ID: "x"}, Success: true, StartedAt: old, FinishedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := history.PruneExpired(context.Background()); err != nil {
		t.Fatal(err)
	}
	counts, err := store.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts.Success != 1 {
		t.Fatalf("expected row kept, got %+v", counts)
	}
}

func TestOpenRunLogLinksCurrentLog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runLog, err := OpenRunLog(cfg)
	if err != nil {
		t.Fatalf("OpenRunLog: %v", err)
	}
	runLog.Logger.Info("hello")
	if err := runLog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	target, err := filepath.EvalSymlinks(filepath.Join(cfg.Paths.LogDir, currentLogName))
	if err != nil {
		t.Fatalf("resolve %s: %v", currentLogName, err)
	}
	want, _ := filepath.EvalSymlinks(runLog.Path)
	if target != want {
		t.Fatalf("%s -> %s, want %s", currentLogName, target, want)
	}
}
