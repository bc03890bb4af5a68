package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ferry/internal/config"
	"ferry/internal/dispatch"
	"ferry/internal/pipeline"
	"ferry/internal/workflow"
)

type stubProcessor struct {
	mu      sync.Mutex
	seen    map[string]int
	delay   time.Duration
	gate    chan struct{}
	started chan string
	fail    bool
	panics  bool
	// cancelled receives the item id when ctx ends while the gate is held.
	cancelled chan string
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{seen: make(map[string]int)}
}

func (p *stubProcessor) ProcessNotified(ctx context.Context, item pipeline.WorkItem) workflow.Outcome {
	if p.started != nil {
		p.started <- item.ID
	}
	if p.gate != nil {
		if p.cancelled != nil {
			select {
			case <-p.gate:
			case <-ctx.Done():
				p.cancelled <- item.ID
				return workflow.Outcome{Item: item, Kind: workflow.FailureTransmit, Reason: ctx.Err().Error()}
			}
		} else {
			<-p.gate
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.panics {
		panic("processor exploded")
	}
	p.mu.Lock()
	p.seen[item.ID]++
	p.mu.Unlock()
	out := workflow.Outcome{Item: item, Success: !p.fail}
	if p.fail {
		out.Kind = workflow.FailureTransmit
	}
	return out
}

func (p *stubProcessor) counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.seen))
	for k, v := range p.seen {
		out[k] = v
	}
	return out
}

func poolConfig(workers, queueSize int, overflow string, blockSeconds int) *config.Config {
	cfg := config.Default()
	cfg.Webhook.Workers = workers
	cfg.Webhook.QueueSize = queueSize
	cfg.Webhook.Overflow = overflow
	cfg.Webhook.BlockTimeout = blockSeconds
	return &cfg
}

func closePool(t *testing.T, d *dispatch.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestConcurrentDispatchesCompleteExactlyOnce(t *testing.T) {
	proc := newStubProcessor()
	proc.delay = 10 * time.Millisecond
	stats := workflow.NewLifetimeStats()
	d := dispatch.New(proc, stats, poolConfig(8, 64, config.OverflowReject, 0), nil)

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := d.Submit(pipeline.WorkItem{ID: fmt.Sprintf("item-%02d", i), Name: "file.zip"})
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)
	closePool(t, d)

	unique := make(map[string]struct{})
	for id := range ids {
		unique[id] = struct{}{}
	}
	if len(unique) != 50 {
		t.Fatalf("expected 50 distinct correlation ids, got %d", len(unique))
	}
	seen := proc.counts()
	if len(seen) != 50 {
		t.Fatalf("expected 50 items processed, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("item %s processed %d times", id, n)
		}
	}
	snap := stats.Snapshot()
	if snap.Processed != 50 || snap.Successful != 50 || snap.Failed != 0 {
		t.Fatalf("unexpected lifetime stats %+v", snap)
	}
	if status := d.Status(); status.Completed != 50 || status.Accepted != 50 {
		t.Fatalf("unexpected pool status %+v", status)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	proc := newStubProcessor()
	proc.gate = make(chan struct{})
	proc.started = make(chan string, 4)
	d := dispatch.New(proc, nil, poolConfig(1, 1, config.OverflowReject, 0), nil)

	if _, err := d.Submit(pipeline.WorkItem{ID: "running"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-proc.started
	if _, err := d.Submit(pipeline.WorkItem{ID: "queued"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := d.Submit(pipeline.WorkItem{ID: "overflow"}); !errors.Is(err, dispatch.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if status := d.Status(); status.Rejected != 1 || status.Queued != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	close(proc.gate)
	closePool(t, d)
	if seen := proc.counts(); len(seen) != 2 || seen["overflow"] != 0 {
		t.Fatalf("unexpected processed set %v", seen)
	}
}

func TestSubmitBlocksUntilSpaceWithBlockPolicy(t *testing.T) {
	proc := newStubProcessor()
	proc.gate = make(chan struct{})
	proc.started = make(chan string, 4)
	d := dispatch.New(proc, nil, poolConfig(1, 1, config.OverflowBlock, 5), nil)

	if _, err := d.Submit(pipeline.WorkItem{ID: "running"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-proc.started
	if _, err := d.Submit(pipeline.WorkItem{ID: "queued"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(proc.gate)
	}()
	if _, err := d.Submit(pipeline.WorkItem{ID: "waited"}); err != nil {
		t.Fatalf("expected blocked submit to succeed once space frees, got %v", err)
	}
	closePool(t, d)
	if seen := proc.counts(); len(seen) != 3 {
		t.Fatalf("expected 3 processed items, got %v", seen)
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	d := dispatch.New(newStubProcessor(), nil, poolConfig(1, 1, config.OverflowReject, 0), nil)
	closePool(t, d)
	if _, err := d.Submit(pipeline.WorkItem{ID: "late"}); !errors.Is(err, dispatch.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCloseDrainsQueuedItems(t *testing.T) {
	proc := newStubProcessor()
	proc.delay = 5 * time.Millisecond
	d := dispatch.New(proc, nil, poolConfig(1, 10, config.OverflowReject, 0), nil)
	for i := 0; i < 10; i++ {
		if _, err := d.Submit(pipeline.WorkItem{ID: fmt.Sprintf("q%d", i)}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	closePool(t, d)
	if seen := proc.counts(); len(seen) != 10 {
		t.Fatalf("expected all 10 queued items drained, got %d", len(seen))
	}
}

func TestCloseHonoursContext(t *testing.T) {
	proc := newStubProcessor()
	proc.gate = make(chan struct{})
	proc.started = make(chan string, 1)
	d := dispatch.New(proc, nil, poolConfig(1, 1, config.OverflowReject, 0), nil)
	if _, err := d.Submit(pipeline.WorkItem{ID: "stuck"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-proc.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	close(proc.gate)
}

func TestCloseTimeoutCancelsInFlightAndDropsQueued(t *testing.T) {
	proc := newStubProcessor()
	proc.gate = make(chan struct{})
	proc.started = make(chan string, 2)
	proc.cancelled = make(chan string, 2)
	stats := workflow.NewLifetimeStats()
	d := dispatch.New(proc, stats, poolConfig(1, 4, config.OverflowReject, 0), nil)
	for _, id := range []string{"running", "queued"} {
		if _, err := d.Submit(pipeline.WorkItem{ID: id}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	<-proc.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit after cancellation")
	}

	if id := <-proc.cancelled; id != "running" {
		t.Fatalf("expected in-flight item to see cancellation, got %q", id)
	}
	if len(proc.started) != 0 {
		t.Fatal("queued item should be dropped, not processed")
	}
	if snap := stats.Snapshot(); snap.Processed != 1 || snap.Failed != 1 {
		t.Fatalf("expected the cancelled item recorded as failed before Wait returned, got %+v", snap)
	}
}

func TestPanickingProcessorCountsAsFailure(t *testing.T) {
	proc := newStubProcessor()
	proc.panics = true
	stats := workflow.NewLifetimeStats()
	d := dispatch.New(proc, stats, poolConfig(2, 4, config.OverflowReject, 0), nil)
	for i := 0; i < 3; i++ {
		if _, err := d.Submit(pipeline.WorkItem{ID: fmt.Sprintf("p%d", i)}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	closePool(t, d)
	snap := stats.Snapshot()
	if snap.Processed != 3 || snap.Failed != 3 {
		t.Fatalf("expected 3 failed dispatches, got %+v", snap)
	}
}
