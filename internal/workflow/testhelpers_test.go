package workflow_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"ferry/internal/pipeline"
	"ferry/internal/workflow"
)

type stubSource struct {
	mu            sync.Mutex
	pending       []pipeline.WorkItem
	listErr       error
	locateErr     error
	fetch         pipeline.StageResult
	ackErr        error
	cleanupOldErr error

	listCalls       atomic.Int32
	locateCalls     atomic.Int32
	fetchCalls      atomic.Int32
	ackCalls        atomic.Int32
	cleanupOldCalls atomic.Int32
	acked           []string
}

func newStubSource(pending ...pipeline.WorkItem) *stubSource {
	return &stubSource{pending: pending, fetch: pipeline.Succeeded("/downloads/item")}
}

func (s *stubSource) ListPending(context.Context) ([]pipeline.WorkItem, error) {
	s.listCalls.Add(1)
	return s.pending, s.listErr
}

func (s *stubSource) Locate(_ context.Context, item pipeline.WorkItem) (pipeline.WorkItem, error) {
	s.locateCalls.Add(1)
	return item, s.locateErr
}

func (s *stubSource) Fetch(context.Context, pipeline.WorkItem) pipeline.StageResult {
	s.fetchCalls.Add(1)
	return s.fetch
}

func (s *stubSource) Acknowledge(_ context.Context, item pipeline.WorkItem) error {
	s.ackCalls.Add(1)
	s.mu.Lock()
	s.acked = append(s.acked, item.Key())
	s.mu.Unlock()
	return s.ackErr
}

func (s *stubSource) CleanupOld(context.Context) error {
	s.cleanupOldCalls.Add(1)
	return s.cleanupOldErr
}

// settlingSource reports an item settled once an item with the same key
// has been acknowledged.
type settlingSource struct {
	*stubSource
	settleErr error
}

func (s *settlingSource) Settled(_ context.Context, item pipeline.WorkItem) (bool, error) {
	if s.settleErr != nil {
		return false, s.settleErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.acked, item.Key()), nil
}

type stubTransformer struct {
	result          pipeline.StageResult
	cleanupErr      error
	panicWith       any
	calls           atomic.Int32
	cleanupCalls    atomic.Int32
	cleanupOldCalls atomic.Int32
}

func newStubTransformer(artifacts ...string) *stubTransformer {
	if len(artifacts) == 0 {
		artifacts = []string{"a.dcm", "b.dcm", "c.dcm", "d.dcm", "e.dcm"}
	}
	return &stubTransformer{result: pipeline.Succeeded(artifacts...)}
}

func (s *stubTransformer) Transform(context.Context, pipeline.WorkItem) pipeline.StageResult {
	s.calls.Add(1)
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	return s.result
}

func (s *stubTransformer) Cleanup(context.Context, pipeline.WorkItem) error {
	s.cleanupCalls.Add(1)
	return s.cleanupErr
}

func (s *stubTransformer) CleanupOld(context.Context) error {
	s.cleanupOldCalls.Add(1)
	return nil
}

// stubTransmitter returns outcomes in order, repeating the last one.
type stubTransmitter struct {
	mu       sync.Mutex
	probe    bool
	outcomes []pipeline.TransmitOutcome
	delay    time.Duration

	calls       atomic.Int32
	probeCalls  atomic.Int32
	active      atomic.Int32
	maxObserved atomic.Int32
}

func newStubTransmitter(outcomes ...pipeline.TransmitOutcome) *stubTransmitter {
	return &stubTransmitter{probe: true, outcomes: outcomes}
}

func allSent(n int) pipeline.TransmitOutcome {
	return pipeline.TransmitOutcome{Total: n, Successful: n}
}

func partial(total, ok int) pipeline.TransmitOutcome {
	refs := make([]string, 0, total-ok)
	for i := ok; i < total; i++ {
		refs = append(refs, "file")
	}
	return pipeline.TransmitOutcome{Total: total, Successful: ok, Failed: total - ok, FailedRefs: refs}
}

func (s *stubTransmitter) Probe(context.Context) bool {
	s.probeCalls.Add(1)
	return s.probe
}

func (s *stubTransmitter) Transmit(ctx context.Context, artifacts []string) pipeline.TransmitOutcome {
	n := s.calls.Add(1)
	cur := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		prev := s.maxObserved.Load()
		if cur <= prev || s.maxObserved.CompareAndSwap(prev, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		return allSent(len(artifacts))
	}
	idx := int(n) - 1
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	return s.outcomes[idx]
}

type stubNotifier struct {
	mu           sync.Mutex
	itemFailures []string
	systemErrors []string
	cycles       int
}

func (s *stubNotifier) ItemFailed(_ context.Context, _ pipeline.WorkItem, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemFailures = append(s.itemFailures, reason)
}

func (s *stubNotifier) SystemError(_ context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemErrors = append(s.systemErrors, reason)
}

func (s *stubNotifier) CycleCompleted(context.Context, int, int, int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
}

func (s *stubNotifier) counts() (items, system, cycles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.itemFailures), len(s.systemErrors), s.cycles
}

type stubRecorder struct {
	mu       sync.Mutex
	outcomes []workflow.Outcome
	cycles   []workflow.CycleStats
	prunes   int
	err      error
}

func (r *stubRecorder) RecordOutcome(_ context.Context, out workflow.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, out)
	return r.err
}

func (r *stubRecorder) RecordCycle(_ context.Context, cs workflow.CycleStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, cs)
	return r.err
}

func (r *stubRecorder) PruneExpired(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prunes++
	return r.err
}

// countingSleep records requested delays without sleeping.
type countingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *countingSleep) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	return nil
}

func (c *countingSleep) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delays)
}

type testFlag struct {
	once    sync.Once
	running atomic.Bool
	done    chan struct{}
}

func newTestFlag() *testFlag {
	f := &testFlag{done: make(chan struct{})}
	f.running.Store(true)
	return f
}

func (f *testFlag) Running() bool { return f.running.Load() }

func (f *testFlag) Done() <-chan struct{} { return f.done }

func (f *testFlag) Stop() {
	f.once.Do(func() {
		f.running.Store(false)
		close(f.done)
	})
}

type harness struct {
	source      *stubSource
	transformer *stubTransformer
	transmitter *stubTransmitter
	notifier    *stubNotifier
	recorder    *stubRecorder
	sleeper     *countingSleep
}

func newHarness(outcomes ...pipeline.TransmitOutcome) *harness {
	return &harness{
		source:      newStubSource(),
		transformer: newStubTransformer(),
		transmitter: newStubTransmitter(outcomes...),
		notifier:    &stubNotifier{},
		recorder:    &stubRecorder{},
		sleeper:     &countingSleep{},
	}
}

func (h *harness) orchestrator(policy workflow.Policy, opts ...workflow.Option) *workflow.Orchestrator {
	opts = append([]workflow.Option{
		workflow.WithSleep(h.sleeper.sleep),
		workflow.WithRecorder(h.recorder),
	}, opts...)
	return workflow.NewOrchestrator(h.source, h.transformer, h.transmitter, h.notifier, policy, nil, opts...)
}

func policyWith(attempts int) workflow.Policy {
	p := workflow.DefaultPolicy()
	p.MaxAttempts = attempts
	p.Delay = 5 * time.Second
	return p
}

var errBoom = errors.New("boom")
