package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"ferry/internal/logging"
	"ferry/internal/pipeline"
	"ferry/internal/services"
)

const maxListedFailures = 3

// Recorder persists finished outcomes and cycles. Errors are logged by the
// caller and never change an outcome.
type Recorder interface {
	RecordOutcome(ctx context.Context, outcome Outcome) error
	RecordCycle(ctx context.Context, stats CycleStats) error
	PruneExpired(ctx context.Context) error
}

// Orchestrator sequences the pipeline stages for a single WorkItem.
type Orchestrator struct {
	source      pipeline.Source
	transformer pipeline.Transformer
	transmitter pipeline.Transmitter
	notifier    pipeline.Notifier
	policy      Policy
	logger      *slog.Logger
	recorder    Recorder
	guard       *keyedMutex
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists every outcome.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithInFlightGuard serializes runs of the same source record across trigger
// paths. Under the guard, items the source reports as settled are skipped.
func WithInFlightGuard() Option {
	return func(o *Orchestrator) { o.guard = newKeyedMutex() }
}

// WithSleep replaces the retry delay implementation.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithClock replaces the time source used for outcome timestamps.
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// NewOrchestrator wires the stage collaborators. A nil notifier discards
// notifications and an invalid policy falls back to DefaultPolicy.
func NewOrchestrator(source pipeline.Source, transformer pipeline.Transformer, transmitter pipeline.Transmitter, notifier pipeline.Notifier, policy Policy, logger *slog.Logger, opts ...Option) *Orchestrator {
	if notifier == nil {
		notifier = pipeline.NopNotifier{}
	}
	if policy.Validate() != nil {
		policy = DefaultPolicy()
	}
	o := &Orchestrator{
		source:      source,
		transformer: transformer,
		transmitter: transmitter,
		notifier:    notifier,
		policy:      policy,
		logger:      logging.NewComponentLogger(logger, "workflow"),
		sleep:       sleepContext,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Policy returns the retry policy in effect.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Process runs an item reported by the source's pending list. The item is
// already fetched, so processing starts at transform.
func (o *Orchestrator) Process(ctx context.Context, item pipeline.WorkItem) Outcome {
	return o.run(ctx, item, services.TriggerPoll, false)
}

// ProcessNotified runs an item named by a push notification: the destination
// is probed, then the item is located and fetched before the shared stages.
func (o *Orchestrator) ProcessNotified(ctx context.Context, item pipeline.WorkItem) Outcome {
	return o.run(ctx, item, services.TriggerPush, true)
}

func (o *Orchestrator) run(ctx context.Context, item pipeline.WorkItem, trigger string, notified bool) (out Outcome) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = services.WithRequestID(ctx, requestID)
	}
	ctx = services.WithTrigger(services.WithItemID(ctx, item.ID), trigger)

	out = Outcome{
		Item:          item,
		Trigger:       trigger,
		CorrelationID: requestID,
		StartedAt:     o.now(),
	}

	logger := logging.WithContext(ctx, o.logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("item processing panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "item_panic"),
				logging.String(logging.FieldErrorHint, "report this as a bug with the log file attached"),
			)
			out = o.fail(ctx, out, FailureInternal, "internal error", fmt.Sprint(r), true)
		}
		out.FinishedAt = o.now()
		o.finish(ctx, logger, out)
	}()

	logger.Info("item started",
		logging.String(logging.FieldEventType, "item_start"),
		logging.String("name", item.Name),
	)

	if notified {
		var stop bool
		if item, out, stop = o.locate(ctx, item, out); stop {
			return out
		}
		out.Item = item
	}

	if o.guard != nil {
		release := o.guard.lock(item.Key())
		defer release()
		if o.settled(ctx, item) {
			out.Success = true
			out.Skipped = true
			logger.Info("item already delivered by another run; skipped",
				logging.String(logging.FieldEventType, "item_skipped"),
				logging.String("key", item.Key()),
			)
			return out
		}
	}

	if notified {
		var stop bool
		if item, out, stop = o.fetch(ctx, item, out); stop {
			return out
		}
		out.Item = item
	}

	artifacts, out, stop := o.transform(ctx, item, out)
	if stop {
		return out
	}

	if out, stop = o.transmit(ctx, artifacts, out); stop {
		return out
	}

	out = o.acknowledge(ctx, item, out)
	out = o.cleanup(ctx, item, out)
	out.Success = true
	return out
}

// locate probes the destination, then resolves a notified item at the source.
func (o *Orchestrator) locate(ctx context.Context, item pipeline.WorkItem, out Outcome) (pipeline.WorkItem, Outcome, bool) {
	if !o.transmitter.Probe(ctx) {
		out = o.fail(ctx, out, FailureConnectivity, "destination unreachable", "connectivity probe failed", false)
		o.notifier.SystemError(ctx, fmt.Sprintf("destination unreachable while dispatching %s", item.Label()))
		return item, out, true
	}

	locateCtx := services.WithStage(ctx, StageLocate)
	located, err := o.source.Locate(locateCtx, item)
	if err != nil {
		return item, o.failWithCause(locateCtx, out, FailureFetch, "fetch failed", err), true
	}
	return located, out, false
}

func (o *Orchestrator) fetch(ctx context.Context, located pipeline.WorkItem, out Outcome) (pipeline.WorkItem, Outcome, bool) {
	fetchCtx := services.WithStage(ctx, StageFetch)
	res := o.source.Fetch(fetchCtx, located)
	if !res.Success {
		return located, o.fail(fetchCtx, out, FailureFetch, "fetch failed", stageDetail(res, "fetch reported failure"), true), true
	}
	if len(res.Artifacts) > 0 {
		located.Locator = res.Artifacts[0]
	}
	logging.WithContext(fetchCtx, o.logger).Info("item fetched",
		logging.String(logging.FieldEventType, "item_fetched"),
		logging.String("locator", located.Locator),
	)
	return located, out, false
}

// settled asks the source whether another run already delivered item. Lookup
// errors are logged and the item is processed.
func (o *Orchestrator) settled(ctx context.Context, item pipeline.WorkItem) bool {
	settler, ok := o.source.(pipeline.Settler)
	if !ok {
		return false
	}
	done, err := settler.Settled(ctx, item)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "delivery check failed; processing item", "settled_check_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ledger.path and inbox.monitor_dir access"),
			logging.String(logging.FieldImpact, "item may be sent twice"),
		)
		return false
	}
	return done
}

func (o *Orchestrator) transform(ctx context.Context, item pipeline.WorkItem, out Outcome) ([]string, Outcome, bool) {
	stageCtx := services.WithStage(ctx, StageTransform)
	res := o.transformer.Transform(stageCtx, item)
	if !res.Success {
		return nil, o.fail(stageCtx, out, FailureTransform, "transform failed", stageDetail(res, "transform reported failure"), true), true
	}
	if len(res.Artifacts) == 0 {
		return nil, o.fail(stageCtx, out, FailureTransform, "no files available to send", "transform produced no artifacts", true), true
	}
	logging.WithContext(stageCtx, o.logger).Info("item transformed",
		logging.String(logging.FieldEventType, "item_transformed"),
		logging.Int("artifacts", len(res.Artifacts)),
	)
	return res.Artifacts, out, false
}

func (o *Orchestrator) transmit(ctx context.Context, artifacts []string, out Outcome) (Outcome, bool) {
	stageCtx := services.WithStage(ctx, StageTransmit)
	logger := logging.WithContext(stageCtx, o.logger)
	maxAttempts := o.policy.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		logger.Info("sending files",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", maxAttempts),
			logging.Int("files", len(artifacts)),
		)
		result := o.transmitter.Transmit(stageCtx, artifacts)
		out.Attempts = attempt
		out.Transmit = result

		if o.policy.Satisfied(result) {
			if result.Successful == result.Total {
				logger.Info("all files sent",
					logging.String(logging.FieldEventType, "transmit_complete"),
					logging.Int("files", result.Total),
				)
			} else {
				logging.WarnWithContext(logger, "partial send accepted", "transmit_partial",
					logging.Int("successful", result.Successful),
					logging.Int("failed", result.Failed),
					logging.Int("total", result.Total),
					logging.Float64("ratio", result.Ratio()),
					logging.String("failed_files", summarizeRefs(result.FailedRefs)),
					logging.String(logging.FieldErrorHint, "inspect the destination for the listed files"),
					logging.String(logging.FieldImpact, "some files of the item were not delivered"),
				)
			}
			return out, false
		}

		logging.WarnWithContext(logger, "send attempt unsatisfied", "transmit_attempt_failed",
			logging.Int("attempt", attempt),
			logging.Int("successful", result.Successful),
			logging.Int("failed", result.Failed),
			logging.Int("total", result.Total),
			logging.String("failed_files", summarizeRefs(result.FailedRefs)),
			logging.String(logging.FieldErrorHint, "check destination availability and logs"),
			logging.String(logging.FieldImpact, "item will be retried or abandoned"),
		)

		if attempt < maxAttempts {
			logger.Info("waiting before retry", logging.Duration("delay", o.policy.Delay))
			if err := o.sleep(stageCtx, o.policy.Delay); err != nil {
				return o.fail(stageCtx, out, FailureTransmit, fmt.Sprintf("send failed after %d attempts", attempt), err.Error(), true), true
			}
		}
	}

	return o.fail(stageCtx, out, FailureTransmit, fmt.Sprintf("send failed after %d attempts", maxAttempts),
		fmt.Sprintf("%d of %d files failed", out.Transmit.Failed, out.Transmit.Total), true), true
}

func (o *Orchestrator) acknowledge(ctx context.Context, item pipeline.WorkItem, out Outcome) Outcome {
	stageCtx := services.WithStage(ctx, StageAcknowledge)
	if err := o.source.Acknowledge(stageCtx, item); err != nil {
		logging.WarnWithContext(logging.WithContext(stageCtx, o.logger), "acknowledge failed; transmission already succeeded", "acknowledge_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "mark or remove the source record manually"),
			logging.String(logging.FieldImpact, "item may be picked up again on the next pass"),
		)
		out.Warnings = append(out.Warnings, "acknowledge: "+err.Error())
	}
	return out
}

func (o *Orchestrator) cleanup(ctx context.Context, item pipeline.WorkItem, out Outcome) Outcome {
	stageCtx := services.WithStage(ctx, StageCleanup)
	if err := o.transformer.Cleanup(stageCtx, item); err != nil {
		logging.WarnWithContext(logging.WithContext(stageCtx, o.logger), "cleanup failed", "cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "old-file cleanup will retry later"),
			logging.String(logging.FieldImpact, "intermediate files remain on disk"),
		)
		out.Warnings = append(out.Warnings, "cleanup: "+err.Error())
	}
	return out
}

func (o *Orchestrator) failWithCause(ctx context.Context, out Outcome, kind FailureKind, reason string, cause error) Outcome {
	marker, hint := services.Details(cause)
	logging.WithContext(ctx, o.logger).Debug("failure classified",
		logging.String("error_marker", marker),
		logging.String(logging.FieldErrorHint, hint),
	)
	return o.fail(ctx, out, kind, reason, cause.Error(), true)
}

// fail tags out with a failure, logs it and optionally notifies the operator.
func (o *Orchestrator) fail(ctx context.Context, out Outcome, kind FailureKind, reason, detail string, notify bool) Outcome {
	out.Success = false
	out.Kind = kind
	out.Reason = reason
	out.Detail = detail

	logging.ErrorWithContext(logging.WithContext(ctx, o.logger), "item failed", "item_failed",
		logging.String("failure_kind", string(kind)),
		logging.String("reason", reason),
		logging.String("detail", detail),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
		logging.Alert("item_failure"),
	)
	if notify {
		o.notifier.ItemFailed(ctx, out.Item, reason)
	}
	return out
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, out Outcome) {
	if out.Success {
		logger.Info("item completed",
			logging.String(logging.FieldEventType, "item_complete"),
			logging.Int("attempts", out.Attempts),
			logging.Int("files_sent", out.Transmit.Successful),
			logging.Int("warnings", len(out.Warnings)),
			logging.Duration("duration", out.Duration()),
		)
	}
	if o.recorder == nil || out.Skipped {
		return
	}
	if err := o.recorder.RecordOutcome(context.WithoutCancel(ctx), out); err != nil {
		logging.WarnWithContext(logger, "ledger write failed", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ledger.path permissions and disk space"),
			logging.String(logging.FieldImpact, "history is missing this item"),
		)
	}
}

func failureHint(kind FailureKind) string {
	switch kind {
	case FailureFetch:
		return "confirm the item still exists in the inbox"
	case FailureTransform:
		return "inspect the item contents and inbox.extensions"
	case FailureTransmit:
		return "check destination availability; the item stays at the source"
	case FailureConnectivity:
		return "check destination.url and network reachability"
	default:
		return "report this as a bug with the log file attached"
	}
}

func stageDetail(res pipeline.StageResult, fallback string) string {
	if msg := strings.TrimSpace(res.Error); msg != "" {
		return msg
	}
	return fallback
}

// summarizeRefs lists the first few failed references and counts the rest.
func summarizeRefs(refs []string) string {
	if len(refs) == 0 {
		return ""
	}
	if len(refs) <= maxListedFailures {
		return strings.Join(refs, ", ")
	}
	return fmt.Sprintf("%s ... and %d more", strings.Join(refs[:maxListedFailures], ", "), len(refs)-maxListedFailures)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
