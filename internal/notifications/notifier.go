package notifications

import (
	"context"
	"log/slog"
	"time"

	"ferry/internal/logging"
	"ferry/internal/pipeline"
	"ferry/internal/services"
)

// Notifier adapts a Service to the workflow's failure-reporting contract.
// Delivery errors are logged and never returned to the caller.
type Notifier struct {
	svc    Service
	logger *slog.Logger
}

// NewNotifier wraps svc. A nil svc publishes nothing.
func NewNotifier(svc Service, logger *slog.Logger) *Notifier {
	if svc == nil {
		svc = noopService{}
	}
	return &Notifier{svc: svc, logger: logging.NewComponentLogger(logger, "notifications")}
}

// ItemFailed reports that an item was abandoned at the stage stamped on ctx.
func (n *Notifier) ItemFailed(ctx context.Context, item pipeline.WorkItem, reason string) {
	stage, _ := services.StageFromContext(ctx)
	n.publish(ctx, EventItemFailed, Payload{
		"item":       item.Label(),
		"identifier": item.ID,
		"stage":      stage,
		"reason":     reason,
	})
}

// SystemError reports a failure that affects a whole cycle or dispatch.
func (n *Notifier) SystemError(ctx context.Context, reason string) {
	n.publish(ctx, EventSystemError, Payload{"reason": reason})
}

// CycleCompleted reports a finished polling cycle.
func (n *Notifier) CycleCompleted(ctx context.Context, processed, succeeded, failed int, duration time.Duration) {
	n.publish(ctx, EventCycleCompleted, Payload{
		"processed": processed,
		"succeeded": succeeded,
		"failed":    failed,
		"duration":  duration,
	})
}

func (n *Notifier) publish(ctx context.Context, event Event, payload Payload) {
	if err := n.svc.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, n.logger), "notification delivery failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
			logging.String(logging.FieldImpact, "operator was not alerted"),
		)
	}
}

var _ pipeline.Notifier = (*Notifier)(nil)
