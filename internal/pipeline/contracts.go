package pipeline

import "context"

// Source is the external inbox items are listed, fetched and acknowledged at.
type Source interface {
	// ListPending returns items that are already fetched and ready to transform.
	ListPending(ctx context.Context) ([]WorkItem, error)
	// Locate resolves a notified item to its current location at the source.
	Locate(ctx context.Context, item WorkItem) (WorkItem, error)
	// Fetch retrieves a located item into local storage.
	Fetch(ctx context.Context, item WorkItem) StageResult
	// Acknowledge marks the item as delivered at the source.
	Acknowledge(ctx context.Context, item WorkItem) error
	// CleanupOld removes local copies older than the retention window.
	CleanupOld(ctx context.Context) error
}

// Settler is implemented by sources that can tell whether an item was
// already delivered by another run, for example a push that finished while
// a poll cycle still held the item.
type Settler interface {
	Settled(ctx context.Context, item WorkItem) (bool, error)
}

// Transformer turns fetched input into artifacts ready for transmission.
type Transformer interface {
	Transform(ctx context.Context, item WorkItem) StageResult
	// Cleanup removes intermediate artifacts produced for item.
	Cleanup(ctx context.Context, item WorkItem) error
	CleanupOld(ctx context.Context) error
}

// Transmitter sends artifacts to the destination.
type Transmitter interface {
	Probe(ctx context.Context) bool
	Transmit(ctx context.Context, artifacts []string) TransmitOutcome
}

// Notifier receives operator-facing failure reports.
type Notifier interface {
	ItemFailed(ctx context.Context, item WorkItem, reason string)
	SystemError(ctx context.Context, reason string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) ItemFailed(context.Context, WorkItem, string) {}

func (NopNotifier) SystemError(context.Context, string) {}
