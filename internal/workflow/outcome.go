package workflow

import (
	"time"

	"ferry/internal/pipeline"
)

// Stage names stamped on contexts and log lines.
const (
	StageLocate      = "locate"
	StageFetch       = "fetch"
	StageTransform   = "transform"
	StageTransmit    = "transmit"
	StageAcknowledge = "acknowledge"
	StageCleanup     = "cleanup"
)

// FailureKind tags which stage an unsuccessful Outcome stopped at.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureFetch        FailureKind = "fetch"
	FailureTransform    FailureKind = "transform"
	FailureTransmit     FailureKind = "transmit"
	FailureConnectivity FailureKind = "connectivity"
	FailureInternal     FailureKind = "internal"
)

// Outcome is the tagged result of processing one WorkItem.
type Outcome struct {
	Item          pipeline.WorkItem
	Success       bool
	Kind          FailureKind
	Reason        string
	Detail        string
	Attempts      int
	Transmit      pipeline.TransmitOutcome
	Warnings      []string
	Trigger       string
	CorrelationID string
	StartedAt     time.Time
	FinishedAt    time.Time
	// Skipped is set when another run had already delivered the item.
	Skipped bool
}

// Duration returns how long the item took.
func (o Outcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.Before(o.StartedAt) {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Failed reports whether the outcome carries a failure.
func (o Outcome) Failed() bool {
	return !o.Success
}
