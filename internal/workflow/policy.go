package workflow

import (
	"fmt"
	"time"

	"ferry/internal/config"
	"ferry/internal/pipeline"
)

// DefaultSuccessRatio is the partial-success threshold a transmit attempt must reach.
const DefaultSuccessRatio = 0.80

// ratioEpsilon absorbs float rounding so an exact 4/5 compares equal to 0.80.
const ratioEpsilon = 1e-9

// Policy bounds transmit retries and decides when a send is satisfied.
type Policy struct {
	MaxAttempts  int
	Delay        time.Duration
	SuccessRatio float64
}

// DefaultPolicy returns a single attempt with the standard ratio.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  1,
		Delay:        30 * time.Second,
		SuccessRatio: DefaultSuccessRatio,
	}
}

// PolicyFromConfig builds the policy described by the [workflow] section.
func PolicyFromConfig(cfg *config.Config) Policy {
	if cfg == nil {
		return DefaultPolicy()
	}
	return Policy{
		MaxAttempts:  cfg.Workflow.MaxRetryAttempts,
		Delay:        cfg.RetryDelay(),
		SuccessRatio: cfg.Workflow.SuccessRatio,
	}
}

// Validate reports whether the policy can drive a retry loop.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", p.Delay)
	}
	if p.SuccessRatio <= 0 || p.SuccessRatio > 1 {
		return fmt.Errorf("success ratio must be in (0, 1], got %v", p.SuccessRatio)
	}
	return nil
}

// Satisfied reports whether a transmit attempt counts as a successful send:
// everything went through, or a non-empty batch reached the success ratio.
// An empty batch is trivially complete; the Orchestrator never transmits one.
func (p Policy) Satisfied(o pipeline.TransmitOutcome) bool {
	if o.Successful == o.Total {
		return true
	}
	if o.Total <= 0 {
		return false
	}
	ratio := p.SuccessRatio
	if ratio <= 0 {
		ratio = DefaultSuccessRatio
	}
	return o.Ratio()+ratioEpsilon >= ratio
}
