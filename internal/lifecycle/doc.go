// Package lifecycle owns the process-wide running flag.
//
// A Controller starts in the running state and is stopped exactly once, either
// by a termination signal observed through Watch or by an explicit Stop call.
// The scheduler and the long-running server modes observe the flag
// cooperatively; in-flight work is never interrupted by a stop.
package lifecycle
