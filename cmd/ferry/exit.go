package main

import (
	"context"
	"errors"

	"ferry/internal/workflow"
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitPartial     = 2
	exitInterrupted = 130
)

// exitError carries a non-zero exit code out of a command. err is nil when
// the command already reported the outcome on stdout.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	switch e.code {
	case exitPartial:
		return "partial success"
	case exitInterrupted:
		return "interrupted"
	default:
		return "failed"
	}
}

func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if code == exitOK {
		return err
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitFailure
}

// cycleExitCode maps a single cycle to 0 (every item succeeded or nothing was
// pending), 1 (aborted or every item failed) or 2 (partial success).
func cycleExitCode(stats workflow.CycleStats) int {
	switch {
	case stats.Aborted != "":
		return exitFailure
	case stats.Failed == 0:
		return exitOK
	case stats.Successful > 0:
		return exitPartial
	default:
		return exitFailure
	}
}
