// Package logging assembles structured slog loggers and formatting helpers used
// across Ferry.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context-aware helpers that tag log lines with work item IDs, stages, trigger
// paths, and correlation IDs. A no-op logger is provided for tests and wiring
// code that cannot fail.
package logging
