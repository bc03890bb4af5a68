// Package daemon coordinates the Ferry process and its collaborators.
//
// It wires configuration, the transfer ledger, the inbox source, the
// transformer, the uploader and notifications into the workflow engine, and
// exposes the run modes the CLI selects: a single cycle, continuous polling,
// push serving (optionally alongside polling), connectivity testing,
// download-only and cleanup-only. Long-running modes hold a flock-based lock
// and a pid file under the log directory so only one instance works a given
// inbox at a time.
//
// Keep orchestration logic in the workflow package; the daemon focuses on
// construction, startup, shutdown and draining.
package daemon
