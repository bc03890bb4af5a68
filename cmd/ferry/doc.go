// Package main hosts the Ferry CLI entrypoint and command graph.
//
// The Cobra-based command tree selects a run mode (single cycle, continuous
// polling, push serving, connectivity test, download-only, cleanup-only),
// renders status and transfer history, and scaffolds configuration. It
// centralizes configuration resolution and logger setup so subcommands can
// focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
