// Package preflight provides readiness checks for the filesystem paths and
// the destination Ferry depends on.
//
// These checks run in two contexts:
//   - Long-running modes call RunAll once at startup and log every failure
//     so a misconfigured deployment is visible before the first cycle.
//   - The CLI "ferry status" and "ferry check" commands render the results.
//
// Optional features (webhook auth, notifications, ledger) are only checked
// when enabled.
package preflight
