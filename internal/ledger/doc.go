// Package ledger persists a transfer history in SQLite.
//
// Every finished item (from either trigger path) and every polling cycle is
// appended here, along with the acknowledgement timestamp recorded for each
// source record. The ledger is history only: in-flight work is never resumed
// from it.
package ledger
