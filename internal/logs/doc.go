// Package logs reads Ferry's run logs for the CLI.
//
// Last returns the final lines of a file with bounded memory; Follow streams
// lines appended after an offset and re-resolves the ferry.log pointer so a
// new run's log is picked up without restarting the viewer.
package logs
