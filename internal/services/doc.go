// Package services defines shared utilities consumed by the workflow engine
// and the collaborators it drives.
//
// Key responsibilities:
//   - Context helpers that stamp work item IDs, stage names, trigger paths,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so collaborator failures
//     carry a consistent classification and operator hint.
package services
