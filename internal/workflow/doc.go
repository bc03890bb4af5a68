// Package workflow is Ferry's orchestration engine.
//
// The Orchestrator runs one work item through the pipeline stages (locate,
// fetch, transform, transmit, acknowledge, cleanup) and applies the retry and
// partial-success Policy around transmit. The CycleDriver processes every
// pending item sequentially after a connectivity probe, and the Scheduler
// repeats cycles at a fixed interval until the running flag drops. Both the
// Scheduler and the push dispatcher fold their results into one shared
// LifetimeStats.
//
// Every stage failure is converted into a tagged Outcome at the Orchestrator
// boundary; nothing raised by a collaborator escapes a single item.
package workflow
