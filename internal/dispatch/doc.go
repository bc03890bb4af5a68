// Package dispatch runs push-triggered work items on a bounded worker pool.
//
// Submit validates nothing beyond the pool state: it enqueues one item and
// returns a correlation id immediately. When the queue is full the configured
// overflow policy either rejects the item (ErrQueueFull) or blocks the caller
// for up to webhook.block_timeout. Workers hand each item to the orchestrator's
// push path and fold the outcome into the shared LifetimeStats. Dispatches are
// not cancelled by shutdown; Close stops intake and drains what was accepted.
package dispatch
