// Package notifications delivers workflow events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Notifier adapts the
// service to the pipeline failure contract so the engine never sees delivery
// errors.
package notifications
