// Package config loads, normalizes, and validates Ferry configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FERRY_WEBHOOK_SECRET and FERRY_DESTINATION_PASSWORD. The Config type
// centralizes every knob the scheduler, webhook server and CLI need, so the
// inbox, work directories and destination credentials are discovered in one
// pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
