// Package config loads, normalizes, and validates patentbatch configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PATENTBATCH_API_KEY. The Config type centralizes every knob the engines and
// CLI need: remote endpoints, concurrency and poll intervals, the auto-mode
// threshold, the session snapshot backend, and report limits.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical formats, and clear validation errors.
package config
