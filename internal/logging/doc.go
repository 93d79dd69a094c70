// Package logging assembles structured slog loggers and formatting helpers used
// across patentbatch.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code automatically
// tags log lines with run IDs, execution modes, and request IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
