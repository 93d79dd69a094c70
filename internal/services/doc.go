// Package services defines shared utilities consumed by the engines, the
// workflow manager, and the remote completion client.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, execution modes, and request
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures into
//     the run's error taxonomy (submission, transient remote, parse, terminal
//     batch) so engines decide consistently what aborts a run and what is
//     recorded against a single input.
//
// Use these helpers when wiring new remote calls so error handling and
// observability stay uniform across both substrates.
package services
