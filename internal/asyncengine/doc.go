// Package asyncengine drives a run against the low-latency polling substrate.
//
// Inputs are submitted in chunks bounded by the concurrency gate, then a
// level-triggered poll loop fetches every non-terminal request once per
// interval until all are completed or failed. Network calls run on worker
// goroutines; their outcomes return over a channel and are applied by the
// goroutine that called Run or Resume, which is the only writer of the
// session and the result handler.
package asyncengine
