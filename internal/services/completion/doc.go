// Package completion talks to the remote completion service on behalf of both
// execution engines.
//
// The async substrate is a submit/retrieve pair polled per task. The batch
// substrate uploads a JSONL file, creates a job, checks its status, and
// downloads result files. Responses are decoded into typed envelopes; content
// is located through an ordered list of accepted shapes so every tolerated
// variant is enumerated in one place. Requests that fail with 408, 429, or 5xx
// are retried with capped exponential backoff before an error is returned.
package completion
