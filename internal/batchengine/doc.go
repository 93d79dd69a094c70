// Package batchengine drives a run against the file-based batch substrate:
// render a JSONL request file, upload it, create one batch job, poll the job
// until it ends, then download and parse the result files.
//
// The batch id is checkpointed as soon as the job exists so an interrupted
// run can re-attach through Recover without submitting the inputs again.
package batchengine
