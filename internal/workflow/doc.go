// Package workflow owns the active session and coordinates one run at a time.
//
// The Manager loads inputs and a template, asks the router for a mode, and
// drives the async or batch engine on a background goroutine. It checkpoints
// the session (plus collected results) to the configured snapshot store after
// every engine step so an interrupted run can be resumed, and exposes
// read-only status and report views for the CLI.
package workflow
