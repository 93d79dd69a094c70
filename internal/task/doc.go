// Package task defines the shared task-state model the router, engines, and
// output handler operate on.
//
// Inputs and templates are created by the caller and are read-only during a
// run. Requests (async mode) and the BatchTask (batch mode) are created when
// execution starts and are mutated only by their owning engine. Request status
// changes go through the transition methods on Request so that terminal states
// never regress and the retry counter only grows.
package task
