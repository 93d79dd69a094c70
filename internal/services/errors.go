package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrSubmission marks a request that never reached the remote queue.
	ErrSubmission = errors.New("submission failed")
	// ErrTransientRemote marks a submitted task the remote service reported as failed.
	ErrTransientRemote = errors.New("remote task failed")
	// ErrParse marks a malformed poll response or batch result line.
	ErrParse = errors.New("parse error")
	// ErrTerminalBatch marks a batch job that ended failed, expired, or cancelled.
	ErrTerminalBatch = errors.New("terminal batch failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short classification label for metrics and log fields.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrTransientRemote):
		return "transient_remote"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrTerminalBatch):
		return "terminal_batch"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "transient"
	}
}

// StopsRun reports whether the error ends an engine run. Per-input failures
// never do; only terminal batch failures and cancellation.
func StopsRun(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTerminalBatch) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
