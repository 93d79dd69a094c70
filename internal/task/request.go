package task

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an async Request or a Result.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusRetrying,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RemoteStatus is the normalized task status reported by the async substrate.
type RemoteStatus string

const (
	RemoteSuccess    RemoteStatus = "SUCCESS"
	RemoteFailed     RemoteStatus = "FAILED"
	RemoteProcessing RemoteStatus = "PROCESSING"
)

// ParseRemoteStatus normalizes vendor spellings of the task status.
func ParseRemoteStatus(value string) (RemoteStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "SUCCESS", "SUCCEEDED", "COMPLETED":
		return RemoteSuccess, true
	case "FAILED", "FAIL", "ERROR":
		return RemoteFailed, true
	case "PROCESSING", "RUNNING", "PENDING", "QUEUED", "IN_PROGRESS":
		return RemoteProcessing, true
	default:
		return "", false
	}
}

// Request tracks one input through the async substrate.
//
// Fields are exported for snapshot persistence; mutate them only through the
// transition methods.
type Request struct {
	RequestID    string    `json:"request_id"`
	InputID      string    `json:"input_id"`
	RemoteTaskID string    `json:"remote_task_id,omitempty"`
	Status       Status    `json:"status"`
	Retries      int       `json:"retries"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewRequest creates a pending request for the given input.
func NewRequest(requestID, inputID string) Request {
	return Request{
		RequestID: requestID,
		InputID:   inputID,
		Status:    StatusPending,
		UpdatedAt: time.Now().UTC(),
	}
}

// IsTerminal reports whether the request reached completed or failed.
func (r Request) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// NeedsResubmit reports whether the request is waiting for a fresh remote task.
func (r Request) NeedsResubmit() bool {
	return r.Status == StatusRetrying
}

// Submitted records the remote task id assigned by the substrate. A retrying
// request moves back to processing; a fresh request stays pending until its
// first poll.
func (r *Request) Submitted(remoteTaskID string) bool {
	if r.IsTerminal() {
		return false
	}
	r.RemoteTaskID = remoteTaskID
	if r.Status == StatusRetrying {
		r.Status = StatusProcessing
	}
	r.touch()
	return true
}

// Observe applies a remote poll status. It returns true when the request
// changed. Terminal requests are left untouched so repeated application of the
// same poll result is a no-op.
func (r *Request) Observe(remote RemoteStatus, maxRetries int) bool {
	if r.IsTerminal() {
		return false
	}
	switch remote {
	case RemoteSuccess:
		r.Status = StatusCompleted
		r.LastError = ""
	case RemoteFailed:
		if r.Status == StatusRetrying {
			// Already counted; waiting for re-submission.
			return false
		}
		r.Retries++
		if maxRetries <= 0 || r.Retries >= maxRetries {
			r.Status = StatusFailed
		} else {
			r.Status = StatusRetrying
		}
	case RemoteProcessing:
		if r.Status == StatusProcessing {
			return false
		}
		if r.Status == StatusRetrying {
			return false
		}
		r.Status = StatusProcessing
	default:
		return false
	}
	r.touch()
	return true
}

// Fail forces the request into the failed state with a reason.
func (r *Request) Fail(reason string) bool {
	if r.IsTerminal() {
		return false
	}
	r.Status = StatusFailed
	r.LastError = strings.TrimSpace(reason)
	r.touch()
	return true
}

// NoteError records a non-fatal error without changing state.
func (r *Request) NoteError(reason string) {
	if r.IsTerminal() {
		return
	}
	r.LastError = strings.TrimSpace(reason)
	r.touch()
}

func (r *Request) touch() {
	r.UpdatedAt = time.Now().UTC()
}
