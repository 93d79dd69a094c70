package task

import (
	"strconv"
	"strings"
	"time"
)

// BatchStatus is the lifecycle state of the batch job.
type BatchStatus string

const (
	BatchIdle       BatchStatus = "idle"
	BatchGenerated  BatchStatus = "generated"
	BatchUploaded   BatchStatus = "uploaded"
	BatchCreated    BatchStatus = "created"
	BatchValidating BatchStatus = "validating"
	BatchQueued     BatchStatus = "queued"
	BatchRunning    BatchStatus = "running"
	BatchInProgress BatchStatus = "in_progress"
	BatchFinalizing BatchStatus = "finalizing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchExpired    BatchStatus = "expired"
	BatchCancelling BatchStatus = "cancelling"
	BatchCancelled  BatchStatus = "cancelled"
)

// ParseBatchStatus normalizes a remote batch status string.
func ParseBatchStatus(value string) BatchStatus {
	return BatchStatus(strings.ToLower(strings.TrimSpace(value)))
}

// IsTerminal reports whether the remote job finished, successfully or not.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the status ends the run without results.
func (s BatchStatus) IsFailure() bool {
	switch s {
	case BatchFailed, BatchExpired, BatchCancelled:
		return true
	default:
		return false
	}
}

// RequestCounts mirrors the per-request counters reported for a batch job.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchTask is the singleton remote job for a batch-mode run.
type BatchTask struct {
	JSONLContent  string        `json:"-"`
	FileID        string        `json:"file_id,omitempty"`
	BatchID       string        `json:"batch_id,omitempty"`
	OutputFileID  string        `json:"output_file_id,omitempty"`
	ErrorFileID   string        `json:"error_file_id,omitempty"`
	ResultContent string        `json:"-"`
	Status        BatchStatus   `json:"status,omitempty"`
	RequestCounts RequestCounts `json:"request_counts"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at,omitempty"`
}

// HasOutstandingJob reports whether a non-terminal remote batch id exists.
func (b BatchTask) HasOutstandingJob() bool {
	return strings.TrimSpace(b.BatchID) != "" && !b.Status.IsTerminal()
}

// CustomID returns the batch custom id for the 0-based input index.
func CustomID(index int) string {
	return "request-" + strconv.Itoa(index+1)
}
