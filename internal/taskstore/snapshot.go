package taskstore

import (
	"errors"
	"fmt"
	"time"

	"patentbatch/internal/task"
)

// AsyncSnapshot persists the async engine's requests and the remote task index.
type AsyncSnapshot struct {
	Requests []task.Request    `json:"requests"`
	Tasks    map[string]string `json:"tasks"`
}

// BatchSnapshot persists enough of the batch task to re-attach to the job.
type BatchSnapshot struct {
	BatchID      string           `json:"batchId,omitempty"`
	FileID       string           `json:"fileId,omitempty"`
	OutputFileID string           `json:"outputFileId,omitempty"`
	ErrorFileID  string           `json:"errorFileId,omitempty"`
	Status       task.BatchStatus `json:"status,omitempty"`
}

// Snapshot is the serialized form of a Session.
type Snapshot struct {
	RunID     string        `json:"runId,omitempty"`
	Mode      task.Mode     `json:"mode"`
	Inputs    []task.Input  `json:"inputs"`
	Template  task.Template `json:"template"`
	AsyncTask AsyncSnapshot `json:"asyncTask"`
	BatchTask BatchSnapshot `json:"batchTask"`
	Results   []task.Result `json:"results,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ErrNoSnapshot is returned by stores when no session has been saved.
var ErrNoSnapshot = errors.New("no saved session")

// Validate checks the snapshot is internally consistent enough to resume.
func (s Snapshot) Validate() error {
	if !s.Mode.IsExplicit() {
		return fmt.Errorf("snapshot mode %q is not resumable", s.Mode)
	}
	if len(s.Inputs) == 0 {
		return errors.New("snapshot has no inputs")
	}
	inputs := make(map[string]struct{}, len(s.Inputs))
	for _, in := range s.Inputs {
		inputs[in.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(s.AsyncTask.Requests))
	for _, req := range s.AsyncTask.Requests {
		if _, dup := seen[req.RequestID]; dup {
			return fmt.Errorf("snapshot has duplicate request %s", req.RequestID)
		}
		seen[req.RequestID] = struct{}{}
		if _, ok := inputs[req.InputID]; !ok {
			return fmt.Errorf("request %s references unknown input %s", req.RequestID, req.InputID)
		}
	}
	if s.Mode == task.ModeBatch && s.BatchTask.BatchID == "" {
		return errors.New("batch snapshot has no batch id")
	}
	return nil
}

// Resumable reports whether the snapshot has outstanding remote work.
func (s Snapshot) Resumable() bool {
	switch s.Mode {
	case task.ModeAsync:
		for _, req := range s.AsyncTask.Requests {
			if !req.IsTerminal() {
				return true
			}
		}
		return len(Unsubmitted(s.Inputs, s.AsyncTask.Requests, s.Results)) > 0
	case task.ModeBatch:
		return s.BatchTask.BatchID != "" && !s.BatchTask.Status.IsTerminal()
	default:
		return false
	}
}

// Unsubmitted returns, in load order, the inputs that have neither a request
// nor a result. A run stopped during submission leaves these behind.
func Unsubmitted(inputs []task.Input, requests []task.Request, results []task.Result) []task.Input {
	claimed := make(map[string]struct{}, len(requests)+len(results))
	for _, req := range requests {
		claimed[req.InputID] = struct{}{}
	}
	for _, r := range results {
		if r.InputID != "" {
			claimed[r.InputID] = struct{}{}
		}
	}
	var out []task.Input
	for _, in := range inputs {
		if _, ok := claimed[in.ID]; !ok {
			out = append(out, in)
		}
	}
	return out
}
