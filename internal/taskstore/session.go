package taskstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"patentbatch/internal/services"
	"patentbatch/internal/task"
)

// Session is the single active run. It is safe for concurrent use, but only
// the engine driving the run should mutate it.
type Session struct {
	mu sync.RWMutex

	runID      string
	mode       task.Mode
	inputs     []task.Input
	inputIndex map[string]int
	template   task.Template

	requests map[string]task.Request
	byRemote map[string]string
	batch    task.BatchTask

	generation uint64
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		mode:       task.ModeAuto,
		inputIndex: map[string]int{},
		requests:   map[string]task.Request{},
		byRemote:   map[string]string{},
	}
}

// Load replaces the inputs and template and clears all run state.
func (s *Session) Load(inputs []task.Input, tpl task.Template) error {
	if len(inputs) == 0 {
		return services.Wrap(services.ErrValidation, "taskstore", "load", "no inputs", nil)
	}
	if strings.TrimSpace(tpl.Model) == "" {
		return services.Wrap(services.ErrValidation, "taskstore", "load", "template model is required", nil)
	}
	index := make(map[string]int, len(inputs))
	for i, in := range inputs {
		id := strings.TrimSpace(in.ID)
		if id == "" {
			return services.Wrap(services.ErrValidation, "taskstore", "load", fmt.Sprintf("input %d has no id", i+1), nil)
		}
		if _, dup := index[id]; dup {
			return services.Wrap(services.ErrValidation, "taskstore", "load", "duplicate input id "+id, nil)
		}
		index[id] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = cloneInputs(inputs)
	s.inputIndex = index
	s.template = cloneTemplate(tpl)
	s.mode = task.ModeAuto
	s.runID = ""
	s.clearRunLocked()
	return nil
}

// Reset clears requests and the batch task and starts a new generation. The
// inputs and template are kept. It returns the new generation.
func (s *Session) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = ""
	s.mode = task.ModeAuto
	s.clearRunLocked()
	return s.generation
}

func (s *Session) clearRunLocked() {
	s.requests = map[string]task.Request{}
	s.byRemote = map[string]string{}
	s.batch = task.BatchTask{Status: task.BatchIdle}
	s.generation++
}

// Generation identifies the current run. Writers pass it back so results that
// belong to a reset run are discarded.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Begin records the run id and mode for a new run.
func (s *Session) Begin(runID string, mode task.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	s.mode = mode
}

func (s *Session) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

func (s *Session) Mode() task.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Inputs returns a copy of the loaded inputs in load order.
func (s *Session) Inputs() []task.Input {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInputs(s.inputs)
}

// Input returns the input with the given id.
func (s *Session) Input(id string) (task.Input, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.inputIndex[id]
	if !ok {
		return task.Input{}, false
	}
	return s.inputs[idx], true
}

// InputIndex returns the 0-based load position of the input.
func (s *Session) InputIndex(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.inputIndex[id]
	return idx, ok
}

func (s *Session) Template() task.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTemplate(s.template)
}

// PutRequest inserts or replaces a request. It returns false, leaving the
// session unchanged, when generation is stale or the stored request is
// already terminal and req would change it.
func (s *Session) PutRequest(generation uint64, req task.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return false
	}
	if _, ok := s.inputIndex[req.InputID]; !ok {
		return false
	}
	if prev, ok := s.requests[req.RequestID]; ok {
		if prev.IsTerminal() && prev != req {
			return false
		}
		if prev.RemoteTaskID != "" && prev.RemoteTaskID != req.RemoteTaskID {
			delete(s.byRemote, prev.RemoteTaskID)
		}
	}
	s.requests[req.RequestID] = req
	if req.RemoteTaskID != "" {
		s.byRemote[req.RemoteTaskID] = req.RequestID
	}
	return true
}

// Request looks up a request by request id.
func (s *Session) Request(requestID string) (task.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	return req, ok
}

// RequestByRemote looks up a request by its current remote task id.
func (s *Session) RequestByRemote(remoteTaskID string) (task.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRemote[remoteTaskID]
	if !ok {
		return task.Request{}, false
	}
	req, ok := s.requests[id]
	return req, ok
}

// Requests returns copies of all requests ordered by input position.
func (s *Session) Requests() []task.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedRequestsLocked()
}

// Pending returns non-terminal requests ordered by input position.
func (s *Session) Pending() []task.Request {
	all := s.Requests()
	out := all[:0]
	for _, req := range all {
		if !req.IsTerminal() {
			out = append(out, req)
		}
	}
	return out
}

func (s *Session) sortedRequestsLocked() []task.Request {
	out := make([]task.Request, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, req)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return s.inputIndex[out[i].InputID] < s.inputIndex[out[j].InputID]
	})
	return out
}

// Batch returns a copy of the batch task.
func (s *Session) Batch() task.BatchTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batch
}

// UpdateBatch applies fn to the batch task when generation is current.
func (s *Session) UpdateBatch(generation uint64, fn func(*task.BatchTask)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return false
	}
	fn(&s.batch)
	s.batch.UpdatedAt = time.Now().UTC()
	return true
}

// Snapshot serializes the session. Results are filled in by the caller.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make(map[string]string, len(s.byRemote))
	for remote, id := range s.byRemote {
		tasks[remote] = id
	}
	return Snapshot{
		RunID:    s.runID,
		Mode:     s.mode,
		Inputs:   cloneInputs(s.inputs),
		Template: cloneTemplate(s.template),
		AsyncTask: AsyncSnapshot{
			Requests: s.sortedRequestsLocked(),
			Tasks:    tasks,
		},
		BatchTask: BatchSnapshot{
			BatchID:      s.batch.BatchID,
			FileID:       s.batch.FileID,
			OutputFileID: s.batch.OutputFileID,
			ErrorFileID:  s.batch.ErrorFileID,
			Status:       s.batch.Status,
		},
		Timestamp: time.Now().UTC(),
	}
}

// Restore replaces the session with a saved snapshot and starts a new
// generation.
func (s *Session) Restore(snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "taskstore", "restore", "invalid snapshot", err)
	}
	if err := s.Load(snap.Inputs, snap.Template); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = snap.RunID
	s.mode = snap.Mode
	for _, req := range snap.AsyncTask.Requests {
		s.requests[req.RequestID] = req
		if req.RemoteTaskID != "" {
			s.byRemote[req.RemoteTaskID] = req.RequestID
		}
	}
	s.batch = task.BatchTask{
		BatchID:      snap.BatchTask.BatchID,
		FileID:       snap.BatchTask.FileID,
		OutputFileID: snap.BatchTask.OutputFileID,
		ErrorFileID:  snap.BatchTask.ErrorFileID,
		Status:       snap.BatchTask.Status,
		UpdatedAt:    snap.Timestamp,
	}
	if s.batch.Status == "" {
		s.batch.Status = task.BatchIdle
		if s.batch.BatchID != "" {
			s.batch.Status = task.BatchCreated
		}
	}
	return nil
}

func cloneInputs(inputs []task.Input) []task.Input {
	out := make([]task.Input, len(inputs))
	for i, in := range inputs {
		out[i] = task.Input{ID: strings.TrimSpace(in.ID), Content: task.Content{Text: in.Content.Text}}
		if len(in.Content.Fields) > 0 {
			out[i].Content.Fields = append([]task.Field(nil), in.Content.Fields...)
		}
	}
	return out
}

func cloneTemplate(tpl task.Template) task.Template {
	if len(tpl.OutputFields) > 0 {
		tpl.OutputFields = append([]task.OutputField(nil), tpl.OutputFields...)
	}
	return tpl
}
