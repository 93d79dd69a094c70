package output

import (
	"sync"
	"time"

	"patentbatch/internal/task"
)

// Stats are the progress counts over the current results. Retrying results
// count as processing.
type Stats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

// Done reports whether every result is terminal.
func (s Stats) Done() bool {
	return s.Completed+s.Failed == s.Total
}

// Finished returns the number of terminal results.
func (s Stats) Finished() int {
	return s.Completed + s.Failed
}

// Handler accumulates results for one run.
type Handler struct {
	mu      sync.RWMutex
	results []task.Result
	index   map[string]int
}

// NewHandler returns an empty handler.
func NewHandler() *Handler {
	return &Handler{index: map[string]int{}}
}

// Add appends a result. It returns false when the key already exists.
func (h *Handler) Add(result task.Result) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.index[result.Key]; ok {
		return false
	}
	if result.UpdatedAt.IsZero() {
		result.UpdatedAt = time.Now().UTC()
	}
	h.index[result.Key] = len(h.results)
	h.results = append(h.results, result)
	return true
}

// Update merges patch into the result stored under key, creating it when
// missing. A terminal status is never replaced by a different status.
func (h *Handler) Update(key string, patch task.ResultPatch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.index[key]
	if !ok {
		idx = len(h.results)
		h.index[key] = idx
		h.results = append(h.results, task.Result{Key: key, Status: task.StatusPending})
	}
	current := &h.results[idx]
	if current.Status.IsTerminal() && patch.Status != "" && patch.Status != current.Status {
		patch.Status = ""
	}
	patch.Apply(current)
}

// Result returns a copy of the result stored under key.
func (h *Handler) Result(key string) (task.Result, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	idx, ok := h.index[key]
	if !ok {
		return task.Result{}, false
	}
	return h.results[idx], true
}

// Results returns copies of all results in insertion order.
func (h *Handler) Results() []task.Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]task.Result, len(h.results))
	copy(out, h.results)
	return out
}

// Len returns the number of results.
func (h *Handler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.results)
}

// Stats recomputes progress counts from the current results.
func (h *Handler) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := Stats{Total: len(h.results)}
	for _, r := range h.results {
		switch r.Status {
		case task.StatusCompleted:
			stats.Completed++
		case task.StatusFailed:
			stats.Failed++
		case task.StatusProcessing, task.StatusRetrying:
			stats.Processing++
		default:
			stats.Pending++
		}
	}
	return stats
}

// Counts returns results per status.
func (h *Handler) Counts() map[task.Status]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[task.Status]int, len(task.AllStatuses()))
	for _, r := range h.results {
		counts[r.Status]++
	}
	return counts
}

// Clear removes every result before a new run.
func (h *Handler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = nil
	h.index = map[string]int{}
}

// Restore replaces the results with a saved list.
func (h *Handler) Restore(results []task.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = make([]task.Result, 0, len(results))
	h.index = make(map[string]int, len(results))
	for _, r := range results {
		if _, dup := h.index[r.Key]; dup {
			continue
		}
		h.index[r.Key] = len(h.results)
		h.results = append(h.results, r)
	}
}
