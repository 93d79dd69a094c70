package task

import "time"

// Result is the per-input outcome collected by the output handler. Key holds
// the async request id or the batch custom id.
type Result struct {
	Key       string    `json:"key"`
	InputID   string    `json:"input_id"`
	Status    Status    `json:"status"`
	Content   string    `json:"content,omitempty"`
	Usage     Usage     `json:"usage"`
	Error     string    `json:"error,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResultPatch carries the fields to merge into an existing Result. Empty
// fields leave the stored value unchanged.
type ResultPatch struct {
	InputID string
	Status  Status
	Content string
	Usage   *Usage
	Error   string
	Raw     string
}

// Apply merges the patch into r. Moving to completed drops the error left by
// earlier failed attempts unless the patch carries a new one.
func (p ResultPatch) Apply(r *Result) {
	if p.InputID != "" {
		r.InputID = p.InputID
	}
	if p.Status != "" {
		if p.Status == StatusCompleted && r.Status != StatusCompleted {
			r.Error = ""
		}
		r.Status = p.Status
	}
	if p.Content != "" {
		r.Content = p.Content
	}
	if p.Usage != nil {
		r.Usage = *p.Usage
	}
	if p.Error != "" {
		r.Error = p.Error
	}
	if p.Raw != "" {
		r.Raw = p.Raw
	}
	r.UpdatedAt = time.Now().UTC()
}
