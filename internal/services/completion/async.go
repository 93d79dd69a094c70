package completion

import (
	"context"
	"encoding/json"
	"strings"

	"patentbatch/internal/prompt"
	"patentbatch/internal/services"
	"patentbatch/internal/task"
)

// Retrieval is the decoded result of one async poll.
type Retrieval struct {
	Status  task.RemoteStatus
	Content string
	Usage   task.Usage
	Error   string
	Raw     string
}

type submitEnvelope struct {
	TaskID    string    `json:"task_id"`
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Error     *apiError `json:"error"`
}

type retrieveEnvelope struct {
	completionEnvelope
	TaskStatus string `json:"task_status"`
	Status     string `json:"status"`
}

// Submit queues one completion on the async substrate and returns the remote
// task id. Every failure is an ErrSubmission.
func (c *Client) Submit(ctx context.Context, body prompt.RequestBody) (string, error) {
	payload, err := c.postJSON(ctx, c.cfg.SubmitPath, body, "async submit")
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "completion", "submit", "request rejected", err)
	}
	var env submitEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", services.Wrap(services.ErrSubmission, "completion", "submit",
			"decode response "+summarizePayloadSnippet(string(payload)), err)
	}
	if msg := env.Error.String(); msg != "" {
		return "", services.Wrap(services.ErrSubmission, "completion", "submit", msg, nil)
	}
	id := firstNonEmpty(env.TaskID, env.ID, env.RequestID)
	if id == "" {
		return "", services.Wrap(services.ErrSubmission, "completion", "submit",
			"response carried no task id: "+summarizePayloadSnippet(string(payload)), nil)
	}
	return id, nil
}

// Retrieve fetches the current state of a remote task. Transport failures are
// ErrTransient; a response that cannot be decoded or carries an unknown status
// is ErrParse with Raw populated.
func (c *Client) Retrieve(ctx context.Context, taskID string) (Retrieval, error) {
	payload, err := c.get(ctx, c.cfg.RetrievePath, "task_id", taskID, "async retrieve")
	if err != nil {
		return Retrieval{}, services.Wrap(services.ErrTransient, "completion", "retrieve", taskID, err)
	}
	return parseRetrieval(payload)
}

func parseRetrieval(payload []byte) (Retrieval, error) {
	raw := string(payload)
	out := Retrieval{Raw: raw}
	var env retrieveEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return out, services.Wrap(services.ErrParse, "completion", "retrieve",
			"decode response "+summarizePayloadSnippet(raw), err)
	}
	out.Content = env.ContentText()
	out.Usage = env.Usage.toUsage()
	out.Error = env.Error.String()

	statusText := firstNonEmpty(env.TaskStatus, env.Status)
	if statusText == "" {
		if out.Content == "" {
			return out, services.Wrap(services.ErrParse, "completion", "retrieve",
				"response carried no status: "+summarizePayloadSnippet(raw), nil)
		}
		statusText = string(task.RemoteSuccess)
	}
	status, ok := task.ParseRemoteStatus(statusText)
	if !ok {
		return out, services.Wrap(services.ErrParse, "completion", "retrieve",
			"unknown task status "+strings.TrimSpace(statusText), nil)
	}
	out.Status = status
	if status == task.RemoteSuccess && out.Content == "" {
		return out, services.Wrap(services.ErrParse, "completion", "retrieve",
			"success without content: "+summarizePayloadSnippet(raw), nil)
	}
	return out, nil
}
