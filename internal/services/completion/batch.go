package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"patentbatch/internal/services"
	"patentbatch/internal/task"
)

// CreateBatchRequest is the body of a create-batch call.
type CreateBatchRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// BatchInfo is the decoded state of a remote batch job.
type BatchInfo struct {
	ID            string
	Status        task.BatchStatus
	RequestCounts task.RequestCounts
	OutputFileID  string
	ErrorFileID   string
	Errors        string
}

type fileEnvelope struct {
	FileID string    `json:"file_id"`
	ID     string    `json:"id"`
	Error  *apiError `json:"error"`
}

type batchEnvelope struct {
	ID            string `json:"id"`
	BatchID       string `json:"batch_id"`
	Status        string `json:"status"`
	OutputFileID  string `json:"output_file_id"`
	ErrorFileID   string `json:"error_file_id"`
	RequestCounts struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
	Errors *struct {
		Data []apiError `json:"data"`
	} `json:"errors"`
	Error *apiError `json:"error"`
}

func (e batchEnvelope) info() BatchInfo {
	info := BatchInfo{
		ID:           firstNonEmpty(e.ID, e.BatchID),
		Status:       task.ParseBatchStatus(e.Status),
		OutputFileID: e.OutputFileID,
		ErrorFileID:  e.ErrorFileID,
		RequestCounts: task.RequestCounts{
			Total:     e.RequestCounts.Total,
			Completed: e.RequestCounts.Completed,
			Failed:    e.RequestCounts.Failed,
		},
	}
	if e.Errors != nil {
		for i := range e.Errors.Data {
			if msg := e.Errors.Data[i].String(); msg != "" {
				info.Errors = msg
				break
			}
		}
	}
	if info.Errors == "" {
		info.Errors = e.Error.String()
	}
	return info
}

// UploadFile uploads JSONL content as a multipart file with purpose=batch and
// returns the remote file id.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("purpose", "batch"); err != nil {
		return "", services.Wrap(services.ErrSubmission, "completion", "upload", "write purpose", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "completion", "upload", "create form file", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", services.Wrap(services.ErrSubmission, "completion", "upload", "write form file", err)
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrSubmission, "completion", "upload", "close multipart", err)
	}

	target, err := c.endpoint(c.cfg.UploadPath, "", "")
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "completion", "upload", "", err)
	}
	payload, err := c.do(ctx, requestSpec{
		method:      http.MethodPost,
		url:         target,
		body:        buf.Bytes(),
		contentType: writer.FormDataContentType(),
	}, "batch upload")
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "completion", "upload", filename, err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", services.Wrap(services.ErrSubmission, "completion", "upload",
			"decode response "+summarizePayloadSnippet(string(payload)), err)
	}
	if msg := env.Error.String(); msg != "" {
		return "", services.Wrap(services.ErrSubmission, "completion", "upload", msg, nil)
	}
	id := firstNonEmpty(env.FileID, env.ID)
	if id == "" {
		return "", services.Wrap(services.ErrSubmission, "completion", "upload", "response carried no file id", nil)
	}
	return id, nil
}

// CreateBatch starts a batch job over an uploaded file.
func (c *Client) CreateBatch(ctx context.Context, req CreateBatchRequest) (BatchInfo, error) {
	payload, err := c.postJSON(ctx, c.cfg.CreatePath, req, "batch create")
	if err != nil {
		return BatchInfo{}, services.Wrap(services.ErrSubmission, "completion", "create batch", req.InputFileID, err)
	}
	var env batchEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return BatchInfo{}, services.Wrap(services.ErrSubmission, "completion", "create batch",
			"decode response "+summarizePayloadSnippet(string(payload)), err)
	}
	info := env.info()
	if info.ID == "" {
		return info, services.Wrap(services.ErrSubmission, "completion", "create batch",
			firstNonEmpty(info.Errors, "response carried no batch id"), nil)
	}
	return info, nil
}

// CheckBatch fetches the status of a batch job.
func (c *Client) CheckBatch(ctx context.Context, batchID string) (BatchInfo, error) {
	payload, err := c.get(ctx, c.cfg.StatusPath, "batch_id", batchID, "batch status")
	if err != nil {
		return BatchInfo{}, services.Wrap(services.ErrTransient, "completion", "check batch", batchID, err)
	}
	var env batchEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return BatchInfo{}, services.Wrap(services.ErrParse, "completion", "check batch",
			"decode response "+summarizePayloadSnippet(string(payload)), err)
	}
	info := env.info()
	if info.ID == "" {
		info.ID = batchID
	}
	if info.Status == "" {
		return info, services.Wrap(services.ErrParse, "completion", "check batch",
			fmt.Sprintf("batch %s response carried no status", batchID), nil)
	}
	return info, nil
}

// DownloadFile returns the raw content of a result or error file.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	payload, err := c.get(ctx, c.cfg.DownloadPath, "file_id", fileID, "batch download")
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "completion", "download", fileID, err)
	}
	return payload, nil
}
