package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"patentbatch/internal/prompt"
	"patentbatch/internal/services"
	"patentbatch/internal/task"
)

func newTestClient(serverURL string, opts ...Option) *Client {
	cfg := Config{
		APIKey:       "test",
		BaseURL:      serverURL,
		SubmitPath:   "/async_submit",
		RetrievePath: "/async_retrieve",
		UploadPath:   "/upload",
		CreatePath:   "/create_batch",
		StatusPath:   "/check_status",
		DownloadPath: "/download_result",
	}
	opts = append([]Option{WithSleeper(func(time.Duration) {})}, opts...)
	return NewClient(cfg, opts...)
}

func TestSubmitReturnsTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/async_submit" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var body prompt.RequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Model != "m" || len(body.Messages) != 1 {
			t.Fatalf("unexpected body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"task_id": "t-1"})
	}))
	defer server.Close()

	id, err := newTestClient(server.URL).Submit(context.Background(), prompt.RequestBody{
		Model:    "m",
		Messages: []prompt.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "t-1" {
		t.Fatalf("unexpected task id %q", id)
	}
}

func TestSubmitFailureIsSubmissionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model"}}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Submit(context.Background(), prompt.RequestBody{})
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
}

func TestSubmitRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "t-9"})
	}))
	defer server.Close()

	id, err := newTestClient(server.URL, WithRetryMaxAttempts(3)).Submit(context.Background(), prompt.RequestBody{})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "t-9" || calls.Load() != 3 {
		t.Fatalf("expected success on third call, id=%q calls=%d", id, calls.Load())
	}
}

func TestRetrieveFallbackShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"content", `{"task_status":"SUCCESS","content":"a"}`, "a"},
		{"choices", `{"task_status":"SUCCESS","choices":[{"message":{"content":"b"}}]}`, "b"},
		{"response", `{"task_status":"SUCCESS","response":"c"}`, "c"},
		{"message", `{"task_status":"SUCCESS","message":{"content":"d"}}`, "d"},
		{"content wins", `{"task_status":"SUCCESS","content":"e","response":"f"}`, "e"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRetrieval([]byte(tc.body))
			if err != nil {
				t.Fatalf("parseRetrieval: %v", err)
			}
			if got.Status != task.RemoteSuccess || got.Content != tc.want {
				t.Fatalf("unexpected retrieval %+v", got)
			}
		})
	}
}

func TestRetrieveUsesTaskIDQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/async_retrieve" || r.URL.Query().Get("task_id") != "t-1" {
			t.Fatalf("unexpected request %s", r.URL.String())
		}
		_, _ = io.WriteString(w, `{"task_status":"PROCESSING"}`)
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).Retrieve(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if got.Status != task.RemoteProcessing {
		t.Fatalf("unexpected status %q", got.Status)
	}
}

func TestRetrievePathPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/async-result/t-2" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"task_status":"SUCCESS","choices":[{"message":{"content":"ok"}}],"usage":{"total_tokens":7}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.cfg.RetrievePath = "/async-result/{id}"
	got, err := client.Retrieve(context.Background(), "t-2")
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if got.Content != "ok" || got.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected retrieval %+v", got)
	}
}

func TestRetrieveMalformedIsParseError(t *testing.T) {
	for _, body := range []string{`not json`, `{"task_status":"WEIRD"}`, `{}`} {
		got, err := parseRetrieval([]byte(body))
		if !errors.Is(err, services.ErrParse) {
			t.Fatalf("body %q: expected parse error, got %v", body, err)
		}
		if got.Raw != body {
			t.Fatalf("body %q: raw not preserved: %q", body, got.Raw)
		}
	}
}

func TestRetrieveTransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, WithRetryMaxAttempts(1)).Retrieve(context.Background(), "t")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
}

func TestUploadSendsMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("purpose") != "batch" {
			t.Fatalf("expected purpose=batch, got %q", r.FormValue("purpose"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "batch.jsonl" || string(data) != "{}\n" {
			t.Fatalf("unexpected upload %q %q", header.Filename, data)
		}
		_, _ = io.WriteString(w, `{"id":"file-1"}`)
	}))
	defer server.Close()

	id, err := newTestClient(server.URL).UploadFile(context.Background(), "batch.jsonl", []byte("{}\n"))
	if err != nil {
		t.Fatalf("UploadFile returned error: %v", err)
	}
	if id != "file-1" {
		t.Fatalf("unexpected file id %q", id)
	}
}

func TestCreateAndCheckBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/create_batch":
			var req CreateBatchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if req.InputFileID != "file-1" || req.CompletionWindow != "24h" {
				t.Fatalf("unexpected create request %+v", req)
			}
			_, _ = io.WriteString(w, `{"id":"batch-1","status":"validating"}`)
		case "/check_status":
			if r.URL.Query().Get("batch_id") != "batch-1" {
				t.Fatalf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"id":"batch-1","status":"completed","output_file_id":"out-1","error_file_id":"err-1","request_counts":{"total":3,"completed":2,"failed":1}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	created, err := client.CreateBatch(context.Background(), CreateBatchRequest{InputFileID: "file-1", Endpoint: "/v4/chat/completions", CompletionWindow: "24h"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if created.ID != "batch-1" || created.Status != task.BatchValidating {
		t.Fatalf("unexpected created batch %+v", created)
	}
	info, err := client.CheckBatch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("CheckBatch: %v", err)
	}
	if info.Status != task.BatchCompleted || info.OutputFileID != "out-1" || info.ErrorFileID != "err-1" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.RequestCounts != (task.RequestCounts{Total: 3, Completed: 2, Failed: 1}) {
		t.Fatalf("unexpected counts %+v", info.RequestCounts)
	}
}

func TestParseBatchLine(t *testing.T) {
	ok := `{"custom_id":"request-1","response":{"status_code":200,"body":{"choices":[{"message":{"content":"hello"}}],"usage":{"total_tokens":5}}}}`
	line, err := ParseBatchLine([]byte(ok))
	if err != nil {
		t.Fatalf("ParseBatchLine: %v", err)
	}
	if line.Failed() || line.Content != "hello" || line.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected line %+v", line)
	}

	failed := `{"custom_id":"request-2","response":{"status_code":400,"body":{"error":{"code":"1210","message":"bad params"}}}}`
	line, err = ParseBatchLine([]byte(failed))
	if err != nil {
		t.Fatalf("ParseBatchLine: %v", err)
	}
	if !line.Failed() || !strings.Contains(line.Error, "bad params") {
		t.Fatalf("expected failed line, got %+v", line)
	}

	if _, err := ParseBatchLine([]byte(`{"custom_id":"request-3",`)); !errors.Is(err, services.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if id, ok := RecoverCustomID(`{"custom_id": "request-3", broken`); !ok || id != "request-3" {
		t.Fatalf("RecoverCustomID = %q, %v", id, ok)
	}
}

func TestJSONCandidate(t *testing.T) {
	cases := []struct{ content, want string }{
		{"Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{`Result: {"a":1,"b":"x"} done`, `{"a":1,"b":"x"}`},
		{`{"a":1}`, `{"a":1}`},
		{"no json here", ""},
		{`[1,2]`, ""},
	}
	for _, tc := range cases {
		if got := JSONCandidate(tc.content); got != tc.want {
			t.Fatalf("JSONCandidate(%q) = %q, want %q", tc.content, got, tc.want)
		}
	}
}
