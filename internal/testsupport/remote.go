package testsupport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FakeRemote implements the async and batch endpoints in memory on the flat
// paths configured by WithRemote. Every completion returns a JSON object with
// a single "summary" key.
type FakeRemote struct {
	mu          sync.Mutex
	submits     int
	uploads     int
	creates     int
	checks      int
	batchStatus string
	customIDs   []string
}

// NewFakeRemote starts the fake service. Batch jobs report completed until
// SetBatchStatus says otherwise.
func NewFakeRemote(t testing.TB) (*FakeRemote, *httptest.Server) {
	t.Helper()
	svc := &FakeRemote{batchStatus: "completed"}
	mux := http.NewServeMux()
	mux.HandleFunc("/async_submit", svc.handleSubmit)
	mux.HandleFunc("/async_retrieve", svc.handleRetrieve)
	mux.HandleFunc("/upload", svc.handleUpload)
	mux.HandleFunc("/create_batch", svc.handleCreate)
	mux.HandleFunc("/check_status", svc.handleCheck)
	mux.HandleFunc("/download_result", svc.handleDownload)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return svc, srv
}

// SetBatchStatus changes the status reported for the batch job.
func (s *FakeRemote) SetBatchStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchStatus = status
}

// Counts returns how many submissions, uploads, and batch creations were seen.
func (s *FakeRemote) Counts() (submits, uploads, creates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits, s.uploads, s.creates
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *FakeRemote) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer test" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.submits++
	id := fmt.Sprintf("task-%d", s.submits)
	s.mu.Unlock()
	writeJSON(w, map[string]any{"task_id": id, "task_status": "PROCESSING"})
}

func (s *FakeRemote) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("task_id")
	writeJSON(w, map[string]any{
		"task_status": "SUCCESS",
		"choices": []any{map[string]any{
			"message": map[string]any{"content": fmt.Sprintf("```json\n{\"summary\": %q}\n```", id)},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func (s *FakeRemote) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil || r.FormValue("purpose") != "batch" {
		http.Error(w, "bad upload", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var item struct {
			CustomID string `json:"custom_id"`
		}
		if json.Unmarshal(scanner.Bytes(), &item) == nil {
			ids = append(ids, item.CustomID)
		}
	}
	s.mu.Lock()
	s.uploads++
	s.customIDs = ids
	s.mu.Unlock()
	writeJSON(w, map[string]any{"id": "file-in", "object": "file"})
}

func (s *FakeRemote) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InputFileID string `json:"input_file_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.InputFileID != "file-in" {
		http.Error(w, "bad create", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	writeJSON(w, map[string]any{"id": "batch-1", "status": "validating"})
}

func (s *FakeRemote) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.checks++
	status := s.batchStatus
	n := len(s.customIDs)
	s.mu.Unlock()
	resp := map[string]any{
		"id":             r.URL.Query().Get("batch_id"),
		"status":         status,
		"request_counts": map[string]any{"total": n, "completed": n, "failed": 0},
	}
	if status == "completed" {
		resp["output_file_id"] = "file-out"
	}
	writeJSON(w, resp)
}

func (s *FakeRemote) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("file_id") != "file-out" {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	ids := append([]string(nil), s.customIDs...)
	s.mu.Unlock()
	var b strings.Builder
	for _, id := range ids {
		line, _ := json.Marshal(map[string]any{
			"custom_id": id,
			"response": map[string]any{
				"status_code": 200,
				"body": map[string]any{
					"choices": []any{map[string]any{"message": map[string]any{"content": fmt.Sprintf(`{"summary": %q}`, id)}}},
				},
			},
		})
		b.Write(line)
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(w, b.String())
}
