package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"patentbatch/internal/logging"
	"patentbatch/internal/metrics"
	"patentbatch/internal/output"
	"patentbatch/internal/task"
	"patentbatch/internal/testsupport"
	"patentbatch/internal/workflow"
)

func TestMetricsServerServesMetricsAndStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	if err := mgr.Load(testsupport.Inputs(2), testsupport.Template()); err != nil {
		t.Fatalf("load: %v", err)
	}

	collectors := metrics.New()
	collectors.Submission(task.ModeAsync, "ok")
	srv, err := startMetricsServer("127.0.0.1:0", collectors, mgr, logging.NewNop())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.stop()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "patentbatch_") {
		t.Fatalf("metrics status=%d body=%s", resp.StatusCode, body)
	}

	resp, err = http.Get("http://" + srv.Addr() + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var view statusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Inputs != 2 || view.Running {
		t.Fatalf("status = %+v", view)
	}

	resp, err = http.Post("http://"+srv.Addr()+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status code = %d", resp.StatusCode)
	}
}

func TestMetricsServerDisabledWithoutBind(t *testing.T) {
	srv, err := startMetricsServer("  ", metrics.New(), nil, logging.NewNop())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server, got %v %v", srv, err)
	}
	srv.stop()
	if srv.Addr() != "" {
		t.Fatal("expected empty address")
	}
}

func TestProgressReporterWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressReporter(&buf, logging.NewNop(), 4)
	if p.bar != nil {
		t.Fatal("expected no bar for a non-terminal writer")
	}
	p.Update(output.Stats{Total: 4, Completed: 1, Pending: 3})
	p.Update(output.Stats{Total: 4, Completed: 4})
	p.Finish()
	if p.last.Completed != 4 {
		t.Fatalf("last stats = %+v", p.last)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written to the writer, got %q", buf.String())
	}
}
