package workflow_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"patentbatch/internal/logging"
	"patentbatch/internal/services"
	"patentbatch/internal/task"
	"patentbatch/internal/taskstore"
	"patentbatch/internal/testsupport"
	"patentbatch/internal/workflow"
)

func waitRun(t *testing.T, mgr *workflow.Manager) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return mgr.Wait(ctx)
}

func TestAsyncRunEndToEnd(t *testing.T) {
	svc, srv := testsupport.NewFakeRemote(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(srv.URL))
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())

	if err := mgr.Load(testsupport.Inputs(7), testsupport.Template()); err != nil {
		t.Fatalf("load: %v", err)
	}
	mode, err := mgr.Start(context.Background(), task.ModeAuto)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if mode != task.ModeAsync {
		t.Fatalf("mode = %s", mode)
	}
	if err := waitRun(t, mgr); err != nil {
		t.Fatalf("run: %v", err)
	}

	status := mgr.Status()
	if status.Running || status.Stats.Completed != 7 || status.Stats.Total != 7 {
		t.Fatalf("status = %+v", status)
	}
	if submits, _, _ := svc.Counts(); submits != 7 {
		t.Fatalf("submits = %d", submits)
	}

	report := mgr.Report()
	summaries := report.Column("summary")
	if len(summaries) != 7 || summaries[0] == "" {
		t.Fatalf("summary column = %v", summaries)
	}

	snap, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.Mode != task.ModeAsync || len(snap.Results) != 7 || snap.Resumable() {
		t.Fatalf("snapshot mode=%s results=%d resumable=%v", snap.Mode, len(snap.Results), snap.Resumable())
	}

	path := filepath.Join(cfg.Paths.ReportDir, "out.xlsx")
	if err := mgr.Export(path, ""); err != nil {
		t.Fatalf("export: %v", err)
	}
}

func TestBatchRunEndToEnd(t *testing.T) {
	svc, srv := testsupport.NewFakeRemote(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(srv.URL))
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())

	if err := mgr.Load(testsupport.Inputs(3), testsupport.Template()); err != nil {
		t.Fatalf("load: %v", err)
	}
	mode, err := mgr.Start(context.Background(), task.ModeBatch)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if mode != task.ModeBatch {
		t.Fatalf("mode = %s", mode)
	}
	if err := waitRun(t, mgr); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := mgr.Status().Stats; got.Completed != 3 {
		t.Fatalf("stats = %+v", got)
	}
	if _, uploads, creates := svc.Counts(); uploads != 1 || creates != 1 {
		t.Fatalf("uploads=%d creates=%d", uploads, creates)
	}
	for _, r := range mgr.Results() {
		if r.InputID == r.Key {
			t.Fatalf("result %s not mapped to an input", r.Key)
		}
	}
}

func TestThresholdSelectsBatch(t *testing.T) {
	_, srv := testsupport.NewFakeRemote(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(srv.URL), testsupport.WithThreshold(2))
	mgr := workflow.NewManager(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop())
	if err := mgr.Load(testsupport.Inputs(2), testsupport.Template()); err != nil {
		t.Fatalf("load: %v", err)
	}
	mode, err := mgr.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if mode != task.ModeBatch {
		t.Fatalf("mode = %s, want batch at threshold", mode)
	}
	if err := waitRun(t, mgr); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestResumeBatchReattaches(t *testing.T) {
	svc, srv := testsupport.NewFakeRemote(t)
	svc.SetBatchStatus("in_progress")
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(srv.URL))
	store := testsupport.MustOpenStore(t, cfg)

	first := workflow.NewManager(cfg, store, logging.NewNop())
	if err := first.Load(testsupport.Inputs(3), testsupport.Template()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := first.Start(context.Background(), task.ModeBatch); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		snap, err := store.Load(context.Background())
		if err == nil && snap.BatchTask.BatchID == "batch-1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("batch id was never checkpointed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	first.Stop()
	if err := waitRun(t, first); !errors.Is(err, context.Canceled) {
		t.Fatalf("stopped run error = %v", err)
	}

	svc.SetBatchStatus("completed")
	second := workflow.NewManager(cfg, store, logging.NewNop())
	mode, err := second.Resume(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if mode != task.ModeBatch {
		t.Fatalf("mode = %s", mode)
	}
	if err := waitRun(t, second); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if _, uploads, creates := svc.Counts(); uploads != 1 || creates != 1 {
		t.Fatalf("resume re-submitted: uploads=%d creates=%d", uploads, creates)
	}
	if got := second.Status().Stats; got.Completed != 3 {
		t.Fatalf("stats = %+v", got)
	}

	if _, err := second.Resume(context.Background()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected nothing to resume, got %v", err)
	}
}

func TestResetClearsSavedSession(t *testing.T) {
	_, srv := testsupport.NewFakeRemote(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(srv.URL))
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	if err := mgr.Load(testsupport.Inputs(2), testsupport.Template()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := mgr.Start(context.Background(), task.ModeAsync); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := waitRun(t, mgr); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := mgr.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, taskstore.ErrNoSnapshot) {
		t.Fatalf("expected no snapshot, got %v", err)
	}
	if got := mgr.Status().Stats; got.Total != 0 {
		t.Fatalf("results survived reset: %+v", got)
	}
	if _, err := mgr.Restore(context.Background()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartWithoutInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr := workflow.NewManager(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop())
	if _, err := mgr.Start(context.Background(), task.ModeAsync); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
