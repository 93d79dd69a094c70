package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"patentbatch/internal/metrics"
	"patentbatch/internal/task"
)

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *metrics.Collectors
	c.Submission(task.ModeAsync, "ok")
	c.Retry()
	c.BatchStatus(task.BatchCompleted)
	c.Results(map[task.Status]int{task.StatusCompleted: 1})
}

func TestCollectorsCount(t *testing.T) {
	c := metrics.New()
	c.Submission(task.ModeAsync, "ok")
	c.Submission(task.ModeAsync, "ok")
	c.Retry()
	c.Tokens(task.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7})

	got, err := testutil.GatherAndCount(c.Registry(), "patentbatch_submissions_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected one submissions series, got %d", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`patentbatch_submissions_total{mode="async",outcome="ok"} 2`,
		`patentbatch_retries_total 1`,
		`patentbatch_tokens_total{type="completion"} 4`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}

func TestBatchStatusKeepsOneSeries(t *testing.T) {
	c := metrics.New()
	c.BatchStatus(task.BatchInProgress)
	c.BatchStatus(task.BatchCompleted)
	got, err := testutil.GatherAndCount(c.Registry(), "patentbatch_batch_status")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected a single batch status series, got %d", got)
	}
}
