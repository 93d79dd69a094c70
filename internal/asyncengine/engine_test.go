package asyncengine_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"patentbatch/internal/asyncengine"
	"patentbatch/internal/output"
	"patentbatch/internal/prompt"
	"patentbatch/internal/services"
	"patentbatch/internal/services/completion"
	"patentbatch/internal/task"
	"patentbatch/internal/taskstore"
	"patentbatch/internal/testsupport"
)

// fakeClient maps user prompts back to input ids and answers polls from a
// per-input script.
type fakeClient struct {
	mu        sync.Mutex
	byPrompt  map[string]string
	byRemote  map[string]string
	polls     map[string]int
	submits   map[string]int
	inFlight  int
	maxFlight int
	nextID    int

	script     func(inputID string, poll int) completion.Retrieval
	hold       func(ctx context.Context, inputID string) error
	submitErr  func(inputID string, attempt int) error
	retrieveEr func(inputID string, poll int) error
}

func newFakeClient(inputs []task.Input) *fakeClient {
	tpl := testsupport.Template()
	f := &fakeClient{
		byPrompt: map[string]string{},
		byRemote: map[string]string{},
		polls:    map[string]int{},
		submits:  map[string]int{},
		script: func(string, int) completion.Retrieval {
			return completion.Retrieval{Status: task.RemoteSuccess, Content: `{"ok":true}`}
		},
	}
	for _, in := range inputs {
		f.byPrompt[prompt.BuildUserPrompt(in, tpl)] = in.ID
	}
	return f
}

func (f *fakeClient) Submit(ctx context.Context, body prompt.RequestBody) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	inputID := f.byPrompt[body.Messages[len(body.Messages)-1].Content]
	f.submits[inputID]++
	attempt := f.submits[inputID]
	hold := f.hold
	f.mu.Unlock()

	if hold != nil {
		if err := hold(ctx, inputID); err != nil {
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
			return "", err
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.submitErr != nil {
		if err := f.submitErr(inputID, attempt); err != nil {
			return "", err
		}
	}
	f.nextID++
	remote := "task-" + strconv.Itoa(f.nextID)
	f.byRemote[remote] = inputID
	return remote, nil
}

func (f *fakeClient) Retrieve(_ context.Context, taskID string) (completion.Retrieval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inputID := f.byRemote[taskID]
	f.polls[inputID]++
	n := f.polls[inputID]
	if f.retrieveEr != nil {
		if err := f.retrieveEr(inputID, n); err != nil {
			return completion.Retrieval{Raw: "<garbage>"}, err
		}
	}
	return f.script(inputID, n), nil
}

func (f *fakeClient) pollCount(inputID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[inputID]
}

func newEngine(client asyncengine.Client, session *taskstore.Session, results *output.Handler, maxRetries int) *asyncengine.Engine {
	return asyncengine.New(client, session, results, asyncengine.Options{
		Concurrency:  5,
		PollInterval: time.Millisecond,
		MaxRetries:   maxRetries,
	})
}

func requestFor(t *testing.T, session *taskstore.Session, inputID string) task.Request {
	t.Helper()
	for _, req := range session.Requests() {
		if req.InputID == inputID {
			return req
		}
	}
	t.Fatalf("no request for %s", inputID)
	return task.Request{}
}

func TestRunAllSucceed(t *testing.T) {
	inputs := testsupport.Inputs(10)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)

	if err := newEngine(client, session, results, 3).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := output.Stats{Total: 10, Completed: 10}
	if got := results.Stats(); got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
	if client.maxFlight > 5 {
		t.Fatalf("concurrency exceeded: %d in flight", client.maxFlight)
	}
	for _, in := range inputs {
		if client.submits[in.ID] != 1 {
			t.Fatalf("%s submitted %d times", in.ID, client.submits[in.ID])
		}
	}
	for _, r := range results.Results() {
		if r.Content != `{"ok":true}` {
			t.Fatalf("result %s content = %q", r.Key, r.Content)
		}
	}
}

func TestRunRetriesThenCompletes(t *testing.T) {
	inputs := testsupport.Inputs(3)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)
	client.script = func(inputID string, poll int) completion.Retrieval {
		if inputID == "in-2" && poll < 3 {
			return completion.Retrieval{Status: task.RemoteFailed, Error: "overloaded"}
		}
		return completion.Retrieval{Status: task.RemoteSuccess, Content: "done"}
	}

	if err := newEngine(client, session, results, 3).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	req := requestFor(t, session, "in-2")
	if req.Status != task.StatusCompleted {
		t.Fatalf("status = %s", req.Status)
	}
	if req.Retries != 2 {
		t.Fatalf("retries = %d, want 2", req.Retries)
	}
	if client.submits["in-2"] != 3 {
		t.Fatalf("in-2 submitted %d times, want 3", client.submits["in-2"])
	}
	if got := results.Stats(); got.Completed != 3 {
		t.Fatalf("stats = %+v", got)
	}
	if r, _ := results.Result(req.RequestID); r.Error != "" {
		t.Fatalf("completed result kept retry error %q", r.Error)
	}
}

func TestRunFailsAfterMaxRetries(t *testing.T) {
	inputs := testsupport.Inputs(2)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)
	client.script = func(inputID string, poll int) completion.Retrieval {
		if inputID == "in-1" {
			return completion.Retrieval{Status: task.RemoteFailed, Error: "bad"}
		}
		if poll < 6 {
			return completion.Retrieval{Status: task.RemoteProcessing}
		}
		return completion.Retrieval{Status: task.RemoteSuccess, Content: "late"}
	}

	if err := newEngine(client, session, results, 3).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	req := requestFor(t, session, "in-1")
	if req.Status != task.StatusFailed || req.Retries != 3 {
		t.Fatalf("request = %+v", req)
	}
	if n := client.pollCount("in-1"); n != 3 {
		t.Fatalf("in-1 polled %d times after failing, want 3", n)
	}
	r, ok := results.Result(req.RequestID)
	if !ok || r.Status != task.StatusFailed || r.Error == "" {
		t.Fatalf("result = %+v", r)
	}
	if got := results.Stats(); got.Completed != 1 || got.Failed != 1 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestSubmissionFailureIsImmediate(t *testing.T) {
	inputs := testsupport.Inputs(3)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)
	client.submitErr = func(inputID string, _ int) error {
		if inputID == "in-3" {
			return services.Wrap(services.ErrSubmission, "fake", "submit", "rejected", nil)
		}
		return nil
	}

	if err := newEngine(client, session, results, 3).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	var failed []task.Result
	for _, r := range results.Results() {
		if r.Status == task.StatusFailed {
			failed = append(failed, r)
		}
	}
	if len(failed) != 1 || failed[0].InputID != "in-3" {
		t.Fatalf("failed results = %+v", failed)
	}
	if client.submits["in-3"] != 1 {
		t.Fatalf("in-3 submitted %d times", client.submits["in-3"])
	}
	if len(session.Requests()) != 2 {
		t.Fatalf("expected no request for the rejected input, got %d", len(session.Requests()))
	}
}

func TestResubmitFailureFailsRequest(t *testing.T) {
	inputs := testsupport.Inputs(1)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)
	client.script = func(string, int) completion.Retrieval {
		return completion.Retrieval{Status: task.RemoteFailed}
	}
	client.submitErr = func(_ string, attempt int) error {
		if attempt > 1 {
			return errors.New("connection refused")
		}
		return nil
	}

	if err := newEngine(client, session, results, 3).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	req := requestFor(t, session, "in-1")
	if req.Status != task.StatusFailed || req.Retries != 1 {
		t.Fatalf("request = %+v", req)
	}
	r, _ := results.Result(req.RequestID)
	if r.Status != task.StatusFailed {
		t.Fatalf("result = %+v", r)
	}
}

func TestPollErrors(t *testing.T) {
	inputs := testsupport.Inputs(2)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)
	client.retrieveEr = func(inputID string, poll int) error {
		switch {
		case inputID == "in-1" && poll == 1:
			return services.Wrap(services.ErrTransient, "fake", "retrieve", "timeout", nil)
		case inputID == "in-2":
			return services.Wrap(services.ErrParse, "fake", "retrieve", "garbled", nil)
		}
		return nil
	}

	if err := newEngine(client, session, results, 3).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	first := requestFor(t, session, "in-1")
	if first.Status != task.StatusCompleted || first.Retries != 0 {
		t.Fatalf("transport error changed retry state: %+v", first)
	}
	second := requestFor(t, session, "in-2")
	if second.Status != task.StatusFailed || second.Retries != 0 {
		t.Fatalf("parse error request = %+v", second)
	}
	r, _ := results.Result(second.RequestID)
	if r.Raw != "<garbage>" {
		t.Fatalf("raw not preserved: %+v", r)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	inputs := testsupport.Inputs(2)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)
	client.script = func(string, int) completion.Retrieval {
		return completion.Retrieval{Status: task.RemoteProcessing}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := newEngine(client, session, results, 3).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !services.StopsRun(err) {
		t.Fatal("cancellation should stop the run")
	}
}

func TestResetSupersedesRun(t *testing.T) {
	inputs := testsupport.Inputs(1)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)
	var once sync.Once
	client.script = func(string, int) completion.Retrieval {
		once.Do(func() { session.Reset() })
		return completion.Retrieval{Status: task.RemoteSuccess, Content: "stale"}
	}

	err := newEngine(client, session, results, 3).Run(context.Background())
	if !errors.Is(err, asyncengine.ErrSuperseded) {
		t.Fatalf("expected superseded, got %v", err)
	}
	if len(session.Requests()) != 0 {
		t.Fatal("stale outcome was applied after reset")
	}
}

func TestResumePollsWithoutResubmitting(t *testing.T) {
	inputs := testsupport.Inputs(2)
	session := testsupport.MustLoadSession(t, inputs)
	gen := session.Generation()

	done := task.NewRequest("r1", "in-1")
	done.Submitted("task-a")
	done.Observe(task.RemoteSuccess, 3)
	open := task.NewRequest("r2", "in-2")
	open.Submitted("task-b")
	session.PutRequest(gen, done)
	session.PutRequest(gen, open)

	results := output.NewHandler()
	client := newFakeClient(inputs)
	client.byRemote["task-b"] = "in-2"

	engine := newEngine(client, session, results, 3)
	if err := engine.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(client.submits) != 0 {
		t.Fatalf("resume submitted: %v", client.submits)
	}
	if client.pollCount("in-1") != 0 {
		t.Fatal("terminal request was polled")
	}
	req, _ := session.Request("r2")
	if req.Status != task.StatusCompleted {
		t.Fatalf("request = %+v", req)
	}
	if got := results.Stats(); got.Total != 2 || got.Completed != 2 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestResumeSubmitsInputsLeftByStoppedRun(t *testing.T) {
	inputs := testsupport.Inputs(20)
	session := testsupport.MustLoadSession(t, inputs)
	session.Begin("run-1", task.ModeAsync)
	results := output.NewHandler()
	client := newFakeClient(inputs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := asyncengine.New(client, session, results, asyncengine.Options{
		Concurrency:  5,
		PollInterval: time.Millisecond,
		Checkpoint: func(context.Context) error {
			cancel()
			return nil
		},
	})
	if err := engine.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := len(session.Requests()); got != 5 {
		t.Fatalf("requests after first chunk = %d, want 5", got)
	}

	snap := session.Snapshot()
	snap.Results = results.Results()
	if !snap.Resumable() {
		t.Fatal("stopped run with unsubmitted inputs should be resumable")
	}
	if got := len(taskstore.Unsubmitted(snap.Inputs, snap.AsyncTask.Requests, snap.Results)); got != 15 {
		t.Fatalf("unsubmitted = %d, want 15", got)
	}

	restored := taskstore.NewSession()
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	resumed := output.NewHandler()
	resumed.Restore(snap.Results)
	if err := newEngine(client, restored, resumed, 3).Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}

	want := output.Stats{Total: 20, Completed: 20}
	if got := resumed.Stats(); got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
	for _, in := range inputs {
		if client.submits[in.ID] != 1 {
			t.Fatalf("%s submitted %d times", in.ID, client.submits[in.ID])
		}
	}
	final := restored.Snapshot()
	final.Results = resumed.Results()
	if final.Resumable() {
		t.Fatal("finished session still reports outstanding work")
	}
}

func TestCancelDuringSubmitKeepsAcceptedTasks(t *testing.T) {
	inputs := testsupport.Inputs(5)
	session := testsupport.MustLoadSession(t, inputs)
	results := output.NewHandler()
	client := newFakeClient(inputs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.hold = func(ctx context.Context, inputID string) error {
		if inputID != "in-5" {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}
	go func() {
		for {
			client.mu.Lock()
			accepted := len(client.byRemote)
			client.mu.Unlock()
			if accepted == 4 {
				time.Sleep(20 * time.Millisecond)
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if err := newEngine(client, session, results, 3).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := len(session.Requests()); got != 4 {
		t.Fatalf("requests = %d, want the 4 accepted submissions", got)
	}
	if got := results.Stats(); got.Failed != 0 {
		t.Fatalf("cancelled submission was marked failed: %+v", got)
	}
	left := taskstore.Unsubmitted(session.Inputs(), session.Requests(), results.Results())
	if len(left) != 1 || left[0].ID != "in-5" {
		t.Fatalf("unsubmitted = %+v", left)
	}
}
