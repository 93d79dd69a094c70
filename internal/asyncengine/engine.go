package asyncengine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"patentbatch/internal/logging"
	"patentbatch/internal/metrics"
	"patentbatch/internal/output"
	"patentbatch/internal/prompt"
	"patentbatch/internal/services"
	"patentbatch/internal/services/completion"
	"patentbatch/internal/task"
	"patentbatch/internal/taskstore"
)

const (
	defaultConcurrency  = 5
	defaultPollInterval = 5 * time.Second
	defaultMaxRetries   = 3
)

// ErrSuperseded is returned when the session was reset while the engine ran.
var ErrSuperseded = errors.New("run superseded by session reset")

// Client is the async substrate.
type Client interface {
	Submit(ctx context.Context, body prompt.RequestBody) (string, error)
	Retrieve(ctx context.Context, taskID string) (completion.Retrieval, error)
}

// Options configure an Engine. Zero values select defaults.
type Options struct {
	Concurrency  int
	PollInterval time.Duration
	MaxRetries   int
	Logger       *slog.Logger
	Metrics      *metrics.Collectors
	// Checkpoint persists the session after each submission chunk and poll
	// iteration. Errors are logged and the run continues.
	Checkpoint func(context.Context) error
	// OnProgress receives stats after every applied batch of outcomes.
	OnProgress func(output.Stats)
	// NewRequestID overrides request id generation.
	NewRequestID func() string
}

// Engine runs one async session.
type Engine struct {
	client   Client
	session  *taskstore.Session
	results  *output.Handler
	opts     Options
	logger   *slog.Logger
	gate     chan struct{}
	progress *logging.ProgressSampler
}

// New constructs an engine bound to session and results.
func New(client Client, session *taskstore.Session, results *output.Handler, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.NewRequestID == nil {
		opts.NewRequestID = uuid.NewString
	}
	return &Engine{
		client:   client,
		session:  session,
		results:  results,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "async"),
		gate:     make(chan struct{}, opts.Concurrency),
		progress: logging.NewProgressSampler(10),
	}
}

// Run submits every loaded input and polls until all requests are terminal.
func (e *Engine) Run(ctx context.Context) error {
	generation := e.session.Generation()
	inputs := e.session.Inputs()
	tpl := e.session.Template()
	logger := logging.WithContext(ctx, e.logger)

	logger.Info("async run started",
		logging.Int("inputs", len(inputs)),
		logging.Int("concurrency", e.opts.Concurrency),
		logging.Duration("poll_interval", e.opts.PollInterval),
		logging.Int("max_retries", e.opts.MaxRetries),
	)

	if err := e.submitAll(ctx, generation, inputs, tpl, logger); err != nil {
		return err
	}
	return e.pollLoop(ctx, generation)
}

// Resume continues a restored run. Inputs a stopped run never submitted are
// submitted first; restored requests are polled, not submitted again.
// Retrying requests are still re-submitted by the poll loop.
func (e *Engine) Resume(ctx context.Context) error {
	generation := e.session.Generation()
	logger := logging.WithContext(ctx, e.logger)
	for _, req := range e.session.Requests() {
		e.results.Update(req.RequestID, task.ResultPatch{InputID: req.InputID, Status: req.Status})
	}
	unsubmitted := taskstore.Unsubmitted(e.session.Inputs(), e.session.Requests(), e.results.Results())
	logger.Info("async run resumed",
		logging.Int("outstanding", len(e.session.Pending())),
		logging.Int("unsubmitted", len(unsubmitted)),
	)
	if err := e.submitAll(ctx, generation, unsubmitted, e.session.Template(), logger); err != nil {
		return err
	}
	return e.pollLoop(ctx, generation)
}

func (e *Engine) submitAll(ctx context.Context, generation uint64, inputs []task.Input, tpl task.Template, logger *slog.Logger) error {
	for start := 0; start < len(inputs); start += e.opts.Concurrency {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+e.opts.Concurrency, len(inputs))
		if err := e.submitChunk(ctx, generation, inputs[start:end], tpl); err != nil {
			return err
		}
		e.checkpoint(ctx)
		e.report(logger, "submit")
	}
	return nil
}

func (e *Engine) pollLoop(ctx context.Context, generation uint64) error {
	logger := logging.WithContext(ctx, e.logger)
	iteration := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.session.Generation() != generation {
			return ErrSuperseded
		}
		pending := e.session.Pending()
		if len(pending) == 0 {
			stats := e.results.Stats()
			logger.Info("async run finished",
				logging.Int("completed", stats.Completed),
				logging.Int("failed", stats.Failed),
				logging.Int("iterations", iteration),
			)
			return nil
		}

		iteration++
		var resubmit, fetch []task.Request
		for _, req := range pending {
			if req.NeedsResubmit() {
				resubmit = append(resubmit, req)
			} else {
				fetch = append(fetch, req)
			}
		}
		if len(resubmit) > 0 {
			if err := e.resubmit(ctx, generation, resubmit); err != nil {
				return err
			}
		}
		if len(fetch) > 0 {
			if err := e.fetch(ctx, generation, fetch); err != nil {
				return err
			}
		}
		e.checkpoint(ctx)
		e.report(logger, "poll")

		if len(e.session.Pending()) == 0 {
			continue
		}
		timer := time.NewTimer(e.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type submitOutcome struct {
	input     task.Input
	requestID string
	remoteID  string
	err       error
}

func (e *Engine) submitChunk(ctx context.Context, generation uint64, chunk []task.Input, tpl task.Template) error {
	outcomes := make(chan submitOutcome, len(chunk))
	for _, in := range chunk {
		requestID := e.opts.NewRequestID()
		body := prompt.BuildRequestBody(in, tpl)
		e.spawn(ctx, func() {
			start := time.Now()
			remoteID, err := e.client.Submit(services.WithRequestID(ctx, requestID), body)
			e.opts.Metrics.ObserveRemote("submit", start)
			outcomes <- submitOutcome{input: in, requestID: requestID, remoteID: remoteID, err: err}
		})
	}
	for range chunk {
		var out submitOutcome
		select {
		case out = <-outcomes:
		case <-ctx.Done():
			drain(e, generation, outcomes, func(out submitOutcome) { e.applySubmit(ctx, generation, out) })
			return ctx.Err()
		}
		if e.session.Generation() != generation {
			return ErrSuperseded
		}
		e.applySubmit(ctx, generation, out)
	}
	return nil
}

func (e *Engine) applySubmit(ctx context.Context, generation uint64, out submitOutcome) {
	if out.err != nil && ctx.Err() != nil {
		// Left unsubmitted; Resume picks the input up again.
		return
	}
	logger := logging.WithContext(services.WithRequestID(ctx, out.requestID), e.logger)
	if out.err != nil {
		e.opts.Metrics.Submission(task.ModeAsync, "error")
		err := out.err
		if !errors.Is(err, services.ErrSubmission) {
			err = services.Wrap(services.ErrSubmission, "async", "submit", "", err)
		}
		e.results.Add(task.Result{
			Key:     out.requestID,
			InputID: out.input.ID,
			Status:  task.StatusFailed,
			Error:   err.Error(),
		})
		e.opts.Metrics.Transition(task.StatusFailed)
		logging.WarnWithContext(logger, "submission failed",
			"async_submit_failed",
			logging.String("input_id", out.input.ID),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldImpact, "input marked failed"),
			logging.Error(err),
		)
		return
	}

	req := task.NewRequest(out.requestID, out.input.ID)
	req.Submitted(out.remoteID)
	if !e.session.PutRequest(generation, req) {
		return
	}
	e.results.Add(task.Result{Key: out.requestID, InputID: out.input.ID, Status: task.StatusPending})
	e.opts.Metrics.Submission(task.ModeAsync, "ok")
	e.opts.Metrics.Transition(task.StatusPending)
	logger.Debug("submitted",
		logging.String("input_id", out.input.ID),
		logging.String(logging.FieldTaskID, out.remoteID),
	)
}

func (e *Engine) resubmit(ctx context.Context, generation uint64, reqs []task.Request) error {
	tpl := e.session.Template()
	outcomes := make(chan submitOutcome, len(reqs))
	for _, req := range reqs {
		in, ok := e.session.Input(req.InputID)
		if !ok {
			outcomes <- submitOutcome{requestID: req.RequestID, err: services.Wrap(services.ErrSubmission, "async", "resubmit", "input "+req.InputID+" no longer loaded", nil)}
			continue
		}
		requestID := req.RequestID
		body := prompt.BuildRequestBody(in, tpl)
		e.spawn(ctx, func() {
			start := time.Now()
			remoteID, err := e.client.Submit(services.WithRequestID(ctx, requestID), body)
			e.opts.Metrics.ObserveRemote("submit", start)
			outcomes <- submitOutcome{input: in, requestID: requestID, remoteID: remoteID, err: err}
		})
	}
	for range reqs {
		var out submitOutcome
		select {
		case out = <-outcomes:
		case <-ctx.Done():
			drain(e, generation, outcomes, func(out submitOutcome) { e.applyResubmit(ctx, generation, out) })
			return ctx.Err()
		}
		if e.session.Generation() != generation {
			return ErrSuperseded
		}
		e.applyResubmit(ctx, generation, out)
	}
	return nil
}

func (e *Engine) applyResubmit(ctx context.Context, generation uint64, out submitOutcome) {
	req, ok := e.session.Request(out.requestID)
	if !ok || !req.NeedsResubmit() || (out.err != nil && ctx.Err() != nil) {
		return
	}
	logger := logging.WithContext(services.WithRequestID(ctx, out.requestID), e.logger)
	if out.err != nil {
		err := out.err
		if !errors.Is(err, services.ErrSubmission) {
			err = services.Wrap(services.ErrSubmission, "async", "resubmit", "", err)
		}
		req.Fail(err.Error())
		if !e.session.PutRequest(generation, req) {
			return
		}
		e.results.Update(req.RequestID, task.ResultPatch{Status: task.StatusFailed, Error: err.Error()})
		e.opts.Metrics.Submission(task.ModeAsync, "error")
		e.opts.Metrics.Transition(task.StatusFailed)
		logging.WarnWithContext(logger, "re-submission failed",
			"async_resubmit_failed",
			logging.String("input_id", req.InputID),
			logging.Int("retries", req.Retries),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldImpact, "input marked failed"),
			logging.Error(err),
		)
		return
	}
	req.Submitted(out.remoteID)
	if !e.session.PutRequest(generation, req) {
		return
	}
	e.results.Update(req.RequestID, task.ResultPatch{Status: req.Status})
	e.opts.Metrics.Submission(task.ModeAsync, "resubmit")
	e.opts.Metrics.Transition(req.Status)
	logger.Info("re-submitted",
		logging.String("input_id", req.InputID),
		logging.Int("retries", req.Retries),
		logging.String(logging.FieldTaskID, out.remoteID),
	)
}

type fetchOutcome struct {
	requestID string
	remoteID  string
	retrieval completion.Retrieval
	err       error
}

func (e *Engine) fetch(ctx context.Context, generation uint64, reqs []task.Request) error {
	outcomes := make(chan fetchOutcome, len(reqs))
	for _, req := range reqs {
		requestID, remoteID := req.RequestID, req.RemoteTaskID
		e.spawn(ctx, func() {
			start := time.Now()
			r, err := e.client.Retrieve(services.WithRequestID(ctx, requestID), remoteID)
			e.opts.Metrics.ObserveRemote("retrieve", start)
			outcomes <- fetchOutcome{requestID: requestID, remoteID: remoteID, retrieval: r, err: err}
		})
	}
	for range reqs {
		var out fetchOutcome
		select {
		case out = <-outcomes:
		case <-ctx.Done():
			drain(e, generation, outcomes, func(out fetchOutcome) { e.applyFetch(ctx, generation, out) })
			return ctx.Err()
		}
		if e.session.Generation() != generation {
			return ErrSuperseded
		}
		e.applyFetch(ctx, generation, out)
	}
	return nil
}

func (e *Engine) applyFetch(ctx context.Context, generation uint64, out fetchOutcome) {
	if out.err != nil && ctx.Err() != nil {
		return
	}
	req, ok := e.session.RequestByRemote(out.remoteID)
	if !ok || req.RequestID != out.requestID || req.IsTerminal() {
		return
	}
	logger := logging.WithContext(services.WithRequestID(ctx, out.requestID), e.logger)

	if out.err != nil {
		if errors.Is(out.err, services.ErrParse) {
			e.opts.Metrics.Poll(task.ModeAsync, "parse_error")
			req.Fail(out.err.Error())
			if !e.session.PutRequest(generation, req) {
				return
			}
			e.results.Update(req.RequestID, task.ResultPatch{
				Status: task.StatusFailed,
				Error:  out.err.Error(),
				Raw:    out.retrieval.Raw,
			})
			e.opts.Metrics.Transition(task.StatusFailed)
			logging.WarnWithContext(logger, "malformed poll response",
				"async_parse_failed",
				logging.String(logging.FieldTaskID, out.remoteID),
				logging.String(logging.FieldErrorKind, services.Kind(out.err)),
				logging.String(logging.FieldImpact, "input marked failed"),
				logging.Error(out.err),
			)
			return
		}
		e.opts.Metrics.Poll(task.ModeAsync, "transport_error")
		req.NoteError(out.err.Error())
		e.session.PutRequest(generation, req)
		logging.WarnWithContext(logger, "poll failed",
			"async_poll_failed",
			logging.String(logging.FieldTaskID, out.remoteID),
			logging.String(logging.FieldErrorKind, services.Kind(out.err)),
			logging.String(logging.FieldErrorHint, "poll retried next interval"),
			logging.Error(out.err),
		)
		return
	}

	r := out.retrieval
	e.opts.Metrics.Poll(task.ModeAsync, string(r.Status))
	switch r.Status {
	case task.RemoteSuccess:
		if !req.Observe(r.Status, e.opts.MaxRetries) || !e.session.PutRequest(generation, req) {
			return
		}
		usage := r.Usage
		e.results.Update(req.RequestID, task.ResultPatch{Status: task.StatusCompleted, Content: r.Content, Usage: &usage})
		e.opts.Metrics.Tokens(usage)
		e.opts.Metrics.Transition(task.StatusCompleted)
		logger.Debug("completed", logging.String("input_id", req.InputID), logging.Int("total_tokens", usage.TotalTokens))

	case task.RemoteFailed:
		reason := r.Error
		if reason == "" {
			reason = "remote task failed"
		}
		req.NoteError(reason)
		if !req.Observe(r.Status, e.opts.MaxRetries) || !e.session.PutRequest(generation, req) {
			return
		}
		e.opts.Metrics.Retry()
		e.opts.Metrics.Transition(req.Status)
		if req.Status == task.StatusFailed {
			err := services.Wrap(services.ErrTransientRemote, "async", "poll",
				"failed after "+strconv.Itoa(req.Retries)+" attempts", errors.New(reason))
			e.results.Update(req.RequestID, task.ResultPatch{Status: task.StatusFailed, Error: err.Error(), Raw: r.Raw})
			logging.WarnWithContext(logger, "retries exhausted",
				"async_retries_exhausted",
				logging.String("input_id", req.InputID),
				logging.Int("retries", req.Retries),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.String(logging.FieldImpact, "input marked failed"),
				logging.Error(err),
			)
			return
		}
		e.results.Update(req.RequestID, task.ResultPatch{Status: task.StatusRetrying, Error: reason})
		logger.Info("remote task failed; retrying",
			logging.String("input_id", req.InputID),
			logging.Int("retries", req.Retries),
			logging.Int("max_retries", e.opts.MaxRetries),
		)

	case task.RemoteProcessing:
		if !req.Observe(r.Status, e.opts.MaxRetries) || !e.session.PutRequest(generation, req) {
			return
		}
		e.results.Update(req.RequestID, task.ResultPatch{Status: task.StatusProcessing})
		e.opts.Metrics.Transition(task.StatusProcessing)
	}
}

// drain applies the outcomes workers already delivered before the run
// stopped, so a task the remote service accepted is still recorded.
func drain[T any](e *Engine, generation uint64, outcomes <-chan T, apply func(T)) {
	for {
		select {
		case out := <-outcomes:
			if e.session.Generation() != generation {
				return
			}
			apply(out)
		default:
			return
		}
	}
}

// spawn runs fn on a worker goroutine once the gate admits it.
func (e *Engine) spawn(ctx context.Context, fn func()) {
	go func() {
		select {
		case e.gate <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-e.gate }()
		fn()
	}()
}

func (e *Engine) checkpoint(ctx context.Context) {
	if e.opts.Checkpoint == nil {
		return
	}
	if err := e.opts.Checkpoint(ctx); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "checkpoint failed",
			"session_checkpoint_failed",
			logging.String(logging.FieldErrorHint, "check the session store"),
			logging.String(logging.FieldImpact, "resume may repeat work"),
			logging.Error(err),
		)
	}
}

func (e *Engine) report(logger *slog.Logger, phase string) {
	stats := e.results.Stats()
	e.opts.Metrics.Results(e.results.Counts())
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(stats)
	}
	total := len(e.session.Inputs())
	if e.progress.ShouldLog(phase, stats.Finished(), total) {
		logger.Info("async progress",
			logging.String("phase", phase),
			logging.Int("completed", stats.Completed),
			logging.Int("failed", stats.Failed),
			logging.Int("processing", stats.Processing),
			logging.Int("pending", stats.Pending),
			logging.Int("total", total),
		)
	}
}
