package batchengine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"patentbatch/internal/logging"
	"patentbatch/internal/metrics"
	"patentbatch/internal/output"
	"patentbatch/internal/services"
	"patentbatch/internal/services/completion"
	"patentbatch/internal/task"
	"patentbatch/internal/taskstore"
)

const (
	defaultPollInterval     = 60 * time.Second
	defaultCompletionWindow = "24h"
	defaultEndpoint         = "/v4/chat/completions"
	uploadFilename          = "batch_requests.jsonl"
)

// ErrSuperseded is returned when the session was reset while the engine ran.
var ErrSuperseded = errors.New("run superseded by session reset")

// Client is the batch substrate.
type Client interface {
	UploadFile(ctx context.Context, filename string, content []byte) (string, error)
	CreateBatch(ctx context.Context, req completion.CreateBatchRequest) (completion.BatchInfo, error)
	CheckBatch(ctx context.Context, batchID string) (completion.BatchInfo, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Options configure an Engine. Zero values select defaults.
type Options struct {
	PollInterval     time.Duration
	CompletionWindow string
	Endpoint         string
	Metadata         map[string]string
	Logger           *slog.Logger
	Metrics          *metrics.Collectors
	// Checkpoint persists the session. It runs right after the batch is
	// created and after every status change.
	Checkpoint func(context.Context) error
	OnProgress func(output.Stats)
}

// Engine runs one batch session.
type Engine struct {
	client  Client
	session *taskstore.Session
	results *output.Handler
	opts    Options
	logger  *slog.Logger
}

// New constructs an engine bound to session and results.
func New(client Client, session *taskstore.Session, results *output.Handler, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.CompletionWindow == "" {
		opts.CompletionWindow = defaultCompletionWindow
	}
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	return &Engine{
		client:  client,
		session: session,
		results: results,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "batch"),
	}
}

// Run submits every loaded input as one batch job and waits for its results.
func (e *Engine) Run(ctx context.Context) error {
	generation := e.session.Generation()
	logger := logging.WithContext(ctx, e.logger)
	if e.session.Batch().HasOutstandingJob() {
		return services.Wrap(services.ErrValidation, "batch", "run", "a batch job is already outstanding; recover it instead", nil)
	}

	inputs := e.session.Inputs()
	content, err := GenerateJSONL(inputs, e.session.Template(), e.opts.Endpoint)
	if err != nil {
		return err
	}
	if !e.setBatch(generation, func(b *task.BatchTask) {
		b.JSONLContent = string(content)
		b.Status = task.BatchGenerated
		b.CreatedAt = time.Now().UTC()
	}) {
		return ErrSuperseded
	}
	e.trackInputs(inputs)
	logger.Info("batch file generated", logging.Int("requests", len(inputs)), logging.Int("bytes", len(content)))

	start := time.Now()
	fileID, err := e.client.UploadFile(ctx, uploadFilename, content)
	e.opts.Metrics.ObserveRemote("upload", start)
	if err != nil {
		return e.failRun(ctx, generation, "upload", services.Wrap(services.ErrSubmission, "batch", "upload", "", err))
	}
	if !e.setBatch(generation, func(b *task.BatchTask) {
		b.FileID = fileID
		b.Status = task.BatchUploaded
	}) {
		return ErrSuperseded
	}
	logger.Info("batch file uploaded", logging.String("file_id", fileID))

	start = time.Now()
	info, err := e.client.CreateBatch(ctx, completion.CreateBatchRequest{
		InputFileID:      fileID,
		Endpoint:         e.opts.Endpoint,
		CompletionWindow: e.opts.CompletionWindow,
		Metadata:         e.opts.Metadata,
	})
	e.opts.Metrics.ObserveRemote("create", start)
	if err != nil {
		return e.failRun(ctx, generation, "create", services.Wrap(services.ErrSubmission, "batch", "create", "", err))
	}
	status := info.Status
	if status == "" {
		status = task.BatchCreated
	}
	if !e.setBatch(generation, func(b *task.BatchTask) {
		b.BatchID = info.ID
		b.Status = status
	}) {
		return ErrSuperseded
	}
	e.opts.Metrics.Submission(task.ModeBatch, "ok")
	e.checkpoint(ctx)
	logger.Info("batch created",
		logging.String(logging.FieldBatchID, info.ID),
		logging.String("status", string(status)),
	)

	return e.poll(ctx, generation)
}

// Recover re-attaches to the batch job recorded in the session and resumes
// polling. It never submits.
func (e *Engine) Recover(ctx context.Context) error {
	generation := e.session.Generation()
	batch := e.session.Batch()
	if batch.BatchID == "" {
		return services.Wrap(services.ErrValidation, "batch", "recover", "session has no batch id", nil)
	}
	e.trackInputs(e.session.Inputs())
	logging.WithContext(ctx, e.logger).Info("batch recovered",
		logging.String(logging.FieldBatchID, batch.BatchID),
		logging.String("status", string(batch.Status)),
	)
	return e.poll(ctx, generation)
}

func (e *Engine) poll(ctx context.Context, generation uint64) error {
	logger := logging.WithContext(ctx, e.logger)
	batchID := e.session.Batch().BatchID
	logger = logger.With(logging.String(logging.FieldBatchID, batchID))
	var last task.BatchStatus
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.session.Generation() != generation {
			return ErrSuperseded
		}

		start := time.Now()
		info, err := e.client.CheckBatch(ctx, batchID)
		e.opts.Metrics.ObserveRemote("check", start)
		if err != nil {
			e.opts.Metrics.Poll(task.ModeBatch, "error")
			e.setBatch(generation, func(b *task.BatchTask) { b.LastError = err.Error() })
			logging.WarnWithContext(logger, "batch status check failed",
				"batch_poll_failed",
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.String(logging.FieldErrorHint, "status checked again next interval"),
				logging.Error(err),
			)
		} else {
			e.opts.Metrics.Poll(task.ModeBatch, string(info.Status))
			if !e.setBatch(generation, func(b *task.BatchTask) {
				b.Status = info.Status
				b.RequestCounts = info.RequestCounts
				b.OutputFileID = info.OutputFileID
				b.ErrorFileID = info.ErrorFileID
				b.LastError = info.Errors
			}) {
				return ErrSuperseded
			}
			e.opts.Metrics.BatchStatus(info.Status)
			if info.Status != last {
				last = info.Status
				e.checkpoint(ctx)
				logger.Info("batch status",
					logging.String("status", string(info.Status)),
					logging.Int("total", info.RequestCounts.Total),
					logging.Int("completed", info.RequestCounts.Completed),
					logging.Int("failed", info.RequestCounts.Failed),
				)
			}

			switch {
			case info.Status == task.BatchCompleted:
				err := e.collect(ctx, generation, info)
				if err == nil {
					e.checkpoint(ctx)
					e.report()
					stats := e.results.Stats()
					logger.Info("batch run finished",
						logging.Int("completed", stats.Completed),
						logging.Int("failed", stats.Failed),
					)
					return nil
				}
				if errors.Is(err, ErrSuperseded) {
					return err
				}
				logging.WarnWithContext(logger, "batch result download failed",
					"batch_download_failed",
					logging.String(logging.FieldErrorKind, services.Kind(err)),
					logging.String(logging.FieldErrorHint, "download retried next interval"),
					logging.Error(err),
				)
			case info.Status.IsFailure():
				reason := info.Errors
				if reason == "" {
					reason = "batch " + string(info.Status)
				}
				err := services.Wrap(services.ErrTerminalBatch, "batch", "poll", reason, nil)
				return e.failRun(ctx, generation, "poll", err)
			}
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

// collect downloads and applies the output file and, when present, the error
// file. Inputs with no line in either file are failed.
func (e *Engine) collect(ctx context.Context, generation uint64, info completion.BatchInfo) error {
	var parsed []task.Result
	var raw string
	for _, fileID := range []string{info.OutputFileID, info.ErrorFileID} {
		if fileID == "" {
			continue
		}
		start := time.Now()
		content, err := e.client.DownloadFile(ctx, fileID)
		e.opts.Metrics.ObserveRemote("download", start)
		if err != nil {
			return err
		}
		if fileID == info.OutputFileID {
			raw = string(content)
		}
		parsed = append(parsed, ParseResults(content)...)
	}
	if e.session.Generation() != generation {
		return ErrSuperseded
	}
	e.session.UpdateBatch(generation, func(b *task.BatchTask) { b.ResultContent = raw })

	inputs := e.session.Inputs()
	for _, r := range parsed {
		inputID := r.Key
		if idx, ok := customIndex(r.Key); ok && idx < len(inputs) {
			inputID = inputs[idx].ID
		}
		patch := task.ResultPatch{InputID: inputID, Status: r.Status, Content: r.Content, Error: r.Error, Raw: r.Raw}
		if !r.Usage.IsZero() {
			usage := r.Usage
			patch.Usage = &usage
			e.opts.Metrics.Tokens(usage)
		}
		e.results.Update(r.Key, patch)
		e.opts.Metrics.Transition(r.Status)
		if r.Status == task.StatusFailed {
			logging.WarnWithContext(logging.WithContext(ctx, e.logger), "batch line failed",
				"batch_line_failed",
				logging.String(logging.FieldCustomID, r.Key),
				logging.String(logging.FieldImpact, "input marked failed"),
				logging.String("error", r.Error),
			)
		}
	}

	for i := range inputs {
		key := task.CustomID(i)
		if r, ok := e.results.Result(key); ok && !r.Status.IsTerminal() {
			e.results.Update(key, task.ResultPatch{Status: task.StatusFailed, Error: "no result line returned for " + key})
			e.opts.Metrics.Transition(task.StatusFailed)
		}
	}
	return nil
}

// failRun marks every unfinished result failed with err and returns err.
func (e *Engine) failRun(ctx context.Context, generation uint64, stage string, err error) error {
	if e.session.Generation() != generation {
		return ErrSuperseded
	}
	e.setBatch(generation, func(b *task.BatchTask) { b.LastError = err.Error() })
	for _, r := range e.results.Results() {
		if !r.Status.IsTerminal() {
			e.results.Update(r.Key, task.ResultPatch{Status: task.StatusFailed, Error: err.Error()})
			e.opts.Metrics.Transition(task.StatusFailed)
		}
	}
	if stage != "poll" {
		e.opts.Metrics.Submission(task.ModeBatch, "error")
	}
	e.checkpoint(ctx)
	e.report()
	logging.ErrorWithContext(logging.WithContext(ctx, e.logger), "batch run failed",
		"batch_"+stage+"_failed",
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.String(logging.FieldErrorHint, "inspect the batch job on the remote service"),
		logging.Error(err),
	)
	return err
}

// trackInputs registers a pending result per custom id, leaving existing
// results untouched.
func (e *Engine) trackInputs(inputs []task.Input) {
	for i, in := range inputs {
		e.results.Add(task.Result{Key: task.CustomID(i), InputID: in.ID, Status: task.StatusPending})
	}
	e.report()
}

func (e *Engine) setBatch(generation uint64, fn func(*task.BatchTask)) bool {
	return e.session.UpdateBatch(generation, fn)
}

func (e *Engine) checkpoint(ctx context.Context) {
	if e.opts.Checkpoint == nil {
		return
	}
	if err := e.opts.Checkpoint(ctx); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "checkpoint failed",
			"session_checkpoint_failed",
			logging.String(logging.FieldErrorHint, "check the session store"),
			logging.String(logging.FieldImpact, "recover may not find the batch id"),
			logging.Error(err),
		)
	}
}

func (e *Engine) report() {
	e.opts.Metrics.Results(e.results.Counts())
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(e.results.Stats())
	}
}
