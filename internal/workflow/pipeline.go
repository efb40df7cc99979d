package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vodpipe/internal/logging"
	"vodpipe/internal/progress"
	"vodpipe/internal/retry"
	"vodpipe/internal/services"
	"vodpipe/internal/stage"
	"vodpipe/internal/staging"
)

// jobRun is the execution state of one job on one worker.
type jobRun struct {
	m        *Manager
	job      *Job
	ws       staging.Workspace
	scope    *staging.Scope
	reporter *progress.Reporter
	logger   *slog.Logger
	state    jobState
}

func (m *Manager) process(parent context.Context, workerLogger *slog.Logger, job *Job) {
	defer m.release(job)
	job.started.Store(true)

	ctx := services.WithUploadID(parent, job.UploadID)
	if timeout := m.cfg.JobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	logger := logging.WithContext(ctx, workerLogger)

	ws, err := staging.NewWorkspace(m.cfg.Paths.StagingDir, job.UploadID)
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "job rejected", "job_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "upload ids must be plain identifiers"),
		)
		return
	}

	run := &jobRun{
		m:        m,
		job:      job,
		ws:       ws,
		scope:    staging.NewScope(job.UploadID, m.logger),
		reporter: m.reporterFor(ctx, job),
		logger:   logger,
		state:    jobState{current: stage.Validating},
	}

	m.deps.Audit.JobStarted(job.UploadID)
	logger.Info("job started",
		logging.String("slug", job.Slug),
		logging.Bool("recovered", job.recovered),
		logging.Duration("queued_for", m.now().Sub(job.SubmittedAt)),
		logging.String(logging.FieldEventType, "job_start"),
	)

	err = m.deps.Catalog.MarkProcessing(ctx, job.UploadID)
	if err != nil {
		err = services.Wrap(services.ErrCatalogWrite, "workflow", "mark processing", "catalog entry could not be claimed", err)
	} else {
		err = run.execute(ctx)
	}
	run.finish(parent, ctx, err)
}

// reporterFor continues the record written at intake, or starts a fresh one
// when it has been evicted.
func (m *Manager) reporterFor(ctx context.Context, job *Job) *progress.Reporter {
	base, err := m.deps.Progress.Get(ctx, job.UploadID)
	if err != nil {
		now := m.now().UTC()
		base = progress.Record{
			UploadID:  job.UploadID,
			Slug:      job.Slug,
			Status:    progress.StatusProcessing,
			Stage:     string(stage.Uploaded),
			CreatedAt: now,
			StartedAt: now,
		}
	}
	if base.Slug == "" {
		base.Slug = job.Slug
	}
	return m.deps.Progress.Reporter(base)
}

// execute walks the stage machine until Complete or the first error.
// Cancellation is only observed between stages.
func (r *jobRun) execute(ctx context.Context) error {
	for st := stage.Validating; !st.Terminal(); st = next(st) {
		r.state.current = st
		if st == stage.UpdatingCatalog {
			if !r.job.commit() {
				return cancelledAt(st)
			}
		} else if r.job.CancelRequested() {
			return cancelledAt(st)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runStage(ctx, st); err != nil {
			return err
		}
	}
	r.state.current = stage.Complete
	return nil
}

// next is the transition table of the stage machine.
func next(st stage.Name) stage.Name {
	switch st {
	case stage.Validating:
		return stage.ExtractingMetadata
	case stage.ExtractingMetadata:
		return stage.GeneratingThumbnail
	case stage.GeneratingThumbnail:
		return stage.GeneratingPoster
	case stage.GeneratingPoster:
		return stage.TranscodingHLS
	case stage.TranscodingHLS:
		return stage.MovingToFinalStorage
	case stage.MovingToFinalStorage:
		return stage.UpdatingCatalog
	case stage.UpdatingCatalog:
		return stage.Complete
	default:
		return stage.Failed
	}
}

func (r *jobRun) runStage(ctx context.Context, st stage.Name) error {
	ctx = services.WithStage(ctx, string(st))
	logger := logging.WithContext(ctx, r.logger)
	span, _ := stage.RangeOf(st)

	r.reporter.Stage(ctx, string(st), span.Start, st.Label())
	r.m.deps.Audit.StageStarted(r.job.UploadID, string(st))
	logger.Info("stage started",
		logging.Float64("progress", span.Start),
		logging.String(logging.FieldEventType, "stage_start"),
	)
	started := time.Now()

	err := r.dispatch(ctx, st)
	r.m.deps.Audit.StageFinished(r.job.UploadID, string(st), err)
	if err != nil {
		return err
	}

	r.reporter.Progress(ctx, span.End, "")
	logger.Info("stage completed",
		logging.Duration("duration", time.Since(started)),
		logging.Float64("progress", span.End),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return nil
}

func (r *jobRun) dispatch(ctx context.Context, st stage.Name) error {
	switch st {
	case stage.Validating:
		return r.validate(ctx)
	case stage.ExtractingMetadata:
		return r.extractMetadata(ctx)
	case stage.GeneratingThumbnail:
		return r.generateThumbnail(ctx)
	case stage.GeneratingPoster:
		return r.generatePoster(ctx)
	case stage.TranscodingHLS:
		return r.transcode(ctx)
	case stage.MovingToFinalStorage:
		return r.publish(ctx)
	case stage.UpdatingCatalog:
		return r.updateCatalog(ctx)
	default:
		return services.Wrap(services.ErrPermanent, string(st), "dispatch", "stage has no handler", nil)
	}
}

// withRetry runs fn under the configured backoff policy, recording each
// scheduled retry.
func (r *jobRun) withRetry(ctx context.Context, st stage.Name, operation string, fn func(context.Context) error) error {
	logger := logging.WithContext(ctx, r.logger)
	opts := append([]retry.Option{
		retry.OnRetry(func(a retry.Attempt) {
			r.m.deps.Audit.Retry(r.job.UploadID, string(st), a.Number, a.Delay, a.Err)
			logger.Warn("transient failure, retrying",
				logging.String("operation", operation),
				logging.Int("attempt", a.Number),
				logging.Duration("delay", a.Delay),
				logging.Error(a.Err),
				logging.String(logging.FieldEventType, "retry_scheduled"),
				logging.String(logging.FieldErrorHint, "retries are automatic; check host load if this repeats"),
			)
		}),
	}, r.m.retryOpts...)
	return retry.Do(ctx, r.m.policy, func(ctx context.Context, _ int) error {
		return fn(ctx)
	}, opts...)
}

func cancelledAt(st stage.Name) error {
	return services.Wrap(services.ErrCancelled, string(st), "cancel", fmt.Sprintf("cancelled before %s", st.Label()), nil)
}

// interruptedBy reports whether err stems from the job context ending rather
// than the work itself.
func interruptedBy(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || services.KindOf(err) == services.ErrorKindCancelled)
}
