package workflow

import (
	"context"
	"errors"

	"vodpipe/internal/audit"
	"vodpipe/internal/catalog"
	"vodpipe/internal/logging"
	"vodpipe/internal/notifications"
	"vodpipe/internal/services"
	"vodpipe/internal/stage"
)

// finish settles the job after execute returns. parent is the worker context
// and ctx the job context derived from it.
func (r *jobRun) finish(parent, ctx context.Context, err error) {
	cancelRequested := r.job.settle()
	switch {
	case err == nil:
		r.complete(ctx)
	case cancelRequested && services.KindOf(err) == services.ErrorKindCancelled:
		r.fail(ctx, err)
	case cancelRequested && interruptedBy(ctx, err):
		// A DELETE was already acknowledged; shutdown must not turn it back
		// into a recoverable job.
		r.fail(ctx, cancelledAt(r.state.current))
	case parent.Err() != nil && interruptedBy(ctx, err):
		r.interrupted(ctx, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && interruptedBy(ctx, err):
		logging.WithContext(ctx, r.logger).Debug("job deadline reached", logging.Error(err))
		r.fail(ctx, services.WithHint(
			services.Wrap(services.ErrPermanent, string(r.state.current), "timeout", "processing exceeded the job time limit", context.DeadlineExceeded),
			"raise pipeline.job_timeout_minutes or upload a shorter file",
		))
	default:
		r.fail(ctx, err)
	}
}

func (r *jobRun) complete(ctx context.Context) {
	id := r.job.UploadID
	r.scope.Release()
	if err := r.ws.Remove(); err != nil {
		logging.WarnWithContext(r.logger, "workspace removal failed", "cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the stale workspace sweep will retry"),
			logging.String(logging.FieldImpact, "staging space not reclaimed"),
		)
	}
	r.reporter.Complete(ctx, string(stage.Complete), r.state.playback())
	summary := r.m.deps.Audit.JobFinished(id, audit.OutcomeComplete, r.state.location.URI)
	r.logger.Info("job completed",
		logging.String("location", r.state.location.URI),
		logging.Any("tiers", r.state.playback().Tiers),
		logging.Int("retries", summary.Retries),
		logging.Duration("duration", r.m.now().Sub(r.job.SubmittedAt)),
		logging.String(logging.FieldEventType, "job_complete"),
	)
	r.notify(ctx, notifications.EventJobCompleted, notifications.Payload{
		"location": r.state.playback().Master,
		"duration": r.m.now().Sub(r.job.SubmittedAt),
	})
}

// fail handles both failure and cancellation: every artifact is purged, the
// workspace removed and the catalog entry settled.
func (r *jobRun) fail(ctx context.Context, err error) {
	id := r.job.UploadID
	current := r.state.current
	cleanupCtx := context.WithoutCancel(ctx)
	cancelled := services.KindOf(err) == services.ErrorKindCancelled
	logger := logging.WithContext(services.WithStage(ctx, string(current)), r.logger)

	if cancelled {
		logger.Info("job cancelled",
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
	} else {
		r.m.setLastError(err)
		details := services.Details(err)
		attrs := []logging.Attr{
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String("operation", details.Operation),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.Alert("stage_failure"),
		}
		if details.Cause != nil {
			attrs = append(attrs, logging.Error(details.Cause))
		} else {
			attrs = append(attrs, logging.Error(err))
		}
		logging.ErrorWithContext(logger, "stage failed", "stage_failure", attrs...)
	}

	for _, cleanupErr := range r.scope.Purge(cleanupCtx) {
		r.m.deps.Audit.Record(audit.Event{UploadID: id, Type: audit.EventCleanupFailed, Stage: string(current), Detail: cleanupErr.Error()})
	}
	if rmErr := r.ws.Remove(); rmErr != nil {
		r.m.deps.Audit.Record(audit.Event{UploadID: id, Type: audit.EventCleanupFailed, Stage: string(current), Detail: rmErr.Error()})
		logging.WarnWithContext(logger, "workspace removal failed", "cleanup_failed",
			logging.Error(rmErr),
			logging.String(logging.FieldErrorHint, "the stale workspace sweep will retry"),
			logging.String(logging.FieldImpact, "staging space not reclaimed"),
		)
	}

	status := catalog.StatusFailed
	outcome := audit.OutcomeFailed
	if cancelled {
		status = catalog.StatusCancelled
		outcome = audit.OutcomeCancelled
	}
	reason := services.UserMessage(err)
	if markErr := r.m.deps.Catalog.MarkFailed(cleanupCtx, id, status, reason); markErr != nil {
		logging.ErrorWithContext(logger, "catalog status update failed", "catalog_write_failed",
			logging.Error(markErr),
			logging.String("target_status", string(status)),
			logging.String(logging.FieldErrorHint, "check catalog database health"),
		)
	}

	if cancelled {
		r.reporter.Cancel(cleanupCtx, string(current))
	} else {
		r.reporter.Fail(cleanupCtx, string(current), err)
	}
	r.m.deps.Audit.JobFinished(id, outcome, reason)
	if !cancelled {
		r.notify(cleanupCtx, notifications.EventJobFailed, notifications.Payload{
			"stage": string(current),
			"error": reason,
		})
	}
}

// notify publishes a job alert. Delivery failures are logged and otherwise
// ignored.
func (r *jobRun) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	payload["uploadID"] = r.job.UploadID
	payload["slug"] = r.job.Slug
	payload["title"] = r.job.Title
	if err := r.m.deps.Notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(r.logger, "job notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// interrupted handles worker shutdown mid-job. Generated outputs are purged
// but the staged source and the processing catalog entry stay so the job can
// be recovered on the next start.
func (r *jobRun) interrupted(ctx context.Context, err error) {
	cleanupCtx := context.WithoutCancel(ctx)
	r.scope.Purge(cleanupCtx)
	if resetErr := r.ws.ResetOutput(); resetErr != nil {
		r.logger.Debug("reset interrupted workspace failed", logging.Error(resetErr))
	}
	r.reporter.Progress(cleanupCtx, 0, "interrupted by shutdown; resumes after restart")
	logging.WarnWithContext(r.logger, "job interrupted", "job_interrupted",
		logging.String(logging.FieldStage, string(r.state.current)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "the job is re-queued when the daemon starts again"),
		logging.String(logging.FieldImpact, "processing paused"),
	)
}
