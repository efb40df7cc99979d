package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vodpipe/internal/logging"
	"vodpipe/internal/media"
	"vodpipe/internal/services"
)

const writeTimeout = 3 * time.Second

// Reporter is the only writer of one upload's record. Percent never
// decreases, and once a terminal status is written later calls are ignored.
// Store failures are logged, never returned: progress is advisory and must
// not fail the job.
type Reporter struct {
	mu      sync.Mutex
	tracker *Tracker
	current Record
	logger  *slog.Logger
}

// Snapshot returns the last record written.
func (r *Reporter) Snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.clone()
}

// Stage records entry into stage at percent.
func (r *Reporter) Stage(ctx context.Context, stage string, percent float64, message string) {
	r.update(ctx, func(rec *Record) {
		rec.Status = StatusProcessing
		rec.Stage = stage
		rec.Message = message
		rec.Percent = clampPercent(rec.Percent, percent)
	})
}

// Progress moves percent forward within the current stage.
func (r *Reporter) Progress(ctx context.Context, percent float64, message string) {
	r.update(ctx, func(rec *Record) {
		rec.Percent = clampPercent(rec.Percent, percent)
		if message != "" {
			rec.Message = message
		}
	})
}

// SetMetadata attaches probed source metadata.
func (r *Reporter) SetMetadata(ctx context.Context, meta media.Metadata) {
	r.update(ctx, func(rec *Record) {
		rec.Metadata = &meta
	})
}

// Complete writes the terminal success record.
func (r *Reporter) Complete(ctx context.Context, stage string, playback Playback) {
	r.finish(ctx, func(rec *Record) {
		rec.Status = StatusComplete
		rec.Stage = stage
		rec.Percent = 100
		rec.Message = "ready for playback"
		rec.Playback = &playback
	})
}

// Fail writes the terminal failure record with a user-safe message. The
// technical detail of err stays in the logs.
func (r *Reporter) Fail(ctx context.Context, stage string, err error) {
	details := services.Details(err)
	r.finish(ctx, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Stage = stage
		rec.Message = "processing failed"
		rec.Error = services.UserMessage(err)
		rec.ErrorKind = string(details.Kind)
		rec.Hint = details.Hint
	})
}

// Cancel writes the terminal cancelled record.
func (r *Reporter) Cancel(ctx context.Context, stage string) {
	r.finish(ctx, func(rec *Record) {
		rec.Status = StatusCancelled
		rec.Stage = stage
		rec.Message = "cancelled by request"
		rec.ErrorKind = string(services.ErrorKindCancelled)
	})
}

func (r *Reporter) finish(ctx context.Context, mutate func(*Record)) {
	r.update(ctx, func(rec *Record) {
		mutate(rec)
		ended := rec.UpdatedAt
		rec.EndedAt = &ended
	})
}

func (r *Reporter) update(ctx context.Context, mutate func(*Record)) {
	r.mu.Lock()
	if r.current.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	next := r.current.clone()
	next.UpdatedAt = r.tracker.now().UTC()
	mutate(&next)
	r.current = next
	r.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := r.tracker.store.Put(writeCtx, next); err != nil {
		logging.WarnWithContext(r.logger, "progress write failed", "progress_write_failed",
			logging.String(logging.FieldStage, next.Stage),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the progress store backend"),
			logging.String(logging.FieldImpact, "pollers see stale progress"),
		)
	}
}

func clampPercent(current, next float64) float64 {
	if next > 100 {
		next = 100
	}
	if next < current {
		return current
	}
	return next
}
