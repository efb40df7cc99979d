package progress

import (
	"context"
	"log/slog"
	"time"

	"vodpipe/internal/logging"
)

// Tracker is the read side used by pollers plus the factory for per-job
// Reporters.
type Tracker struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker wraps store. ttl bounds how long records are kept.
func NewTracker(store Store, ttl time.Duration, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tracker{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logging.NewComponentLogger(logger, "progress"),
	}
}

// WithClock replaces the time source (tests).
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	if now != nil {
		t.now = now
	}
	return t
}

// Get returns the record for uploadID with its ETA filled in. A missing or
// evicted record yields an error wrapping services.ErrNotFound.
func (t *Tracker) Get(ctx context.Context, uploadID string) (Record, error) {
	rec, err := t.store.Get(ctx, uploadID)
	if err != nil {
		return Record{}, err
	}
	if eta, ok := rec.ETA(t.now()); ok {
		eta = eta.UTC().Truncate(time.Second)
		rec.EstimatedCompletion = &eta
	}
	return rec, nil
}

// Put writes rec as is. Intake uses it for the initial uploading record.
func (t *Tracker) Put(ctx context.Context, rec Record) error {
	now := t.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.CreatedAt
	}
	rec.UpdatedAt = now
	return t.store.Put(ctx, rec)
}

// Reporter returns the single writer for the job described by base.
func (t *Tracker) Reporter(base Record) *Reporter {
	return &Reporter{
		tracker: t,
		current: base.clone(),
		logger:  t.logger.With(logging.String(logging.FieldUploadID, base.UploadID)),
	}
}

// Sweep evicts records older than the TTL.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	removed, err := t.store.Sweep(ctx, t.now().Add(-t.ttl))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		t.logger.Debug("progress records evicted",
			logging.Int("count", removed),
			logging.String(logging.FieldEventType, "progress_sweep"),
		)
	}
	return removed, nil
}

// RunSweeper sweeps every interval until ctx ends.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := t.Sweep(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(t.logger, "progress sweep failed", "progress_sweep_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the progress store backend"),
					logging.String(logging.FieldImpact, "expired progress records retained until next sweep"),
				)
			}
		}
	}
}
