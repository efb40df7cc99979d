package workflow

import (
	"context"
	"errors"
	"fmt"

	"vodpipe/internal/audit"
	"vodpipe/internal/catalog"
	"vodpipe/internal/logging"
	"vodpipe/internal/progress"
	"vodpipe/internal/services"
	"vodpipe/internal/stage"
	"vodpipe/internal/staging"
)

// RecoveryResult lists what Recover did with each unfinished entry.
type RecoveryResult struct {
	Requeued []string
	Failed   []string
	Deferred []string
}

// Recover re-queues catalog entries a previous run left uploading or
// processing. Entries whose staged source is gone are failed. Entries that
// do not fit in the queue are left untouched for the next start.
func (m *Manager) Recover(ctx context.Context) (RecoveryResult, error) {
	var result RecoveryResult
	entries, err := m.deps.Catalog.ListByStatus(ctx, catalog.StatusUploading, catalog.StatusProcessing)
	if err != nil {
		return result, fmt.Errorf("list unfinished uploads: %w", err)
	}
	for _, entry := range entries {
		if m.InFlight(entry.UploadID) {
			continue
		}
		logger := m.logger.With(logging.String(logging.FieldUploadID, entry.UploadID))
		ws, err := staging.NewWorkspace(m.cfg.Paths.StagingDir, entry.UploadID)
		if err == nil {
			if _, err = ws.FindSource(); err == nil {
				err = ws.ResetOutput()
			}
		}
		if err != nil {
			reason := services.Wrap(services.ErrPermanent, "recovery", "locate source", "upload was interrupted before processing could resume", err)
			m.settleOrphan(ctx, entry, catalog.StatusFailed, reason)
			result.Failed = append(result.Failed, entry.UploadID)
			logging.WarnWithContext(logger, "unfinished upload could not be recovered", "job_recovery_failed",
				logging.String("previous_status", string(entry.Status)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the user must upload the file again"),
				logging.String(logging.FieldImpact, "upload marked failed"),
			)
			continue
		}

		req := Request{UploadID: entry.UploadID, Slug: entry.Slug, OwnerID: entry.OwnerID, Title: entry.Title}
		if err := m.enqueue(req, true); err != nil {
			if errors.Is(err, services.ErrBusy) {
				result.Deferred = append(result.Deferred, entry.UploadID)
				continue
			}
			return result, err
		}
		m.deps.Audit.Record(audit.Event{UploadID: entry.UploadID, Type: audit.EventJobRecovered, Detail: string(entry.Status)})
		result.Requeued = append(result.Requeued, entry.UploadID)
		logger.Info("unfinished upload re-queued",
			logging.String("previous_status", string(entry.Status)),
			logging.String(logging.FieldEventType, "job_recovered"),
		)
	}
	if len(result.Deferred) > 0 {
		logging.WarnWithContext(m.logger, "recovery deferred uploads", "job_recovery_deferred",
			logging.Int("count", len(result.Deferred)),
			logging.String(logging.FieldErrorHint, "raise pipeline.queue_size"),
			logging.String(logging.FieldImpact, "deferred uploads resume on the next start"),
		)
	}
	return result, nil
}

func (m *Manager) cancelOrphan(ctx context.Context, entry *catalog.Entry) error {
	m.deps.Audit.Record(audit.Event{UploadID: entry.UploadID, Type: audit.EventCancelRequest})
	reason := services.Wrap(services.ErrCancelled, "workflow", "cancel", "cancelled by request", nil)
	return m.settleOrphan(ctx, entry, catalog.StatusCancelled, reason)
}

// settleOrphan finishes an entry that has no running job: the workspace is
// removed and the catalog, progress record and audit log are updated.
func (m *Manager) settleOrphan(ctx context.Context, entry *catalog.Entry, status catalog.Status, reason error) error {
	if ws, err := staging.NewWorkspace(m.cfg.Paths.StagingDir, entry.UploadID); err == nil {
		if rmErr := ws.Remove(); rmErr != nil {
			m.deps.Audit.Record(audit.Event{UploadID: entry.UploadID, Type: audit.EventCleanupFailed, Detail: rmErr.Error()})
		}
	}
	if err := m.deps.Catalog.MarkFailed(ctx, entry.UploadID, status, services.UserMessage(reason)); err != nil {
		return err
	}

	base, err := m.deps.Progress.Get(ctx, entry.UploadID)
	if err != nil {
		base = progress.Record{
			UploadID:  entry.UploadID,
			Slug:      entry.Slug,
			Status:    progress.StatusProcessing,
			Stage:     string(stage.Uploaded),
			CreatedAt: entry.CreatedAt,
			StartedAt: entry.CreatedAt,
		}
	}
	reporter := m.deps.Progress.Reporter(base)
	evType := audit.EventJobFailed
	if status == catalog.StatusCancelled {
		reporter.Cancel(ctx, base.Stage)
		evType = audit.EventJobCancelled
	} else {
		reporter.Fail(ctx, base.Stage, reason)
	}
	m.deps.Audit.Record(audit.Event{UploadID: entry.UploadID, Type: evType, Detail: services.UserMessage(reason)})
	return nil
}
