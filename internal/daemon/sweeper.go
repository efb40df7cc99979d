package daemon

import (
	"context"
	"time"

	"vodpipe/internal/logging"
	"vodpipe/internal/staging"
)

// runStagingSweeper periodically removes abandoned staging workspaces.
func (d *Daemon) runStagingSweeper(ctx context.Context) error {
	interval := d.cfg.SweepInterval()
	maxAge := time.Duration(d.cfg.Pipeline.StaleStagingHours) * time.Hour
	if interval <= 0 || maxAge <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result := staging.CleanStale(ctx, d.cfg.Paths.StagingDir, maxAge, d.workflow.InFlight, d.logger)
			d.logSweep("stale", result)
		}
	}
}

func (d *Daemon) logSweep(reason string, result staging.CleanStaleResult) {
	for _, failure := range result.Errors {
		logging.WarnWithContext(d.logger, "staging sweep failed", "cleanup_failed",
			logging.String("path", failure.Path),
			logging.Error(failure.Error),
			logging.String(logging.FieldErrorHint, "check staging directory permissions"),
			logging.String(logging.FieldImpact, "staging space not reclaimed"),
		)
	}
	if len(result.Removed) > 0 {
		d.logger.Info("staging workspaces removed",
			logging.String("reason", reason),
			logging.Int("count", len(result.Removed)),
			logging.String(logging.FieldEventType, "staging_swept"),
		)
	}
}
