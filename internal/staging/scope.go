package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"vodpipe/internal/logging"
)

// Scope collects every artifact a job creates so a failed or cancelled job
// can remove all of them in one call. Artifacts are removed in reverse
// registration order. Purge runs at most once; later calls are no-ops.
type Scope struct {
	mu       sync.Mutex
	uploadID string
	entries  []scopeEntry
	done     bool
	logger   *slog.Logger
}

type scopeEntry struct {
	label string
	fn    func(context.Context) error
}

// NewScope creates an empty cleanup scope for uploadID.
func NewScope(uploadID string, logger *slog.Logger) *Scope {
	return &Scope{
		uploadID: uploadID,
		logger:   logging.NewComponentLogger(logger, "cleanup").With(logging.String(logging.FieldUploadID, uploadID)),
	}
}

// Track registers a file or directory for removal.
func (s *Scope) Track(path string) {
	if path == "" {
		return
	}
	s.Defer(path, func(context.Context) error {
		if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

// Defer registers an arbitrary cleanup action, such as removing objects
// already published to remote storage.
func (s *Scope) Defer(label string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.entries = append(s.entries, scopeEntry{label: label, fn: fn})
}

// Len reports how many cleanup actions are registered.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Labels lists registered actions in registration order.
func (s *Scope) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make([]string, len(s.entries))
	for i, entry := range s.entries {
		labels[i] = entry.label
	}
	return labels
}

// Release forgets every registration without running it. Called once the
// job's artifacts are owned by a finalized catalog entry.
func (s *Scope) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.done = true
}

// Purge runs every registered action. Failures are logged and returned for
// inspection but never stop the remaining actions.
func (s *Scope) Purge(ctx context.Context) []error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	entries := s.entries
	s.entries = nil
	s.done = true
	s.mu.Unlock()

	// Purge usually runs because ctx was cancelled; cleanup still has to run.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if err := runCleanup(ctx, entry.fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.label, err))
			logging.WarnWithContext(s.logger, "artifact cleanup failed", "cleanup_failed",
				logging.String("artifact", entry.label),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the artifact manually"),
				logging.String(logging.FieldImpact, "disk or bucket space not reclaimed"),
			)
		}
	}
	if len(entries) > 0 {
		s.logger.Info("artifacts purged",
			logging.Int("count", len(entries)),
			logging.Int("failures", len(errs)),
			logging.String(logging.FieldEventType, "cleanup_complete"),
		)
	}
	return errs
}

func runCleanup(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()
	return fn(ctx)
}
