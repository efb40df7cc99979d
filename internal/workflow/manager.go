package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vodpipe/internal/audit"
	"vodpipe/internal/catalog"
	"vodpipe/internal/config"
	"vodpipe/internal/logging"
	"vodpipe/internal/notifications"
	"vodpipe/internal/progress"
	"vodpipe/internal/retry"
	"vodpipe/internal/services"
	"vodpipe/internal/storage"
	"vodpipe/internal/transcoder"
)

// ErrNotCancellable is returned by Cancel for uploads that already reached a
// terminal state.
var ErrNotCancellable = errors.New("upload already finished")

// Dependencies are the collaborators every job needs.
type Dependencies struct {
	Catalog  catalog.Store
	Storage  storage.Backend
	Progress *progress.Tracker
	Audit    *audit.Recorder
	Invoker  *transcoder.Invoker
	// Notifier is optional; nil disables job alerts.
	Notifier notifications.Service
}

func (d Dependencies) validate() error {
	switch {
	case d.Catalog == nil:
		return errors.New("workflow: catalog store required")
	case d.Storage == nil:
		return errors.New("workflow: storage backend required")
	case d.Progress == nil:
		return errors.New("workflow: progress tracker required")
	case d.Invoker == nil:
		return errors.New("workflow: transcoder invoker required")
	}
	return nil
}

// Manager runs submitted jobs on a bounded worker pool.
type Manager struct {
	cfg       *config.Config
	deps      Dependencies
	logger    *slog.Logger
	policy    retry.Policy
	retryOpts []retry.Option
	now       func() time.Time

	queue chan *Job

	mu      sync.RWMutex
	jobs    map[string]*Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob string
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithRetryOptions passes extra options to every retry loop (tests use it to
// skip backoff sleeps).
func WithRetryOptions(opts ...retry.Option) ManagerOption {
	return func(m *Manager) {
		m.retryOpts = append(m.retryOpts, opts...)
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a workflow manager. Jobs may be submitted before
// Start; they wait in the queue.
func NewManager(cfg *config.Config, deps Dependencies, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(nil)
	}
	queueSize := cfg.Pipeline.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	m := &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "workflow"),
		policy: retry.PolicyFromConfig(cfg),
		now:    time.Now,
		queue:  make(chan *Job, queueSize),
		jobs:   make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start launches the worker pool. Workers stop when ctx ends or Stop is
// called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	workers := m.cfg.Pipeline.MaxConcurrent
	if workers < 1 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers)
	m.mu.Unlock()

	for i := 0; i < workers; i++ {
		go m.worker(runCtx, i)
	}
	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.Int("queue_size", cap(m.queue)),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit. Interrupted
// jobs keep their staged source so Recover can pick them up again.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	for {
		select {
		case job := <-m.queue:
			m.abandon(job)
			continue
		default:
		}
		break
	}
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

// Wait blocks until every submitted job has finished or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Submit enqueues req without blocking. A full queue yields an error
// wrapping services.ErrBusy.
func (m *Manager) Submit(req Request) error {
	return m.enqueue(req, false)
}

func (m *Manager) enqueue(req Request, recovered bool) error {
	if req.UploadID == "" {
		return services.Wrap(services.ErrValidation, "workflow", "submit", "upload id required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[req.UploadID]; exists {
		return services.Wrap(services.ErrValidation, "workflow", "submit", "upload already queued", nil)
	}
	job := newJob(req, m.now())
	job.recovered = recovered
	select {
	case m.queue <- job:
	default:
		return services.WithHint(
			services.Wrap(services.ErrBusy, "workflow", "submit", "processing queue is full", nil),
			"retry the upload later",
		)
	}
	m.jobs[req.UploadID] = job
	m.logger.Debug("job queued",
		logging.String(logging.FieldUploadID, req.UploadID),
		logging.Int("queued", len(m.queue)),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	return nil
}

// Cancel requests cancellation of uploadID. Queued and running jobs stop at
// their next stage boundary. An unknown id wraps services.ErrNotFound and a
// finished upload returns ErrNotCancellable.
func (m *Manager) Cancel(ctx context.Context, uploadID string) error {
	m.mu.RLock()
	job, ok := m.jobs[uploadID]
	m.mu.RUnlock()
	if ok {
		if !job.CancelRequested() {
			if !job.RequestCancel() {
				return fmt.Errorf("%w: %s is finishing", ErrNotCancellable, uploadID)
			}
			m.deps.Audit.Record(audit.Event{UploadID: uploadID, Type: audit.EventCancelRequest})
			m.logger.Info("cancellation requested",
				logging.String(logging.FieldUploadID, uploadID),
				logging.Bool("started", job.Started()),
				logging.String(logging.FieldEventType, "cancel_requested"),
			)
		}
		return nil
	}

	entry, err := m.deps.Catalog.Get(ctx, uploadID)
	if err != nil {
		return err
	}
	if entry.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, uploadID, entry.Status)
	}
	// Not held by this process (for example left over from a previous run
	// that has not been recovered yet); settle it directly.
	return m.cancelOrphan(ctx, entry)
}

// InFlight reports whether uploadID is queued or running.
func (m *Manager) InFlight(uploadID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.jobs[uploadID]
	return ok
}

// Pending counts queued plus running jobs.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.queue:
			if ctx.Err() != nil {
				m.abandon(job)
				return
			}
			m.process(ctx, logger, job)
		}
	}
}

// abandon drops a job that never ran because the manager stopped. It stays in
// the catalog for recovery on the next start unless a cancel was already
// acknowledged, in which case it is settled as cancelled now.
func (m *Manager) abandon(job *Job) {
	defer m.release(job)
	if !job.settle() {
		return
	}
	ctx := context.Background()
	entry, err := m.deps.Catalog.Get(ctx, job.UploadID)
	if err == nil && !entry.Status.Terminal() {
		reason := services.Wrap(services.ErrCancelled, "workflow", "cancel", "cancelled by request", nil)
		err = m.settleOrphan(ctx, entry, catalog.StatusCancelled, reason)
	}
	if err != nil {
		logging.WarnWithContext(m.logger, "cancelled upload not settled", "cancel_settle_failed",
			logging.String(logging.FieldUploadID, job.UploadID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the upload again after restart"),
		)
	}
}

func (m *Manager) release(job *Job) {
	m.mu.Lock()
	delete(m.jobs, job.UploadID)
	m.lastJob = job.UploadID
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
