package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"vodpipe/internal/api"
	"vodpipe/internal/audit"
	"vodpipe/internal/catalog"
	"vodpipe/internal/config"
	"vodpipe/internal/intake"
	"vodpipe/internal/logging"
	"vodpipe/internal/notifications"
	"vodpipe/internal/preflight"
	"vodpipe/internal/progress"
	"vodpipe/internal/stage"
	"vodpipe/internal/staging"
	"vodpipe/internal/storage"
	"vodpipe/internal/transcoder"
	"vodpipe/internal/workflow"
)

// Daemon owns every long-lived component of the pipeline.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	catalog  catalog.Store
	progress progress.Store
	tracker  *progress.Tracker
	storage  storage.Backend
	audit    *audit.Recorder
	workflow *workflow.Manager
	intake   *intake.Service
	api      *api.Server
	http     *apiServer

	runner   transcoder.Runner
	listener net.Listener

	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	LockFilePath string                 `json:"lock_file_path"`
	CatalogPath  string                 `json:"catalog"`
	Storage      string                 `json:"storage"`
	Workflow     workflow.StatusSummary `json:"workflow"`
}

// Option customises a Daemon.
type Option func(*Daemon)

// WithRunner replaces the subprocess runner (tests).
func WithRunner(runner transcoder.Runner) Option {
	return func(d *Daemon) {
		if runner != nil {
			d.runner = runner
		}
	}
}

// WithListener serves the API on an existing listener instead of binding
// server.bind.
func WithListener(l net.Listener) Option {
	return func(d *Daemon) {
		d.listener = l
	}
}

// New opens the stores and wires the pipeline. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		runner:   transcoder.ExecRunner{},
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	if d.catalog, err = catalog.Open(ctx, cfg); err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if d.progress, err = progress.Open(cfg); err != nil {
		d.closeStores()
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	if d.storage, err = storage.Open(ctx, cfg, logger); err != nil {
		d.closeStores()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	d.tracker = progress.NewTracker(d.progress, cfg.ProgressTTL(), logger)
	d.audit = audit.NewRecorder(audit.Options{}, logger)
	invoker := transcoder.NewInvoker(transcoder.SettingsFromConfig(cfg), d.runner, logger)
	d.workflow, err = workflow.NewManager(cfg, workflow.Dependencies{
		Catalog:  d.catalog,
		Storage:  d.storage,
		Progress: d.tracker,
		Audit:    d.audit,
		Invoker:  invoker,
		Notifier: notifications.NewService(cfg),
	}, logger)
	if err != nil {
		d.closeStores()
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	d.intake, err = intake.NewService(cfg, intake.Dependencies{
		Catalog:   d.catalog,
		Progress:  d.tracker,
		Audit:     d.audit,
		Submitter: d.workflow,
	}, logger)
	if err != nil {
		d.closeStores()
		return nil, fmt.Errorf("create intake: %w", err)
	}
	d.api = api.NewServer(api.Dependencies{
		Uploader: d.intake,
		Progress: d.tracker,
		Control:  d.workflow,
		Audit:    d.audit,
		Checkers: []stage.Checker{preflight.NewChecker(cfg)},
		Token:    cfg.Server.APIToken,
	}, logger)
	d.http = newAPIServer(cfg, d.api, logger)
	return d, nil
}

// Handler exposes the HTTP API without starting a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api
}

// Run takes the instance lock, recovers unfinished uploads and blocks
// serving until ctx ends or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another vodpipe daemon holds %s", d.lockPath)
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
			)
		}
	}()

	d.logPreflight(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	if err := d.workflow.Start(groupCtx); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	defer d.workflow.Stop()
	d.recover(groupCtx)

	group.Go(func() error {
		return d.http.serve(groupCtx, d.listener)
	})
	group.Go(func() error {
		return d.tracker.RunSweeper(groupCtx, d.cfg.SweepInterval())
	})
	group.Go(func() error {
		return d.runStagingSweeper(groupCtx)
	})

	d.logger.Info("vodpipe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("bind", d.cfg.Server.Bind),
		logging.String("catalog", d.cfg.Catalog.Driver),
		logging.String("progress", d.cfg.Progress.Backend),
		logging.String("storage", d.storage.Name()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info("vodpipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return err
}

// Close releases the stores. Run must have returned.
func (d *Daemon) Close() error {
	d.workflow.Stop()
	return d.closeStores()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		CatalogPath:  d.cfg.CatalogPath(),
		Storage:      d.storage.Name(),
		Workflow:     d.workflow.Status(ctx, preflight.NewChecker(d.cfg)),
	}
}

// recover re-queues unfinished uploads, then removes workspaces nothing
// claims.
func (d *Daemon) recover(ctx context.Context) {
	result, err := d.workflow.Recover(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "recovery failed", "recovery_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check catalog database access"),
			logging.String(logging.FieldImpact, "uploads interrupted by the last shutdown stay pending"),
		)
		return
	}
	if n := len(result.Requeued) + len(result.Failed) + len(result.Deferred); n > 0 {
		d.logger.Info("recovered unfinished uploads",
			logging.Int("requeued", len(result.Requeued)),
			logging.Int("failed", len(result.Failed)),
			logging.Int("deferred", len(result.Deferred)),
			logging.String(logging.FieldEventType, "recovery_complete"),
		)
	}

	active := make(map[string]struct{})
	for _, group := range [][]string{result.Requeued, result.Deferred} {
		for _, id := range group {
			active[id] = struct{}{}
		}
	}
	swept := staging.CleanOrphaned(ctx, d.cfg.Paths.StagingDir, active, d.logger)
	d.logSweep("orphaned", swept)
}

func (d *Daemon) logPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg)
	for _, result := range results {
		if result.Passed {
			d.logger.Debug("preflight passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run vodpipe check for details"),
			logging.String(logging.FieldImpact, "uploads may fail until resolved"),
		)
	}
}

func (d *Daemon) closeStores() error {
	var errs []error
	if d.progress != nil {
		errs = append(errs, d.progress.Close())
	}
	if d.catalog != nil {
		errs = append(errs, d.catalog.Close())
	}
	return errors.Join(errs...)
}
