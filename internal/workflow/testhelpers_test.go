package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vodpipe/internal/audit"
	"vodpipe/internal/catalog"
	"vodpipe/internal/config"
	"vodpipe/internal/logging"
	"vodpipe/internal/notifications"
	"vodpipe/internal/progress"
	"vodpipe/internal/retry"
	"vodpipe/internal/stage"
	"vodpipe/internal/staging"
	"vodpipe/internal/storage"
	"vodpipe/internal/testsupport"
	"vodpipe/internal/transcoder"
	"vodpipe/internal/workflow"
)

// recordingStore keeps every percent written per upload.
type recordingStore struct {
	*progress.MemoryStore

	mu     sync.Mutex
	writes map[string][]float64
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: progress.NewMemoryStore(), writes: make(map[string][]float64)}
}

func (s *recordingStore) Put(ctx context.Context, rec progress.Record) error {
	s.mu.Lock()
	s.writes[rec.UploadID] = append(s.writes[rec.UploadID], rec.Percent)
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, rec)
}

func (s *recordingStore) percents(id string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.writes[id]...)
}

// failingFinalize wraps a catalog whose Finalize always fails.
type failingFinalize struct {
	catalog.Store
}

func (failingFinalize) Finalize(context.Context, string, catalog.Finalization) (*catalog.Entry, error) {
	return nil, errors.New("disk I/O error")
}

type harness struct {
	cfg      *config.Config
	catalog  catalog.Store
	storage  *storage.LocalBackend
	progress *recordingStore
	tracker  *progress.Tracker
	audit    *audit.Recorder
	runner   *testsupport.FakeRunner
	notifier notifications.Service
	mgr      *workflow.Manager
}

type harnessOption func(*harness)

func withNotifier(n notifications.Service) harnessOption {
	return func(h *harness) {
		h.notifier = n
	}
}

func withCatalog(wrap func(catalog.Store) catalog.Store) harnessOption {
	return func(h *harness) {
		h.catalog = wrap(h.catalog)
	}
}

func newHarness(t *testing.T, runner *testsupport.FakeRunner, cfgOpts []testsupport.ConfigOption, opts ...harnessOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	logger := logging.NewNop()

	backend, err := storage.NewLocalBackend(cfg.Paths.StorageDir, logger)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	h := &harness{
		cfg:      cfg,
		catalog:  testsupport.MustOpenCatalog(t, cfg),
		storage:  backend,
		progress: newRecordingStore(),
		audit:    audit.NewRecorder(audit.Options{}, logger),
		runner:   runner,
	}
	h.tracker = progress.NewTracker(h.progress, time.Hour, logger)
	for _, opt := range opts {
		opt(h)
	}

	invoker := transcoder.NewInvoker(transcoder.SettingsFromConfig(cfg), runner, logger)
	h.mgr, err = workflow.NewManager(cfg, workflow.Dependencies{
		Catalog:  h.catalog,
		Storage:  h.storage,
		Progress: h.tracker,
		Audit:    h.audit,
		Invoker:  invoker,
		Notifier: h.notifier,
	}, logger, workflow.WithRetryOptions(retry.WithSleep(func(context.Context, time.Duration) error { return nil })))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(h.mgr.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// stage writes a staged source, the catalog placeholder and the initial
// progress record the way intake does.
func (h *harness) stage(t *testing.T, id string, data []byte) workflow.Request {
	t.Helper()
	entry := testsupport.NewPlaceholder(t, h.catalog, id, "Title "+id)
	ws, err := staging.NewWorkspace(h.cfg.Paths.StagingDir, id)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if err := ws.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if data != nil {
		testsupport.WriteBytes(t, ws.SourcePath(".mp4"), data)
	}
	if err := h.tracker.Put(context.Background(), progress.Record{
		UploadID: id,
		Slug:     entry.Slug,
		Status:   progress.StatusUploading,
		Stage:    string(stage.Uploaded),
		Percent:  20,
	}); err != nil {
		t.Fatalf("tracker.Put: %v", err)
	}
	return workflow.Request{UploadID: id, Slug: entry.Slug, OwnerID: entry.OwnerID, Title: entry.Title}
}

func (h *harness) submit(t *testing.T, id string, data []byte) workflow.Request {
	t.Helper()
	req := h.stage(t, id, data)
	if err := h.mgr.Submit(req); err != nil {
		t.Fatalf("Submit %s: %v", id, err)
	}
	return req
}

func (h *harness) waitTerminal(t *testing.T, id string) progress.Record {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := h.tracker.Get(context.Background(), id)
		if err == nil && rec.Status.Terminal() && !h.mgr.InFlight(id) {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := h.tracker.Get(context.Background(), id)
	t.Fatalf("upload %s did not finish; last record %+v", id, rec)
	return progress.Record{}
}

func (h *harness) entry(t *testing.T, id string) *catalog.Entry {
	t.Helper()
	entry, err := h.catalog.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("catalog.Get %s: %v", id, err)
	}
	return entry
}

func (h *harness) workspaceDir(id string) string {
	return filepath.Join(h.cfg.Paths.StagingDir, id)
}

func (h *harness) publishedDir(slug string) string {
	return filepath.Join(h.cfg.Paths.StorageDir, slug)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func countEvents(events []audit.Event, typ audit.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
