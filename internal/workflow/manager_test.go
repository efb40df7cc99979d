package workflow_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"vodpipe/internal/catalog"
	"vodpipe/internal/progress"
	"vodpipe/internal/services"
	"vodpipe/internal/testsupport"
	"vodpipe/internal/transcoder"
	"vodpipe/internal/workflow"
)

// finalizeHook runs a callback before delegating Finalize.
type finalizeHook struct {
	catalog.Store
	before func()
}

func (f finalizeHook) Finalize(ctx context.Context, uploadID string, fin catalog.Finalization) (*catalog.Entry, error) {
	f.before()
	return f.Store.Finalize(ctx, uploadID, fin)
}

func isThumbnail(cmd transcoder.Command) bool {
	return cmd.Kind == transcoder.KindFrame && filepath.Base(cmd.Outputs[0]) == "thumbnail.jpg"
}

func TestSubmitReturnsBusyWhenQueueFull(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeRunner(640, 360, 10), []testsupport.ConfigOption{testsupport.WithQueueSize(1)})
	h.submit(t, "first", testsupport.SampleMP4(512))

	req := h.stage(t, "second", testsupport.SampleMP4(512))
	err := h.mgr.Submit(req)
	if !errors.Is(err, services.ErrBusy) {
		t.Fatalf("Submit = %v, want ErrBusy", err)
	}
	if h.mgr.InFlight("second") {
		t.Fatal("rejected job must not be tracked")
	}
	if got := h.mgr.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
}

func TestSubmitRejectsDuplicates(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeRunner(640, 360, 10), nil)
	req := h.submit(t, "dup", testsupport.SampleMP4(512))
	if err := h.mgr.Submit(req); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("duplicate Submit = %v, want ErrValidation", err)
	}
}

func TestCancelUnknownAndFinishedUploads(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeRunner(640, 360, 10), nil)
	h.start(t)

	if err := h.mgr.Cancel(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Cancel(missing) = %v, want ErrNotFound", err)
	}

	h.submit(t, "done", testsupport.SampleMP4(512))
	if rec := h.waitTerminal(t, "done"); rec.Status != progress.StatusComplete {
		t.Fatalf("status = %s (%s)", rec.Status, rec.Error)
	}
	if err := h.mgr.Cancel(context.Background(), "done"); !errors.Is(err, workflow.ErrNotCancellable) {
		t.Fatalf("Cancel(done) = %v, want ErrNotCancellable", err)
	}
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	runner := testsupport.NewFakeRunner(640, 360, 10)
	h := newHarness(t, runner, nil)
	h.submit(t, "queued", testsupport.SampleMP4(512))
	if err := h.mgr.Cancel(context.Background(), "queued"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	h.start(t)

	rec := h.waitTerminal(t, "queued")
	if rec.Status != progress.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", rec.Status)
	}
	if got := len(runner.Calls()); got != 0 {
		t.Fatalf("transcoder calls = %d, want 0", got)
	}
	if exists(h.workspaceDir("queued")) {
		t.Fatal("workspace must be removed")
	}
}

func TestCancelOrphanedEntrySettlesCatalog(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeRunner(640, 360, 10), nil)
	h.stage(t, "orphan", testsupport.SampleMP4(512))

	if err := h.mgr.Cancel(context.Background(), "orphan"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if entry := h.entry(t, "orphan"); entry.Status != catalog.StatusCancelled {
		t.Fatalf("catalog status = %s, want cancelled", entry.Status)
	}
	rec, err := h.tracker.Get(context.Background(), "orphan")
	if err != nil || rec.Status != progress.StatusCancelled {
		t.Fatalf("progress = %+v, %v; want cancelled", rec, err)
	}
	if exists(h.workspaceDir("orphan")) {
		t.Fatal("workspace must be removed")
	}
}

func TestRecoverRequeuesStagedUploads(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeRunner(640, 360, 10), nil)
	h.stage(t, "resumable", testsupport.SampleMP4(512))
	h.stage(t, "lost", nil)
	if err := h.catalog.MarkProcessing(context.Background(), "lost"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	result, err := h.mgr.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(result.Requeued) != 1 || result.Requeued[0] != "resumable" {
		t.Fatalf("requeued = %v, want [resumable]", result.Requeued)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "lost" {
		t.Fatalf("failed = %v, want [lost]", result.Failed)
	}
	if entry := h.entry(t, "lost"); entry.Status != catalog.StatusFailed {
		t.Fatalf("lost status = %s, want failed", entry.Status)
	}

	h.start(t)
	if rec := h.waitTerminal(t, "resumable"); rec.Status != progress.StatusComplete {
		t.Fatalf("resumable status = %s (%s)", rec.Status, rec.Error)
	}
	again, err := h.mgr.Recover(context.Background())
	if err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	if len(again.Requeued)+len(again.Failed) != 0 {
		t.Fatalf("second Recover = %+v, want nothing to do", again)
	}
}

func TestStatusReportsHealth(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeRunner(640, 360, 10), nil)
	if health := h.mgr.HealthCheck(context.Background()); health.Ready {
		t.Fatal("stopped manager must not be ready")
	}
	h.start(t)
	summary := h.mgr.Status(context.Background())
	if !summary.Running || summary.Workers != h.cfg.Pipeline.MaxConcurrent {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Health) != 1 || !summary.Health[0].Ready {
		t.Fatalf("health = %+v, want ready workflow", summary.Health)
	}
	h.mgr.Stop()
	if h.mgr.Status(context.Background()).Running {
		t.Fatal("Stop must clear running")
	}
}

func TestCancelSurvivesShutdownDuringStage(t *testing.T) {
	runner := testsupport.NewFakeRunner(1280, 720, 60)
	h := newHarness(t, runner, nil)
	ctx, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	runner.OnRun(func(cmd transcoder.Command) {
		if isThumbnail(cmd) {
			if err := h.mgr.Cancel(context.Background(), "cx"); err != nil {
				t.Errorf("Cancel: %v", err)
			}
			shutdown()
		}
	})
	if err := h.mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.submit(t, "cx", testsupport.SampleMP4(1024))

	rec := h.waitTerminal(t, "cx")
	if rec.Status != progress.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", rec.Status)
	}
	h.mgr.Stop()
	if entry := h.entry(t, "cx"); entry.Status != catalog.StatusCancelled {
		t.Fatalf("catalog status = %s, want cancelled", entry.Status)
	}
	if exists(h.workspaceDir("cx")) {
		t.Fatal("workspace must be removed")
	}
	result, err := h.mgr.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(result.Requeued) != 0 {
		t.Fatalf("requeued = %v, a cancelled upload must not resume", result.Requeued)
	}
}

func TestCancelledQueuedJobSettledOnShutdown(t *testing.T) {
	runner := testsupport.NewFakeRunner(1280, 720, 60)
	h := newHarness(t, runner, []testsupport.ConfigOption{testsupport.WithMaxConcurrent(1)})
	ctx, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	runner.OnRun(func(cmd transcoder.Command) {
		if isThumbnail(cmd) {
			shutdown()
		}
	})
	h.submit(t, "busy", testsupport.SampleMP4(1024))
	h.submit(t, "waiting", testsupport.SampleMP4(1024))
	if err := h.mgr.Cancel(context.Background(), "waiting"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := h.mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ctx.Done()
	h.mgr.Stop()

	if entry := h.entry(t, "waiting"); entry.Status != catalog.StatusCancelled {
		t.Fatalf("waiting status = %s, want cancelled", entry.Status)
	}
	if entry := h.entry(t, "busy"); entry.Status != catalog.StatusProcessing {
		t.Fatalf("busy status = %s, want processing for recovery", entry.Status)
	}
	result, err := h.mgr.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(result.Requeued) != 1 || result.Requeued[0] != "busy" {
		t.Fatalf("requeued = %v, want [busy]", result.Requeued)
	}
}

func TestCancelRefusedOnceCatalogCommitted(t *testing.T) {
	runner := testsupport.NewFakeRunner(640, 360, 10)
	late := make(chan error, 1)
	var h *harness
	h = newHarness(t, runner, nil, withCatalog(func(store catalog.Store) catalog.Store {
		return finalizeHook{Store: store, before: func() {
			late <- h.mgr.Cancel(context.Background(), "late")
		}}
	}))
	h.start(t)
	h.submit(t, "late", testsupport.SampleMP4(512))

	if rec := h.waitTerminal(t, "late"); rec.Status != progress.StatusComplete {
		t.Fatalf("status = %s (%s), want complete", rec.Status, rec.Error)
	}
	if err := <-late; !errors.Is(err, workflow.ErrNotCancellable) {
		t.Fatalf("Cancel during finalize = %v, want ErrNotCancellable", err)
	}
}
