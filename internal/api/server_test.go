package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vodpipe/internal/api"
	"vodpipe/internal/audit"
	"vodpipe/internal/config"
	"vodpipe/internal/intake"
	"vodpipe/internal/logging"
	"vodpipe/internal/progress"
	"vodpipe/internal/retry"
	"vodpipe/internal/services"
	"vodpipe/internal/stage"
	"vodpipe/internal/storage"
	"vodpipe/internal/testsupport"
	"vodpipe/internal/transcoder"
	"vodpipe/internal/workflow"
)

type stack struct {
	cfg     *config.Config
	tracker *progress.Tracker
	audit   *audit.Recorder
	mgr     *workflow.Manager
	server  *api.Server
}

func newStack(t *testing.T, cfgOpts ...testsupport.ConfigOption) *stack {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	logger := logging.NewNop()
	backend, err := storage.NewLocalBackend(cfg.Paths.StorageDir, logger)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	store := testsupport.MustOpenCatalog(t, cfg)
	s := &stack{
		cfg:     cfg,
		tracker: progress.NewTracker(progress.NewMemoryStore(), cfg.ProgressTTL(), logger),
		audit:   audit.NewRecorder(audit.Options{}, logger),
	}
	runner := testsupport.NewFakeRunner(1280, 720, 30)
	s.mgr, err = workflow.NewManager(cfg, workflow.Dependencies{
		Catalog:  store,
		Storage:  backend,
		Progress: s.tracker,
		Audit:    s.audit,
		Invoker:  transcoder.NewInvoker(transcoder.SettingsFromConfig(cfg), runner, logger),
	}, logger, workflow.WithRetryOptions(retry.WithSleep(func(context.Context, time.Duration) error { return nil })))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(s.mgr.Stop)
	svc, err := intake.NewService(cfg, intake.Dependencies{
		Catalog:   store,
		Progress:  s.tracker,
		Audit:     s.audit,
		Submitter: s.mgr,
	}, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	s.server = api.NewServer(api.Dependencies{
		Uploader: svc,
		Progress: s.tracker,
		Control:  s.mgr,
		Audit:    s.audit,
	}, logger)
	return s
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", "clip.mp4")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(file); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestUploadProcessesToCompletion(t *testing.T) {
	s := newStack(t)
	if err := s.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	body, contentType := multipartBody(t, map[string]string{
		"title":       "Launch Day",
		"description": "keynote",
		"tags":        "launch, keynote",
	}, testsupport.SampleMP4(8192))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(api.OwnerHeader, "owner-42")
	w := do(t, s.server, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /upload = %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get(api.RequestIDHeader) == "" {
		t.Fatal("expected a request id header")
	}
	accepted := decode[api.UploadResponse](t, w)
	if accepted.UploadID == "" || accepted.Status != progress.StatusUploading {
		t.Fatalf("unexpected upload response %+v", accepted)
	}
	if w.Header().Get("Location") != accepted.ProgressURL {
		t.Fatalf("Location = %q, want %q", w.Header().Get("Location"), accepted.ProgressURL)
	}

	var rec progress.Record
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		w = do(t, s.server, httptest.NewRequest(http.MethodGet, accepted.ProgressURL, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET progress = %d: %s", w.Code, w.Body.String())
		}
		rec = decode[progress.Record](t, w)
		if rec.Status.Terminal() && !s.mgr.InFlight(accepted.UploadID) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec.Status != progress.StatusComplete || rec.Percent != 100 {
		t.Fatalf("unexpected final record %+v", rec)
	}
	if rec.Playback == nil || len(rec.Playback.Tiers) != 3 {
		t.Fatalf("unexpected playback %+v", rec.Playback)
	}
	if rec.EstimatedCompletion != nil {
		t.Fatal("terminal records carry no estimate")
	}

	w = do(t, s.server, httptest.NewRequest(http.MethodGet, "/upload/"+accepted.UploadID+"/audit", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET audit = %d", w.Code)
	}
	trail := decode[api.AuditResponse](t, w)
	if len(trail.Events) == 0 || trail.Events[0].Type != audit.EventUploadAccepted {
		t.Fatalf("unexpected audit trail %+v", trail.Events)
	}

	// A finished upload can no longer be cancelled.
	w = do(t, s.server, httptest.NewRequest(http.MethodDelete, "/upload/"+accepted.UploadID, nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("DELETE finished = %d", w.Code)
	}

	w = do(t, s.server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	metrics := decode[api.MetricsResponse](t, w)
	if metrics.Completed != 1 || metrics.SuccessRate != 1 {
		t.Fatalf("unexpected metrics %+v", metrics.Summary)
	}
	if len(metrics.Recent) != 1 || metrics.Workflow == nil || !metrics.Workflow.Running {
		t.Fatalf("unexpected metrics detail %+v", metrics)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		file   []byte
		want   int
		kind   services.ErrorKind
	}{
		{name: "missing title", fields: map[string]string{}, file: testsupport.SampleMP4(1024), want: http.StatusBadRequest, kind: services.ErrorKindValidation},
		{name: "missing file", fields: map[string]string{"title": "clip"}, file: nil, want: http.StatusBadRequest, kind: services.ErrorKindValidation},
		{name: "unsupported container", fields: map[string]string{"title": "clip"}, file: []byte("GIF89a not a video at all"), want: http.StatusUnsupportedMediaType, kind: services.ErrorKindValidation},
		{name: "too large", fields: map[string]string{"title": "clip"}, file: testsupport.SampleMP4(1024*1024 + 1), want: http.StatusRequestEntityTooLarge, kind: services.ErrorKindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, testsupport.WithMaxUploadMB(1))
			body, contentType := multipartBody(t, tt.fields, tt.file)
			req := httptest.NewRequest(http.MethodPost, "/upload", body)
			req.Header.Set("Content-Type", contentType)
			w := do(t, s.server, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			resp := decode[api.ErrorResponse](t, w)
			if resp.Kind != string(tt.kind) || resp.Error == "" {
				t.Fatalf("unexpected error body %+v", resp)
			}
		})
	}
}

// countingReader records how much of a request body the handler consumed.
type countingReader struct {
	r    io.Reader
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	return n, err
}

func TestUploadRejectsSignatureBeforeReadingBody(t *testing.T) {
	s := newStack(t, testsupport.WithMaxUploadMB(64))
	junk := bytes.Repeat([]byte("not a video "), 4<<20/12)
	body, contentType := multipartBody(t, map[string]string{"title": "clip"}, junk)
	total := int64(body.Len())
	counter := &countingReader{r: body}

	req := httptest.NewRequest(http.MethodPost, "/upload", counter)
	req.Header.Set("Content-Type", contentType)
	w := do(t, s.server, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415: %s", w.Code, w.Body.String())
	}
	if counter.read > 256<<10 {
		t.Fatalf("read %d of %d body bytes before rejecting", counter.read, total)
	}
}

func TestUploadRejectsNonMultipart(t *testing.T) {
	s := newStack(t)
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(testsupport.SampleMP4(64)))
	req.Header.Set("Content-Type", "video/mp4")
	w := do(t, s.server, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestProgressAndAuditUnknownUpload(t *testing.T) {
	s := newStack(t)
	for _, path := range []string{"/upload/nope/progress", "/upload/nope/audit"} {
		w := do(t, s.server, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("GET %s = %d", path, w.Code)
		}
		if resp := decode[api.ErrorResponse](t, w); resp.Kind != string(services.ErrorKindNotFound) {
			t.Fatalf("GET %s kind = %q", path, resp.Kind)
		}
	}
}

type stubUploader struct {
	err error
}

func (u stubUploader) Accept(context.Context, intake.Declared, io.Reader) (intake.Receipt, error) {
	return intake.Receipt{}, u.err
}

func (stubUploader) MaxBytes() int64 { return 1 << 20 }

type stubControl struct {
	cancelErr error
	health    []stage.Health
	cancelled []string
}

func (c *stubControl) Cancel(_ context.Context, id string) error {
	c.cancelled = append(c.cancelled, id)
	return c.cancelErr
}

func (c *stubControl) Status(ctx context.Context, checkers ...stage.Checker) workflow.StatusSummary {
	summary := workflow.StatusSummary{Running: true, Health: append([]stage.Health(nil), c.health...)}
	for _, checker := range checkers {
		summary.Health = append(summary.Health, checker.HealthCheck(ctx))
	}
	return summary
}

type staticChecker stage.Health

func (c staticChecker) HealthCheck(context.Context) stage.Health { return stage.Health(c) }

func TestUploadWhenQueueFull(t *testing.T) {
	busy := services.WithHint(services.Wrap(services.ErrBusy, "workflow", "submit", "job queue is full", nil), "retry later")
	srv := api.NewServer(api.Dependencies{Uploader: stubUploader{err: busy}}, logging.NewNop())

	body, contentType := multipartBody(t, map[string]string{"title": "clip"}, testsupport.SampleMP4(64))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := do(t, srv, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[api.ErrorResponse](t, w)
	if resp.Kind != string(services.ErrorKindBusy) || resp.Hint != "retry later" {
		t.Fatalf("unexpected body %+v", resp)
	}
}

func TestCancelResponses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "accepted", err: nil, want: http.StatusOK},
		{name: "unknown", err: services.Wrap(services.ErrNotFound, "workflow", "cancel", "upload not found", nil), want: http.StatusNotFound},
		{name: "finished", err: fmt.Errorf("%w: x is complete", workflow.ErrNotCancellable), want: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			control := &stubControl{cancelErr: tt.err}
			srv := api.NewServer(api.Dependencies{Control: control}, logging.NewNop())
			w := do(t, srv, httptest.NewRequest(http.MethodDelete, "/upload/abc", nil))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if len(control.cancelled) != 1 || control.cancelled[0] != "abc" {
				t.Fatalf("unexpected cancel calls %v", control.cancelled)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	control := &stubControl{health: []stage.Health{stage.Healthy("workflow")}}
	srv := api.NewServer(api.Dependencies{
		Control:  control,
		Checkers: []stage.Checker{staticChecker(stage.Unhealthy("preflight", "ffmpeg missing"))},
	}, logging.NewNop())

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[api.HealthResponse](t, w)
	if resp.Ready || len(resp.Checks) != 2 {
		t.Fatalf("unexpected health %+v", resp)
	}

	control.health = []stage.Health{stage.Healthy("workflow")}
	srv = api.NewServer(api.Dependencies{Control: control}, logging.NewNop())
	if w := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); w.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", w.Code)
	}
}

func TestTokenGuardsRoutes(t *testing.T) {
	control := &stubControl{health: []stage.Health{stage.Healthy("workflow")}}
	srv := api.NewServer(api.Dependencies{
		Control: control,
		Audit:   audit.NewRecorder(audit.Options{}, logging.NewNop()),
		Token:   "s3cret",
	}, logging.NewNop())

	if w := do(t, srv, httptest.NewRequest(http.MethodGet, "/metrics", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if w := do(t, srv, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	if w := do(t, srv, req); w.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", w.Code)
	}
	if w := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); w.Code != http.StatusOK {
		t.Fatalf("healthz should bypass the token, got %d", w.Code)
	}
}

func TestPrometheusExposition(t *testing.T) {
	rec := audit.NewRecorder(audit.Options{}, logging.NewNop())
	rec.JobStarted("a")
	rec.JobFinished("a", audit.OutcomeComplete, "")
	srv := api.NewServer(api.Dependencies{Audit: rec}, logging.NewNop())

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("vodpipe_")) {
		t.Fatalf("expected vodpipe collectors in %q", w.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.Wrap(services.ErrValidation, "intake", "title", "title is required", nil), http.StatusBadRequest},
		{intake.TooLarge(1 << 20), http.StatusRequestEntityTooLarge},
		{services.Wrap(services.ErrValidation, "intake", "sniff", "bad", intake.ErrUnsupportedContainer), http.StatusUnsupportedMediaType},
		{services.Wrap(services.ErrStorage, "intake", "free space", "full", nil), http.StatusInsufficientStorage},
		{services.Wrap(services.ErrBusy, "workflow", "submit", "full", nil), http.StatusServiceUnavailable},
		{services.Wrap(services.ErrCatalogWrite, "intake", "placeholder", "db down", nil), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := api.StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
