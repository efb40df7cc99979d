package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"vodpipe/internal/audit"
	"vodpipe/internal/intake"
	"vodpipe/internal/logging"
	"vodpipe/internal/progress"
	"vodpipe/internal/services"
	"vodpipe/internal/stage"
	"vodpipe/internal/workflow"
)

const (
	// OwnerHeader carries the uploading user. Authentication happens in
	// front of this service.
	OwnerHeader = "X-Owner-ID"
	// RequestIDHeader is echoed on every response.
	RequestIDHeader = "X-Request-ID"

	// multipartOverhead is allowed on top of the file size limit for part
	// headers and the text fields.
	multipartOverhead = 1 << 20
	// maxFieldBytes caps each text field of an upload form.
	maxFieldBytes = 64 << 10
	// recentJobs is how many finished jobs GET /metrics lists.
	recentJobs = 20
)

// Uploader accepts new uploads. *intake.Service implements it.
type Uploader interface {
	Accept(ctx context.Context, declared intake.Declared, body io.Reader) (intake.Receipt, error)
	MaxBytes() int64
}

// ProgressReader looks up progress records. *progress.Tracker implements it.
type ProgressReader interface {
	Get(ctx context.Context, uploadID string) (progress.Record, error)
}

// Controller cancels jobs and reports workflow state. *workflow.Manager
// implements it.
type Controller interface {
	Cancel(ctx context.Context, uploadID string) error
	Status(ctx context.Context, checkers ...stage.Checker) workflow.StatusSummary
}

// Dependencies wire the handler to the pipeline.
type Dependencies struct {
	Uploader Uploader
	Progress ProgressReader
	Control  Controller
	Audit    *audit.Recorder
	Checkers []stage.Checker
	// Token is the optional bearer token guarding every route but /healthz.
	Token string
}

// Server renders the HTTP routes.
type Server struct {
	deps   Dependencies
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the router.
func NewServer(deps Dependencies, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "api"),
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestContext)
	r.Use(s.requireToken(deps.Token))

	r.Post("/upload", s.handleUpload)
	r.Route("/upload/{id}", func(r chi.Router) {
		r.Get("/progress", s.handleProgress)
		r.Get("/audit", s.handleAudit)
		r.Delete("/", s.handleCancel)
	})
	r.Get("/metrics", s.handleMetrics)
	if deps.Audit != nil {
		r.Method(http.MethodGet, "/metrics/prometheus", deps.Audit.Handler())
	}
	r.Get("/healthz", s.handleHealth)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "route", "no such endpoint", nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			Error:     "method not allowed",
			Kind:      string(services.ErrorKindValidation),
			RequestID: requestID(r),
		})
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestContext assigns a request id, echoes it and logs the outcome.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := services.WithRequestID(r.Context(), id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("request served",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploader == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "upload", "uploads are disabled", nil))
		return
	}
	limit := s.deps.Uploader.MaxBytes()
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, services.WithHint(
			services.Wrap(services.ErrValidation, "api", "upload", "request is not a multipart form", err),
			"send multipart/form-data with a file field",
		))
		return
	}

	// Text fields are read as they arrive; the file part is streamed straight
	// into intake, so fields sent after it are ignored.
	declared := intake.Declared{OwnerID: r.Header.Get(OwnerHeader)}
	var file *multipart.Part
	for file == nil {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeError(w, r, partError(err, limit))
			return
		}
		name := part.FormName()
		if name == "file" {
			file = part
			declared.Filename = part.FileName()
			break
		}
		value, err := readField(part)
		_ = part.Close()
		if err != nil {
			s.writeError(w, r, partError(err, limit))
			return
		}
		switch name {
		case "title":
			declared.Title = value
		case "description":
			declared.Description = value
		case "tags":
			declared.Tags = append(declared.Tags, intake.ParseTags(value)...)
		case "tag":
			declared.Tags = append(declared.Tags, value)
		}
	}
	if file == nil {
		s.writeError(w, r, services.WithHint(
			services.Wrap(services.ErrValidation, "api", "upload", "file field is missing", nil),
			"attach the video as the file field after the text fields",
		))
		return
	}
	defer file.Close()

	receipt, err := s.deps.Uploader.Accept(r.Context(), declared, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	progressURL := "/upload/" + receipt.UploadID + "/progress"
	w.Header().Set("Location", progressURL)
	s.writeJSON(w, http.StatusAccepted, UploadResponse{Receipt: receipt, ProgressURL: progressURL})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Progress == nil {
		s.writeError(w, r, notFound(id))
		return
	}
	rec, err := s.deps.Progress.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Control == nil {
		s.writeError(w, r, notFound(id))
		return
	}
	if err := s.deps.Control.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CancelResponse{
		UploadID: id,
		Status:   "cancel_requested",
		Message:  "the upload stops at its next stage boundary",
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events := s.deps.Audit.Events(id)
	if len(events) == 0 {
		s.writeError(w, r, notFound(id))
		return
	}
	s.writeJSON(w, http.StatusOK, AuditResponse{UploadID: id, Events: events})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := MetricsResponse{Summary: s.deps.Audit.Snapshot()}
	jobs := s.deps.Audit.Jobs()
	if len(jobs) > recentJobs {
		jobs = jobs[len(jobs)-recentJobs:]
	}
	resp.Recent = jobs
	if resp.Stages == nil {
		resp.Stages = map[string]audit.DurationStats{}
	}
	if resp.Tiers == nil {
		resp.Tiers = map[string]audit.TierStats{}
	}
	if s.deps.Control != nil {
		status := s.deps.Control.Status(r.Context())
		resp.Workflow = &status
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var resp HealthResponse
	if s.deps.Control != nil {
		resp.Workflow = s.deps.Control.Status(r.Context(), s.deps.Checkers...)
		resp.Checks = resp.Workflow.Health
	}
	resp.Ready = len(resp.Checks) > 0 && stage.AllReady(resp.Checks)
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

// readField reads one text part, refusing values over maxFieldBytes.
func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldBytes {
		return "", services.Wrap(services.ErrValidation, "api", "upload", "form field "+part.FormName()+" is too long", nil)
	}
	return strings.TrimSpace(string(data)), nil
}

func partError(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return intake.TooLarge(limit)
	case services.KindOf(err) != services.ErrorKindUnknown:
		return err
	}
	return services.WithHint(
		services.Wrap(services.ErrValidation, "api", "upload", "multipart body is malformed", err),
		"send multipart/form-data with a file field",
	)
}

func notFound(id string) error {
	return services.WithHint(
		services.Wrap(services.ErrNotFound, "api", "lookup", "upload "+id+" not found", nil),
		"progress is kept for 24 hours after upload",
	)
}

func requestID(r *http.Request) string {
	id, _ := services.RequestIDFromContext(r.Context())
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError renders err with the status its kind maps to. Server side
// failures are logged with the full cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	details := services.Details(err)
	resp := ErrorResponse{
		Error:     services.UserMessage(err),
		Kind:      string(details.Kind),
		Hint:      details.Hint,
		RequestID: requestID(r),
	}
	if errors.Is(err, workflow.ErrNotCancellable) {
		resp.Error = err.Error()
		resp.Kind = "conflict"
	}
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorHint, nonEmpty(details.Hint, "inspect the wrapped error")),
		)
	} else {
		logger.Info("request rejected",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String("reason", resp.Error),
		)
	}
	s.writeJSON(w, status, resp)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, workflow.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, intake.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, intake.ErrUnsupportedContainer):
		return http.StatusUnsupportedMediaType
	}
	switch services.KindOf(err) {
	case services.ErrorKindValidation:
		return http.StatusBadRequest
	case services.ErrorKindNotFound:
		return http.StatusNotFound
	case services.ErrorKindBusy:
		return http.StatusServiceUnavailable
	case services.ErrorKindStorage:
		return http.StatusInsufficientStorage
	case services.ErrorKindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
