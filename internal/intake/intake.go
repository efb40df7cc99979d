package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"vodpipe/internal/audit"
	"vodpipe/internal/catalog"
	"vodpipe/internal/config"
	"vodpipe/internal/logging"
	"vodpipe/internal/media"
	"vodpipe/internal/preflight"
	"vodpipe/internal/progress"
	"vodpipe/internal/services"
	"vodpipe/internal/stage"
	"vodpipe/internal/staging"
	"vodpipe/internal/textutil"
	"vodpipe/internal/workflow"
)

// partialName holds the body while it streams in; it never matches the
// source glob.
const partialName = "upload.part"

// DefaultOwner is recorded when an upload carries no owner.
const DefaultOwner = "anonymous"

// Submitter queues accepted uploads. *workflow.Manager implements it.
type Submitter interface {
	Submit(req workflow.Request) error
}

// Dependencies are the collaborators intake writes to.
type Dependencies struct {
	Catalog   catalog.Store
	Progress  *progress.Tracker
	Audit     *audit.Recorder
	Submitter Submitter
}

// Receipt is returned for an accepted upload.
type Receipt struct {
	UploadID  string          `json:"upload_id"`
	Slug      string          `json:"slug"`
	Status    progress.Status `json:"status"`
	Container media.Container `json:"container"`
	SizeBytes int64           `json:"size_bytes"`
	Progress  float64         `json:"progress"`
}

// Service accepts uploads.
type Service struct {
	cfg       *config.Config
	deps      Dependencies
	logger    *slog.Logger
	newID     func() string
	freeSpace func(path string, minFree uint64) error
}

// Option customises a Service.
type Option func(*Service)

// WithIDGenerator replaces the upload id source (tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithFreeSpaceCheck replaces the staging free space guard (tests).
func WithFreeSpaceCheck(fn func(path string, minFree uint64) error) Option {
	return func(s *Service) {
		if fn != nil {
			s.freeSpace = fn
		}
	}
}

// NewService constructs an intake service.
func NewService(cfg *config.Config, deps Dependencies, logger *slog.Logger, opts ...Option) (*Service, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("intake: config required")
	case deps.Catalog == nil:
		return nil, errors.New("intake: catalog store required")
	case deps.Progress == nil:
		return nil, errors.New("intake: progress tracker required")
	case deps.Submitter == nil:
		return nil, errors.New("intake: submitter required")
	}
	s := &Service{
		cfg:       cfg,
		deps:      deps,
		logger:    logging.NewComponentLogger(logger, "intake"),
		newID:     uuid.NewString,
		freeSpace: preflight.EnsureFreeSpace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxBytes is the configured upload size limit.
func (s *Service) MaxBytes() int64 {
	return s.cfg.MaxUploadBytes()
}

// Accept stages body as a new upload. Nothing is left on disk or in the
// catalog when Accept returns an error.
func (s *Service) Accept(ctx context.Context, declared Declared, body io.Reader) (Receipt, error) {
	declared = declared.Normalize()
	if err := declared.Validate(); err != nil {
		return Receipt{}, err
	}
	if declared.OwnerID == "" {
		declared.OwnerID = DefaultOwner
	}
	if err := s.freeSpace(s.cfg.Paths.StagingDir, preflight.MinFreeBytes(s.cfg)); err != nil {
		return Receipt{}, err
	}

	id := s.newID()
	ctx = services.WithUploadID(ctx, id)
	logger := logging.WithContext(ctx, s.logger)
	ws, err := staging.NewWorkspace(s.cfg.Paths.StagingDir, id)
	if err != nil {
		return Receipt{}, services.Wrap(services.ErrStorage, "intake", "workspace", "upload id rejected", err)
	}
	if err := ws.Create(); err != nil {
		return Receipt{}, services.Wrap(services.ErrStorage, "intake", "workspace", "staging area unavailable", err)
	}

	staged, err := s.stageBody(ws, body)
	if err != nil {
		s.discard(logger, ws)
		return Receipt{}, err
	}

	slug := slugFor(declared.Title, id)
	if _, err := s.deps.Catalog.CreatePlaceholder(ctx, catalog.Placeholder{
		UploadID:    id,
		OwnerID:     declared.OwnerID,
		Slug:        slug,
		Title:       declared.Title,
		Description: declared.Description,
		Tags:        declared.Tags,
		SourcePath:  staged.path,
	}); err != nil {
		s.discard(logger, ws)
		return Receipt{}, services.WithHint(
			services.Wrap(services.ErrCatalogWrite, "intake", "placeholder", "catalog entry could not be created", err),
			"check catalog database health",
		)
	}

	span, _ := stage.RangeOf(stage.Uploaded)
	rec := progress.Record{
		UploadID: id,
		Slug:     slug,
		Status:   progress.StatusUploading,
		Stage:    string(stage.Uploaded),
		Percent:  span.End,
		Message:  stage.Uploaded.Label(),
	}
	if err := s.deps.Progress.Put(ctx, rec); err != nil {
		logging.WarnWithContext(logger, "initial progress write failed", "progress_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the progress store backend"),
			logging.String(logging.FieldImpact, "pollers see 404 until the first stage starts"),
		)
	}
	s.deps.Audit.Record(audit.Event{
		UploadID: id,
		Type:     audit.EventUploadAccepted,
		Stage:    string(stage.Uploaded),
		Attrs: map[string]string{
			"container":  string(staged.container),
			"size_bytes": fmt.Sprintf("%d", staged.size),
			"owner_id":   declared.OwnerID,
		},
	})

	req := workflow.Request{UploadID: id, Slug: slug, OwnerID: declared.OwnerID, Title: declared.Title}
	if err := s.deps.Submitter.Submit(req); err != nil {
		s.reject(ctx, logger, ws, rec, err)
		return Receipt{}, err
	}

	logger.Info("upload accepted",
		logging.String("slug", slug),
		logging.String("container", string(staged.container)),
		logging.Int64("size_bytes", staged.size),
		logging.String("filename", declared.Filename),
		logging.Int("tags", len(declared.Tags)),
		logging.String(logging.FieldEventType, "upload_accepted"),
	)
	return Receipt{
		UploadID:  id,
		Slug:      slug,
		Status:    progress.StatusUploading,
		Container: staged.container,
		SizeBytes: staged.size,
		Progress:  span.End,
	}, nil
}

type stagedSource struct {
	path      string
	container media.Container
	size      int64
}

// stageBody sniffs the leading bytes, then streams the body into the
// workspace under a temporary name, renaming it into place only once the
// size limit has been honoured.
func (s *Service) stageBody(ws staging.Workspace, body io.Reader) (stagedSource, error) {
	header := make([]byte, media.SniffLength)
	n, err := io.ReadFull(body, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return stagedSource{}, readError(err)
	}
	header = header[:n]
	if n == 0 {
		return stagedSource{}, invalid("file", "uploaded file is empty", "select a video file to upload")
	}
	container, ok := media.DetectContainer(header)
	if !ok {
		return stagedSource{}, services.WithHint(
			services.Wrap(services.ErrValidation, "intake", "sniff", "file is not a supported video container", ErrUnsupportedContainer),
			"upload MP4, MOV, MKV, WebM, AVI, MPEG-TS, MPEG-PS or FLV",
		)
	}

	limit := s.cfg.MaxUploadBytes()
	partial := filepath.Join(ws.Dir(), partialName)
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return stagedSource{}, services.Wrap(services.ErrStorage, "intake", "stage", "staging file could not be created", err)
	}
	var reader io.Reader = io.MultiReader(bytes.NewReader(header), body)
	if limit > 0 {
		reader = io.LimitReader(reader, limit+1)
	}
	written, copyErr := io.Copy(f, reader)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return stagedSource{}, readError(copyErr)
	case closeErr != nil:
		return stagedSource{}, services.Wrap(services.ErrStorage, "intake", "stage", "staging file could not be written", closeErr)
	case limit > 0 && written > limit:
		return stagedSource{}, TooLarge(limit)
	}

	final := ws.SourcePath(container.Extension())
	if err := os.Rename(partial, final); err != nil {
		return stagedSource{}, services.Wrap(services.ErrStorage, "intake", "stage", "staging file could not be finalised", err)
	}
	return stagedSource{path: final, container: container, size: written}, nil
}

// TooLarge is the error returned when an upload exceeds limit bytes.
func TooLarge(limit int64) error {
	return services.WithHint(
		services.Wrap(services.ErrValidation, "intake", "size", "uploaded file exceeds the size limit", ErrTooLarge),
		fmt.Sprintf("upload files up to %d MB", limit/(1024*1024)),
	)
}

var (
	// ErrTooLarge marks size limit violations so transports can answer 413.
	ErrTooLarge = errors.New("upload too large")
	// ErrUnsupportedContainer marks bodies whose signature matched no
	// accepted container.
	ErrUnsupportedContainer = errors.New("unsupported container")
)

func readError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return TooLarge(maxErr.Limit)
	}
	return services.Wrap(services.ErrValidation, "intake", "read", "upload was interrupted", err)
}

// discard removes the staged workspace after a rejected upload.
func (s *Service) discard(logger *slog.Logger, ws staging.Workspace) {
	if err := ws.Remove(); err != nil {
		logging.WarnWithContext(logger, "rejected upload cleanup failed", "cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the stale workspace sweep will retry"),
			logging.String(logging.FieldImpact, "staging space not reclaimed"),
		)
	}
}

// reject settles an upload that was staged but could not be queued.
func (s *Service) reject(ctx context.Context, logger *slog.Logger, ws staging.Workspace, rec progress.Record, cause error) {
	s.discard(logger, ws)
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Catalog.MarkFailed(cleanupCtx, rec.UploadID, catalog.StatusFailed, services.UserMessage(cause)); err != nil {
		logging.ErrorWithContext(logger, "placeholder could not be failed", "catalog_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check catalog database health"),
		)
	}
	s.deps.Progress.Reporter(rec).Fail(cleanupCtx, rec.Stage, cause)
	s.deps.Audit.Record(audit.Event{UploadID: rec.UploadID, Type: audit.EventJobFailed, Detail: services.UserMessage(cause)})
	logging.WarnWithContext(logger, "upload rejected", "upload_rejected",
		logging.Error(cause),
		logging.String(logging.FieldErrorKind, string(services.KindOf(cause))),
		logging.String(logging.FieldErrorHint, "raise pipeline.queue_size or pipeline.max_concurrent"),
		logging.String(logging.FieldImpact, "client must retry the upload"),
	)
}

func slugFor(title, id string) string {
	base := textutil.Slugify(title)
	if base == "" {
		base = "video"
	}
	suffix := id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return base + "-" + suffix
}
