package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vodpipe/internal/config"
	"vodpipe/internal/media"
	"vodpipe/internal/services"
)

// Status is the catalog lifecycle state of an upload.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// ErrInvalidTransition is returned when a write targets an entry whose status
// does not permit it.
var ErrInvalidTransition = errors.New("invalid catalog transition")

// Placeholder is the data known at intake time.
type Placeholder struct {
	UploadID    string
	OwnerID     string
	Slug        string
	Title       string
	Description string
	Tags        []string
	SourcePath  string
}

// TierRecord describes one published rendition.
type TierRecord struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bandwidth int64  `json:"bandwidth"`
	Playlist  string `json:"playlist"`
	SizeBytes int64  `json:"size_bytes"`
}

// Finalization is everything written when a job completes.
type Finalization struct {
	Metadata      media.Metadata
	Location      string
	MasterPath    string
	ThumbnailPath string
	PosterPath    string
	Tiers         []TierRecord
}

// Entry is a catalog row with its tiers.
type Entry struct {
	UploadID      string          `json:"upload_id"`
	OwnerID       string          `json:"owner_id"`
	Slug          string          `json:"slug"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Status        Status          `json:"status"`
	SourcePath    string          `json:"source_path,omitempty"`
	Metadata      *media.Metadata `json:"metadata,omitempty"`
	Location      string          `json:"location,omitempty"`
	MasterPath    string          `json:"master_path,omitempty"`
	ThumbnailPath string          `json:"thumbnail_path,omitempty"`
	PosterPath    string          `json:"poster_path,omitempty"`
	Tiers         []TierRecord    `json:"tiers,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Store is implemented by every catalog driver.
type Store interface {
	CreatePlaceholder(ctx context.Context, p Placeholder) (*Entry, error)
	Get(ctx context.Context, uploadID string) (*Entry, error)
	MarkProcessing(ctx context.Context, uploadID string) error
	Finalize(ctx context.Context, uploadID string, f Finalization) (*Entry, error)
	MarkFailed(ctx context.Context, uploadID string, status Status, reason string) error
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open selects the configured driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Catalog.Driver {
	case config.CatalogPostgres:
		return OpenPostgres(ctx, cfg.Catalog.DSN)
	case config.CatalogSQLite, "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.CatalogPath())
	default:
		return nil, fmt.Errorf("%w: unsupported catalog driver %q", services.ErrConfiguration, cfg.Catalog.Driver)
	}
}

func validatePlaceholder(p Placeholder) error {
	switch {
	case strings.TrimSpace(p.UploadID) == "":
		return errors.New("placeholder upload id is required")
	case strings.TrimSpace(p.Slug) == "":
		return errors.New("placeholder slug is required")
	case strings.TrimSpace(p.Title) == "":
		return errors.New("placeholder title is required")
	}
	return nil
}

func validateFinalization(f Finalization) error {
	if len(f.Tiers) == 0 {
		return errors.New("finalization requires at least one tier")
	}
	if strings.TrimSpace(f.MasterPath) == "" {
		return errors.New("finalization requires a master playlist path")
	}
	return nil
}

func validateFailure(status Status) error {
	if status != StatusFailed && status != StatusCancelled {
		return fmt.Errorf("mark failed: status %q is not a failure state", status)
	}
	return nil
}

func notFound(uploadID string) error {
	return fmt.Errorf("catalog entry %s: %w", uploadID, services.ErrNotFound)
}

func transitionError(uploadID string, current Status, target Status) error {
	return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, uploadID, current, target)
}
