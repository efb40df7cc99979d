// Package storage publishes a finished artifact set to its final home and
// removes it again when a later step fails.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"vodpipe/internal/config"
	"vodpipe/internal/services"
	"vodpipe/internal/transcoder"
)

// Artifact file names inside a published slug directory.
const (
	ThumbnailFile = "thumbnail.jpg"
	PosterFile    = "poster.jpg"
)

// Location describes where an artifact set was published. Keys are relative
// to the backend root so the catalog stays portable across mounts.
type Location struct {
	Backend string `json:"backend"`
	URI     string `json:"uri"`
	Slug    string `json:"slug"`
	Files   int    `json:"files"`
	Bytes   int64  `json:"bytes"`
}

// Key joins slug-relative parts into a backend-relative key.
func (l Location) Key(parts ...string) string {
	return path.Join(append([]string{l.Slug}, parts...)...)
}

// MasterKey is the master playlist key.
func (l Location) MasterKey() string { return l.Key(transcoder.MasterPlaylist) }

// ThumbnailKey is the thumbnail key.
func (l Location) ThumbnailKey() string { return l.Key(ThumbnailFile) }

// PosterKey is the poster key.
func (l Location) PosterKey() string { return l.Key(PosterFile) }

// TierPlaylistKey is the media playlist key of one tier.
func (l Location) TierPlaylistKey(tier string) string {
	return l.Key(tier, transcoder.IndexPlaylist)
}

// Backend moves a local artifact directory into final storage.
type Backend interface {
	Name() string
	// Publish moves localDir to {slug}/. On success localDir no longer exists.
	Publish(ctx context.Context, slug, localDir string) (Location, error)
	// Remove deletes everything published under slug. Missing slugs are not
	// an error.
	Remove(ctx context.Context, slug string) error
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3Backend(ctx, S3Options{
			Bucket:   cfg.Storage.S3Bucket,
			Region:   cfg.Storage.S3Region,
			Prefix:   cfg.Storage.S3Prefix,
			Endpoint: cfg.Storage.S3Endpoint,
		}, logger)
	case config.StorageLocal, "":
		return NewLocalBackend(cfg.Paths.StorageDir, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported storage backend %q", services.ErrConfiguration, cfg.Storage.Backend)
	}
}

func storageError(operation, message string, err error) error {
	return services.WithHint(
		services.Wrap(services.ErrStorage, "storage", operation, message, err),
		"Check free space and permissions on the storage target",
	)
}
