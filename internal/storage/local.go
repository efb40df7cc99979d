package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vodpipe/internal/fileutil"
	"vodpipe/internal/logging"
)

// LocalBackend publishes into a directory on the host.
type LocalBackend struct {
	root   string
	logger *slog.Logger
}

// NewLocalBackend ensures root exists and returns a backend rooted there.
func NewLocalBackend(root string, logger *slog.Logger) (*LocalBackend, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("local storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBackend{root: root, logger: logging.NewComponentLogger(logger, "storage")}, nil
}

func (b *LocalBackend) Name() string { return "local" }

// Root returns the storage directory.
func (b *LocalBackend) Root() string { return b.root }

// Path resolves a backend-relative key on disk.
func (b *LocalBackend) Path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *LocalBackend) Publish(ctx context.Context, slug, localDir string) (Location, error) {
	if err := validSlug(slug); err != nil {
		return Location{}, err
	}
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	files, size, err := fileutil.TreeStats(localDir)
	if err != nil {
		return Location{}, storageError("publish", "inspect artifacts", err)
	}
	dest := filepath.Join(b.root, slug)
	if err := fileutil.MoveDir(localDir, dest); err != nil {
		return Location{}, storageError("publish", "move artifacts to "+dest, err)
	}
	b.logger.Debug("artifacts published",
		logging.String("slug", slug),
		logging.String("destination", dest),
		logging.Int("files", files),
	)
	return Location{Backend: b.Name(), URI: dest, Slug: slug, Files: files, Bytes: size}, nil
}

func (b *LocalBackend) Remove(ctx context.Context, slug string) error {
	if err := validSlug(slug); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(b.root, slug)); err != nil {
		return storageError("remove", "delete "+slug, err)
	}
	return nil
}

func validSlug(slug string) error {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return fmt.Errorf("invalid storage slug %q", slug)
	}
	return nil
}
