package testsupport

import (
	"context"
	"testing"

	"vodpipe/internal/catalog"
	"vodpipe/internal/config"
)

// MustOpenCatalog opens the configured catalog for tests and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) catalog.Store {
	t.Helper()

	store, err := catalog.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewPlaceholder inserts an uploading entry for tests.
func NewPlaceholder(t testing.TB, store catalog.Store, uploadID, title string) *catalog.Entry {
	t.Helper()

	entry, err := store.CreatePlaceholder(context.Background(), catalog.Placeholder{
		UploadID: uploadID,
		OwnerID:  "owner-1",
		Slug:     "slug-" + uploadID,
		Title:    title,
	})
	if err != nil {
		t.Fatalf("store.CreatePlaceholder: %v", err)
	}
	return entry
}
