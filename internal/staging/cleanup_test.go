package staging

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"vodpipe/internal/logging"
)

// makeWorkspaces creates one directory per name, aged by the given offset.
func makeWorkspaces(t *testing.T, root string, ages map[string]time.Duration) {
	t.Helper()
	now := time.Now()
	for name, age := range ages {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Join(dir, "output"), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
		stamp := now.Add(-age)
		if err := os.Chtimes(dir, stamp, stamp); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}
}

func remaining(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read %s: %v", root, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names
}

func TestCleanStale(t *testing.T) {
	ages := map[string]time.Duration{
		"queued-old":   5 * time.Hour,
		"running-old":  3 * time.Hour,
		"abandoned":    2 * time.Hour,
		"fresh-upload": 10 * time.Minute,
	}
	tests := []struct {
		name     string
		inFlight func(string) bool
		keep     []string
	}{
		{
			name: "no jobs in flight",
			keep: []string{"fresh-upload"},
		},
		{
			name:     "in-flight jobs survive regardless of age",
			inFlight: func(id string) bool { return id == "queued-old" || id == "running-old" },
			keep:     []string{"fresh-upload", "queued-old", "running-old"},
		},
		{
			name:     "everything in flight",
			inFlight: func(string) bool { return true },
			keep:     []string{"abandoned", "fresh-upload", "queued-old", "running-old"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			makeWorkspaces(t, root, ages)

			var asked []string
			inFlight := tt.inFlight
			if inFlight != nil {
				inFlight = func(id string) bool {
					asked = append(asked, id)
					return tt.inFlight(id)
				}
			}
			result := CleanStale(context.Background(), root, time.Hour, inFlight, logging.NewNop())
			if len(result.Errors) != 0 {
				t.Fatalf("errors: %+v", result.Errors)
			}
			if got := remaining(t, root); !slices.Equal(got, tt.keep) {
				t.Fatalf("remaining = %v, want %v", got, tt.keep)
			}
			if want := len(ages) - len(tt.keep); len(result.Removed) != want {
				t.Fatalf("removed %v, want %d entries", result.Removed, want)
			}
			if inFlight != nil && len(asked) != len(ages) {
				t.Fatalf("inFlight consulted for %v, want every workspace", asked)
			}
		})
	}
}

func TestCleanStaleSkipsFilesAndMissingRoots(t *testing.T) {
	root := t.TempDir()
	stray := filepath.Join(root, "upload.part")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stray, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	for _, dir := range []string{root, "", "  ", filepath.Join(root, "missing")} {
		result := CleanStale(context.Background(), dir, time.Hour, func(string) bool { return false }, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Fatalf("CleanStale(%q) = %+v, want nothing done", dir, result)
		}
	}
	if _, err := os.Stat(stray); err != nil {
		t.Fatalf("loose file removed: %v", err)
	}
}

func TestCleanStaleStopsWhenCancelled(t *testing.T) {
	root := t.TempDir()
	makeWorkspaces(t, root, map[string]time.Duration{"a": 2 * time.Hour, "b": 2 * time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := CleanStale(ctx, root, time.Hour, nil, logging.NewNop())
	if len(result.Removed) != 0 {
		t.Fatalf("removed %v after cancellation", result.Removed)
	}
}

func TestCleanOrphaned(t *testing.T) {
	root := t.TempDir()
	makeWorkspaces(t, root, map[string]time.Duration{
		"5F0C2A9E-UPLOAD": time.Minute,
		"processing-1":    time.Minute,
		"leftover":        time.Minute,
	})
	active := map[string]struct{}{
		"5f0c2a9e-upload": {},
		"processing-1":    {},
	}

	result := CleanOrphaned(context.Background(), root, active, logging.NewNop())
	if len(result.Removed) != 1 || filepath.Base(result.Removed[0]) != "leftover" {
		t.Fatalf("removed = %v, want only leftover", result.Removed)
	}
	if got := remaining(t, root); !slices.Equal(got, []string{"5F0C2A9E-UPLOAD", "processing-1"}) {
		t.Fatalf("remaining = %v", got)
	}

	if res := CleanOrphaned(context.Background(), "", nil, logging.NewNop()); len(res.Removed)+len(res.Errors) != 0 {
		t.Fatalf("empty staging dir: %+v", res)
	}
}

func TestListDirectoriesReportsSizes(t *testing.T) {
	if dirs, err := ListDirectories(filepath.Join(t.TempDir(), "missing")); err != nil || dirs != nil {
		t.Fatalf("missing root = %v, %v; want nil, nil", dirs, err)
	}

	root := t.TempDir()
	makeWorkspaces(t, root, map[string]time.Duration{"with-source": time.Hour, "empty": time.Minute})
	if err := os.WriteFile(filepath.Join(root, "with-source", "source.mp4"), make([]byte, 1500), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "with-source", "output", "index.m3u8"), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	dirs, err := ListDirectories(root)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	sizes := make(map[string]int64, len(dirs))
	for _, d := range dirs {
		sizes[d.Name] = d.Size
	}
	if len(sizes) != 2 || sizes["with-source"] != 1508 || sizes["empty"] != 0 {
		t.Fatalf("sizes = %v", sizes)
	}
}
