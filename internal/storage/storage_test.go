package storage_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"vodpipe/internal/services"
	"vodpipe/internal/storage"
	"vodpipe/internal/testsupport"
)

func writeArtifacts(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"master.m3u8":         "#EXTM3U\n",
		"thumbnail.jpg":       "thumb",
		"poster.jpg":          "poster",
		"720p/index.m3u8":     "#EXTM3U\n#EXT-X-ENDLIST\n",
		"720p/segment_000.ts": "segment",
	}
	for rel, content := range files {
		testsupport.WriteBytes(t, filepath.Join(dir, rel), []byte(content))
	}
}

func TestLocalPublishMovesTree(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend, err := storage.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	local := backend.(*storage.LocalBackend)

	out := filepath.Join(cfg.Paths.StagingDir, "abc", "out")
	writeArtifacts(t, out)

	loc, err := backend.Publish(context.Background(), "clip-abc", out)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if loc.Backend != "local" || loc.Files != 5 || loc.Bytes == 0 {
		t.Fatalf("unexpected location %+v", loc)
	}
	if loc.MasterKey() != "clip-abc/master.m3u8" || loc.TierPlaylistKey("720p") != "clip-abc/720p/index.m3u8" {
		t.Fatalf("unexpected keys: %s %s", loc.MasterKey(), loc.TierPlaylistKey("720p"))
	}
	if _, err := os.Stat(local.Path(loc.PosterKey())); err != nil {
		t.Fatalf("poster not published: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("staging output should be gone, stat err = %v", err)
	}

	if err := backend.Remove(context.Background(), "clip-abc"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.StorageDir, "clip-abc")); !os.IsNotExist(err) {
		t.Fatalf("published tree should be removed, stat err = %v", err)
	}
	if err := backend.Remove(context.Background(), "clip-abc"); err != nil {
		t.Fatalf("Remove of missing slug should succeed: %v", err)
	}
}

func TestLocalPublishCollisionIsStorageError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend, err := storage.NewLocalBackend(cfg.Paths.StorageDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	testsupport.WriteBytes(t, filepath.Join(cfg.Paths.StorageDir, "clip-abc", "master.m3u8"), []byte("old"))
	out := filepath.Join(cfg.Paths.StagingDir, "abc", "out")
	writeArtifacts(t, out)

	_, err = backend.Publish(context.Background(), "clip-abc", out)
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if services.Details(err).Stage != "storage" {
		t.Fatalf("stage = %q, want storage", services.Details(err).Stage)
	}
}

func TestRejectsUnsafeSlug(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend, err := storage.NewLocalBackend(cfg.Paths.StorageDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, slug := range []string{"", "..", "a/b"} {
		if _, err := backend.Publish(context.Background(), slug, t.TempDir()); err == nil {
			t.Fatalf("slug %q should be rejected", slug)
		}
	}
}

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]string
	types    map[string]string
	failOn   string
	pageSize int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]string{}, types: map[string]string{}, pageSize: 2}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if f.failOn != "" && strings.HasSuffix(key, f.failOn) {
		return nil, errors.New("service unavailable")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = string(data)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) && key > aws.ToString(in.StartAfter) && key > aws.ToString(in.ContinuationToken) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func TestS3PublishUploadsWithContentTypes(t *testing.T) {
	fake := newFakeS3()
	backend, err := storage.NewS3Backend(context.Background(), storage.S3Options{
		Bucket: "media",
		Prefix: "/vod/",
		Client: fake,
	}, nil)
	if err != nil {
		t.Fatalf("NewS3Backend failed: %v", err)
	}
	out := filepath.Join(t.TempDir(), "out")
	writeArtifacts(t, out)

	loc, err := backend.Publish(context.Background(), "clip-abc", out)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if loc.URI != "s3://media/vod/clip-abc" || loc.Files != 5 {
		t.Fatalf("unexpected location %+v", loc)
	}
	want := []string{
		"vod/clip-abc/720p/index.m3u8",
		"vod/clip-abc/720p/segment_000.ts",
		"vod/clip-abc/master.m3u8",
		"vod/clip-abc/poster.jpg",
		"vod/clip-abc/thumbnail.jpg",
	}
	if got := fake.keys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	if ct := fake.types["vod/clip-abc/master.m3u8"]; ct != "application/vnd.apple.mpegurl" {
		t.Fatalf("playlist content type = %q", ct)
	}
	if ct := fake.types["vod/clip-abc/720p/segment_000.ts"]; ct != "video/mp2t" {
		t.Fatalf("segment content type = %q", ct)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("local output should be removed after upload, stat err = %v", err)
	}

	if err := backend.Remove(context.Background(), "clip-abc"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if got := fake.keys(); len(got) != 0 {
		t.Fatalf("objects left after remove: %v", got)
	}
}

func TestS3PublishFailureLeavesNoObjects(t *testing.T) {
	fake := newFakeS3()
	fake.failOn = "thumbnail.jpg"
	backend, err := storage.NewS3Backend(context.Background(), storage.S3Options{Bucket: "media", Client: fake}, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "out")
	writeArtifacts(t, out)

	_, err = backend.Publish(context.Background(), "clip-abc", out)
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if got := fake.keys(); len(got) != 0 {
		t.Fatalf("partial upload left objects: %v", got)
	}
	if _, err := os.Stat(filepath.Join(out, "master.m3u8")); err != nil {
		t.Fatalf("local output must survive a failed upload: %v", err)
	}
}

func TestS3RequiresBucket(t *testing.T) {
	if _, err := storage.NewS3Backend(context.Background(), storage.S3Options{Client: newFakeS3()}, nil); err == nil {
		t.Fatal("expected error without bucket")
	}
}
