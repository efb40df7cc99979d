package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vodpipe/internal/api"
	"vodpipe/internal/catalog"
	"vodpipe/internal/config"
	"vodpipe/internal/daemon"
	"vodpipe/internal/logging"
	"vodpipe/internal/progress"
	"vodpipe/internal/testsupport"
)

func startDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, string, context.CancelFunc, <-chan error) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d, err := daemon.New(context.Background(), cfg, logging.NewNop(),
		daemon.WithRunner(testsupport.NewFakeRunner(1280, 720, 12)),
		daemon.WithListener(listener),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	base := "http://" + listener.Addr().String()
	waitFor(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	})
	return d, base, cancel, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func getRecord(t *testing.T, base, id string) (progress.Record, int) {
	t.Helper()
	resp, err := http.Get(base + "/upload/" + id + "/progress")
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	defer resp.Body.Close()
	var rec progress.Record
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			t.Fatalf("decode progress: %v", err)
		}
	}
	return rec, resp.StatusCode
}

func TestDaemonServesUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, base, cancel, done := startDaemon(t, cfg)

	if !d.Status(context.Background()).Running {
		t.Fatal("expected daemon to report running")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("title", "Daemon Test")
	part, _ := mw.CreateFormFile("file", "clip.mp4")
	_, _ = part.Write(testsupport.SampleMP4(4096))
	_ = mw.Close()

	resp, err := http.Post(base+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	var accepted api.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /upload status = %d", resp.StatusCode)
	}

	waitFor(t, func() bool {
		rec, code := getRecord(t, base, accepted.UploadID)
		return code == http.StatusOK && rec.Status == progress.StatusComplete
	})
	if _, err := os.Stat(filepath.Join(cfg.Paths.StorageDir, accepted.Slug, "master.m3u8")); err != nil {
		t.Fatalf("master playlist not published: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if d.Status(context.Background()).Running {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestDaemonHoldsInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, _, cancel, done := startDaemon(t, cfg)
	defer func() {
		cancel()
		<-done
	}()

	second, err := daemon.New(context.Background(), cfg, logging.NewNop(), daemon.WithRunner(testsupport.NewFakeRunner(640, 360, 5)))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer second.Close()
	if err := second.Run(context.Background()); err == nil {
		t.Fatal("expected second daemon to fail on the lock")
	}
}

func TestDaemonRecoversInterruptedUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := catalog.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	resumable := testsupport.NewPlaceholder(t, store, "resume-me", "Resume")
	testsupport.NewPlaceholder(t, store, "lost-source", "Lost")
	if err := store.MarkProcessing(ctx, "lost-source"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close catalog: %v", err)
	}
	testsupport.WriteBytes(t, filepath.Join(cfg.Paths.StagingDir, "resume-me", "source.mp4"), testsupport.SampleMP4(2048))
	stray := filepath.Join(cfg.Paths.StagingDir, "stray")
	if err := os.MkdirAll(stray, 0o755); err != nil {
		t.Fatalf("mkdir stray: %v", err)
	}

	_, base, cancel, done := startDaemon(t, cfg)
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, func() bool {
		rec, code := getRecord(t, base, "resume-me")
		return code == http.StatusOK && rec.Status == progress.StatusComplete
	})
	if _, err := os.Stat(filepath.Join(cfg.Paths.StorageDir, resumable.Slug, "thumbnail.jpg")); err != nil {
		t.Fatalf("recovered upload not published: %v", err)
	}
	rec, code := getRecord(t, base, "lost-source")
	if code != http.StatusOK || rec.Status != progress.StatusFailed {
		t.Fatalf("lost upload = %d %+v", code, rec)
	}
	if _, err := os.Stat(stray); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stray workspace should be swept, stat err = %v", err)
	}
}
