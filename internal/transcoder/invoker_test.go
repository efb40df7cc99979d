package transcoder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vodpipe/internal/logging"
	"vodpipe/internal/media"
	"vodpipe/internal/services"
	"vodpipe/internal/testsupport"
	"vodpipe/internal/transcoder"
)

func newInvoker(t *testing.T, runner transcoder.Runner) *transcoder.Invoker {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return transcoder.NewInvoker(transcoder.SettingsFromConfig(cfg), runner, logging.NewNop())
}

func TestProbeReturnsMetadata(t *testing.T) {
	runner := testsupport.NewFakeRunner(1280, 720, 95.5)
	inv := newInvoker(t, runner)

	meta, err := inv.Probe(context.Background(), "/staging/abc/source.mp4")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if meta.Width != 1280 || meta.Height != 720 || !meta.HasAudio() {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if meta.Duration != 95500*time.Millisecond {
		t.Fatalf("unexpected duration %s", meta.Duration)
	}
}

func TestProbeFailsPermanentlyOnUnparseableOutput(t *testing.T) {
	runner := testsupport.NewFakeRunner(1280, 720, 10)
	runner.SetProbeOutput([]byte(`{"streams":[],"format":{}}`))
	inv := newInvoker(t, runner)

	_, err := inv.Probe(context.Background(), "/staging/abc/source.mp4")
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if services.Details(err).Hint == "" {
		t.Fatal("expected remediation hint")
	}
}

func TestExtractFrameUsesDurationFractions(t *testing.T) {
	runner := testsupport.NewFakeRunner(1920, 1080, 200)
	inv := newInvoker(t, runner)
	dir := t.TempDir()
	meta := media.Metadata{Duration: 200 * time.Second, Width: 1920, Height: 1080}

	thumb := filepath.Join(dir, "thumbnail.jpg")
	poster := filepath.Join(dir, "poster.jpg")
	if err := inv.ExtractFrame(context.Background(), "/staging/abc/source.mp4", meta, transcoder.FrameThumbnail, thumb); err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if err := inv.ExtractFrame(context.Background(), "/staging/abc/source.mp4", meta, transcoder.FramePoster, poster); err != nil {
		t.Fatalf("poster: %v", err)
	}

	calls := runner.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	wantSeek := []string{"20.000", "50.000"}
	wantFilter := []string{"scale=320:180", "scale=1280:720"}
	for i, cmd := range calls {
		if seekArg(cmd.Args) != wantSeek[i] {
			t.Fatalf("call %d seek = %q, want %q", i, seekArg(cmd.Args), wantSeek[i])
		}
		if filter := valueAfter(cmd.Args, "-vf"); len(filter) < len(wantFilter[i]) || filter[:len(wantFilter[i])] != wantFilter[i] {
			t.Fatalf("call %d filter = %q", i, filter)
		}
	}
	for _, path := range []string{thumb, poster} {
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Fatalf("expected %s to be written: %v", path, err)
		}
	}
}

func TestEncodeTierReportsSegmentsAndSize(t *testing.T) {
	runner := testsupport.NewFakeRunner(1280, 720, 18)
	inv := newInvoker(t, runner)
	outDir := filepath.Join(t.TempDir(), "720p")
	tier := media.Tier{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128, Profile: "main"}

	result, err := inv.EncodeTier(context.Background(), "/staging/abc/source.mp4", media.Metadata{Duration: 18 * time.Second, FrameRate: 30, AudioCodec: "aac"}, tier, outDir)
	if err != nil {
		t.Fatalf("EncodeTier: %v", err)
	}
	if result.Segments != 3 {
		t.Fatalf("expected 3 segments, got %d", result.Segments)
	}
	if result.SizeBytes <= 0 {
		t.Fatalf("expected positive size, got %d", result.SizeBytes)
	}
	if result.Playlist != filepath.Join(outDir, "index.m3u8") {
		t.Fatalf("unexpected playlist %q", result.Playlist)
	}
}

func TestEncodeTierClassifiesTransientFailure(t *testing.T) {
	runner := testsupport.NewFakeRunner(1280, 720, 18)
	runner.FailNext("segment:720p", testsupport.FakeFailure{Stderr: "Resource temporarily unavailable"})
	inv := newInvoker(t, runner)
	tier := media.Tier{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128, Profile: "main"}

	_, err := inv.EncodeTier(context.Background(), "/staging/abc/source.mp4", media.Metadata{Duration: 18 * time.Second}, tier, filepath.Join(t.TempDir(), "720p"))
	if !services.Retryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestEncodeTierRejectsIncompletePlaylist(t *testing.T) {
	runner := &truncatingRunner{}
	inv := newInvoker(t, runner)
	tier := media.Tier{Name: "360p", Width: 640, Height: 360, VideoBitrateKbps: 800, AudioBitrateKbps: 96, Profile: "baseline"}

	_, err := inv.EncodeTier(context.Background(), "/staging/abc/source.mp4", media.Metadata{Duration: 18 * time.Second}, tier, filepath.Join(t.TempDir(), "360p"))
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

// truncatingRunner exits cleanly but leaves a playlist without an end tag.
type truncatingRunner struct{}

func (truncatingRunner) Run(_ context.Context, cmd transcoder.Command) (transcoder.Output, error) {
	playlist := filepath.Join(cmd.Outputs[0], transcoder.IndexPlaylist)
	return transcoder.Output{}, os.WriteFile(playlist, []byte("#EXTM3U\n#EXTINF:6.0,\nsegment_000.ts\n"), 0o644)
}

func seekArg(args []string) string { return valueAfter(args, "-ss") }

func valueAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
