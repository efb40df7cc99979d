package transcoder

import (
	"slices"
	"strings"
	"testing"
	"time"

	"vodpipe/internal/media"
)

func testTier() media.Tier {
	return media.Tier{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128, Profile: "main"}
}

func argAfter(args []string, flag string) string {
	idx := slices.Index(args, flag)
	if idx < 0 || idx+1 >= len(args) {
		return ""
	}
	return args[idx+1]
}

func TestNewProbeCommandRejectsRelativePaths(t *testing.T) {
	if _, err := NewProbeCommand("ffprobe", "source.mp4", time.Second); err == nil {
		t.Fatal("expected relative source to be rejected")
	}
	if _, err := NewProbeCommand("ffprobe", "/tmp/../tmp/source.mp4", time.Second); err == nil {
		t.Fatal("expected unclean source to be rejected")
	}
	if _, err := NewProbeCommand("", "/tmp/source.mp4", time.Second); err == nil {
		t.Fatal("expected empty binary to be rejected")
	}
	cmd, err := NewProbeCommand("ffprobe", "/tmp/source.mp4", time.Second)
	if err != nil {
		t.Fatalf("NewProbeCommand: %v", err)
	}
	if cmd.Kind != KindProbe || cmd.Args[len(cmd.Args)-1] != "/tmp/source.mp4" {
		t.Fatalf("unexpected command %v", cmd)
	}
	if argAfter(cmd.Args, "-of") != "json" {
		t.Fatalf("expected json output, got %v", cmd.Args)
	}
}

func TestNewFrameCommandScalesAndPads(t *testing.T) {
	cmd, err := NewFrameCommand("ffmpeg", FrameSpec{
		Source: "/in/source.mp4",
		Dest:   "/out/thumbnail.jpg",
		At:     12500 * time.Millisecond,
		Width:  320,
		Height: 180,
	}, time.Minute)
	if err != nil {
		t.Fatalf("NewFrameCommand: %v", err)
	}
	if got := argAfter(cmd.Args, "-ss"); got != "12.500" {
		t.Fatalf("unexpected seek %q", got)
	}
	if got := argAfter(cmd.Args, "-frames:v"); got != "1" {
		t.Fatalf("expected single frame, got %q", got)
	}
	filter := argAfter(cmd.Args, "-vf")
	if !strings.Contains(filter, "scale=320:180:force_original_aspect_ratio=decrease") || !strings.Contains(filter, "pad=320:180") {
		t.Fatalf("unexpected filter %q", filter)
	}
	if cmd.Outputs[0] != "/out/thumbnail.jpg" || cmd.Args[len(cmd.Args)-1] != "/out/thumbnail.jpg" {
		t.Fatalf("unexpected outputs %v", cmd.Outputs)
	}

	if _, err := NewFrameCommand("ffmpeg", FrameSpec{Source: "/in/a.mp4", Dest: "/out/a.jpg"}, time.Minute); err == nil {
		t.Fatal("expected zero frame size to be rejected")
	}
}

func TestNewSegmentCommandBuildsHLSArgs(t *testing.T) {
	cmd, err := NewSegmentCommand("ffmpeg", SegmentSpec{
		Source:         "/in/source.mp4",
		OutputDir:      "/out/720p",
		Tier:           testTier(),
		SegmentSeconds: 6,
		FrameRate:      30,
		HasAudio:       true,
	}, time.Hour)
	if err != nil {
		t.Fatalf("NewSegmentCommand: %v", err)
	}
	checks := map[string]string{
		"-hls_time":             "6",
		"-hls_playlist_type":    "vod",
		"-hls_segment_filename": "/out/720p/segment_%03d.ts",
		"-profile:v":            "main",
		"-b:v":                  "2800k",
		"-b:a":                  "128k",
		"-vf":                   "scale=1280:720",
		"-g":                    "180",
		"-preset":               "veryfast",
	}
	for flag, want := range checks {
		if got := argAfter(cmd.Args, flag); got != want {
			t.Fatalf("%s = %q, want %q", flag, got, want)
		}
	}
	if cmd.Args[len(cmd.Args)-1] != "/out/720p/index.m3u8" {
		t.Fatalf("unexpected playlist target %q", cmd.Args[len(cmd.Args)-1])
	}
	if slices.Contains(cmd.Args, "-an") {
		t.Fatal("audio should be kept")
	}
}

func TestNewSegmentCommandDropsAudioWhenAbsent(t *testing.T) {
	cmd, err := NewSegmentCommand("ffmpeg", SegmentSpec{
		Source:         "/in/source.mp4",
		OutputDir:      "/out/720p",
		Tier:           testTier(),
		SegmentSeconds: 6,
	}, time.Hour)
	if err != nil {
		t.Fatalf("NewSegmentCommand: %v", err)
	}
	if !slices.Contains(cmd.Args, "-an") || slices.Contains(cmd.Args, "-c:a") {
		t.Fatalf("expected -an without audio codec, got %v", cmd.Args)
	}
	if slices.Contains(cmd.Args, "-g") {
		t.Fatal("gop should be omitted without a frame rate")
	}
}

func TestNewSegmentCommandValidatesTier(t *testing.T) {
	base := SegmentSpec{Source: "/in/s.mp4", OutputDir: "/out/t", SegmentSeconds: 6}
	cases := map[string]func(*media.Tier){
		"odd width":     func(t *media.Tier) { t.Width = 1281 },
		"bad name":      func(t *media.Tier) { t.Name = "../720p" },
		"profile":       func(t *media.Tier) { t.Profile = "high10; rm -rf" },
		"zero bitrate":  func(t *media.Tier) { t.VideoBitrateKbps = 0 },
		"option prefix": func(t *media.Tier) { t.Name = "-y" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			spec := base
			spec.Tier = testTier()
			mutate(&spec.Tier)
			if _, err := NewSegmentCommand("ffmpeg", spec, time.Hour); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
