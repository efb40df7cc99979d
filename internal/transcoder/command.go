package transcoder

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vodpipe/internal/media"
	"vodpipe/internal/media/ffprobe"
)

// Kind identifies the invocation kind of a Command.
type Kind string

const (
	KindProbe   Kind = "probe"
	KindFrame   Kind = "frame"
	KindSegment Kind = "segment"
)

// SegmentPattern is the segment filename template inside a tier directory.
const SegmentPattern = "segment_%03d.ts"

// IndexPlaylist is the per-tier playlist filename.
const IndexPlaylist = "index.m3u8"

var tierNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Command is one fully validated external process invocation.
type Command struct {
	Kind    Kind
	Binary  string
	Args    []string
	Timeout time.Duration
	// Outputs lists the files or directories the invocation is expected to
	// create. Callers register them for cleanup before running.
	Outputs []string
}

// String renders the command line for logs.
func (c Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// FrameSpec describes a still extraction.
type FrameSpec struct {
	Source string
	Dest   string
	At     time.Duration
	Width  int
	Height int
}

// SegmentSpec describes one tier encode.
type SegmentSpec struct {
	Source         string
	OutputDir      string
	Tier           media.Tier
	SegmentSeconds int
	FrameRate      float64
	HasAudio       bool
	Preset         string
}

// NewProbeCommand builds an ffprobe JSON inspection of source.
func NewProbeCommand(binary, source string, timeout time.Duration) (Command, error) {
	if err := validateBinary(binary); err != nil {
		return Command{}, err
	}
	if err := validatePath("source", source); err != nil {
		return Command{}, err
	}
	return Command{
		Kind:    KindProbe,
		Binary:  binary,
		Args:    ffprobe.Args(source),
		Timeout: timeout,
	}, nil
}

// NewFrameCommand builds a single-frame JPEG extraction scaled into a
// Width x Height box and padded to it, preserving the source aspect ratio.
func NewFrameCommand(binary string, spec FrameSpec, timeout time.Duration) (Command, error) {
	if err := validateBinary(binary); err != nil {
		return Command{}, err
	}
	if err := validatePath("source", spec.Source); err != nil {
		return Command{}, err
	}
	if err := validatePath("destination", spec.Dest); err != nil {
		return Command{}, err
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return Command{}, fmt.Errorf("frame size %dx%d must be positive", spec.Width, spec.Height)
	}
	if spec.At < 0 {
		return Command{}, errors.New("frame offset must not be negative")
	}
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1",
		spec.Width, spec.Height, spec.Width, spec.Height,
	)
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-ss", formatSeconds(spec.At),
		"-i", spec.Source,
		"-frames:v", "1",
		"-vf", filter,
		"-q:v", "2",
		spec.Dest,
	}
	return Command{
		Kind:    KindFrame,
		Binary:  binary,
		Args:    args,
		Timeout: timeout,
		Outputs: []string{spec.Dest},
	}, nil
}

// NewSegmentCommand builds an HLS VOD encode of one tier into
// OutputDir/index.m3u8 plus fixed-length segments. Keyframes are forced on
// segment boundaries so every segment starts independently decodable.
func NewSegmentCommand(binary string, spec SegmentSpec, timeout time.Duration) (Command, error) {
	if err := validateBinary(binary); err != nil {
		return Command{}, err
	}
	if err := validatePath("source", spec.Source); err != nil {
		return Command{}, err
	}
	if err := validatePath("output directory", spec.OutputDir); err != nil {
		return Command{}, err
	}
	tier := spec.Tier
	if !tierNamePattern.MatchString(tier.Name) {
		return Command{}, fmt.Errorf("invalid tier name %q", tier.Name)
	}
	if tier.Width <= 0 || tier.Height <= 0 || tier.Width%2 != 0 || tier.Height%2 != 0 {
		return Command{}, fmt.Errorf("tier %s: dimensions %s must be positive and even", tier.Name, tier.Resolution())
	}
	if tier.VideoBitrateKbps <= 0 {
		return Command{}, fmt.Errorf("tier %s: video bitrate must be positive", tier.Name)
	}
	if spec.HasAudio && tier.AudioBitrateKbps <= 0 {
		return Command{}, fmt.Errorf("tier %s: audio bitrate must be positive", tier.Name)
	}
	switch tier.Profile {
	case "baseline", "main", "high":
	default:
		return Command{}, fmt.Errorf("tier %s: unsupported profile %q", tier.Name, tier.Profile)
	}
	if spec.SegmentSeconds <= 0 {
		return Command{}, errors.New("segment length must be positive")
	}
	preset := strings.TrimSpace(spec.Preset)
	if preset == "" {
		preset = "veryfast"
	}

	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", spec.Source,
		"-map", "0:v:0",
	}
	if spec.HasAudio {
		args = append(args, "-map", "0:a:0")
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", preset,
		"-profile:v", tier.Profile,
		"-pix_fmt", "yuv420p",
		"-vf", fmt.Sprintf("scale=%d:%d", tier.Width, tier.Height),
		"-b:v", kbps(tier.VideoBitrateKbps),
		"-maxrate", kbps(tier.MaxRateKbps()),
		"-bufsize", kbps(tier.BufSizeKbps()),
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", spec.SegmentSeconds),
	)
	if gop := gopSize(spec.FrameRate, spec.SegmentSeconds); gop > 0 {
		args = append(args, "-g", strconv.Itoa(gop), "-keyint_min", strconv.Itoa(gop))
	}
	if spec.HasAudio {
		args = append(args, "-c:a", "aac", "-b:a", kbps(tier.AudioBitrateKbps), "-ac", "2")
	} else {
		args = append(args, "-an")
	}
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(spec.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(spec.OutputDir, SegmentPattern),
		filepath.Join(spec.OutputDir, IndexPlaylist),
	)
	return Command{
		Kind:    KindSegment,
		Binary:  binary,
		Args:    args,
		Timeout: timeout,
		Outputs: []string{spec.OutputDir},
	}, nil
}

func validateBinary(binary string) error {
	if strings.TrimSpace(binary) == "" {
		return errors.New("binary required")
	}
	if strings.ContainsAny(binary, "\x00\n") {
		return fmt.Errorf("invalid binary %q", binary)
	}
	return nil
}

// validatePath requires a clean absolute path so no argument can be read
// as an ffmpeg option or protocol URL.
func validatePath(label, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%s path required", label)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s path %q must be absolute", label, path)
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return fmt.Errorf("%s path contains control characters", label)
	}
	if filepath.Clean(path) != path {
		return fmt.Errorf("%s path %q must be clean", label, path)
	}
	return nil
}

func gopSize(frameRate float64, segmentSeconds int) int {
	if frameRate <= 0 || math.IsNaN(frameRate) || math.IsInf(frameRate, 0) {
		return 0
	}
	return int(math.Round(frameRate * float64(segmentSeconds)))
}

func kbps(value int) string {
	return strconv.Itoa(value) + "k"
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
