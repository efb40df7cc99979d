package transcoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vodpipe/internal/config"
	"vodpipe/internal/logging"
	"vodpipe/internal/media"
	"vodpipe/internal/media/ffprobe"
	"vodpipe/internal/services"
)

// FrameKind selects which still is extracted.
type FrameKind string

const (
	FrameThumbnail FrameKind = "thumbnail"
	FramePoster    FrameKind = "poster"
)

// Fraction returns the point in the source, as a fraction of its duration,
// where the still is taken.
func (k FrameKind) Fraction() float64 {
	if k == FramePoster {
		return 0.25
	}
	return 0.10
}

// FrameSize is a still output box.
type FrameSize struct {
	Width  int
	Height int
}

// Settings carries the invocation parameters drawn from configuration.
type Settings struct {
	FFmpegBinary   string
	FFprobeBinary  string
	SegmentSeconds int
	Preset         string
	ProbeTimeout   time.Duration
	FrameTimeout   time.Duration
	EncodeTimeout  time.Duration
	Thumbnail      FrameSize
	Poster         FrameSize
}

// SettingsFromConfig derives invoker settings from the transcoder section.
func SettingsFromConfig(cfg *config.Config) Settings {
	t := cfg.Transcoder
	return Settings{
		FFmpegBinary:   t.FFmpegBinary,
		FFprobeBinary:  t.FFprobeBinary,
		SegmentSeconds: t.SegmentSeconds,
		Preset:         t.VideoPreset,
		ProbeTimeout:   time.Duration(t.ProbeTimeoutSeconds) * time.Second,
		FrameTimeout:   time.Duration(t.FrameTimeoutSeconds) * time.Second,
		EncodeTimeout:  time.Duration(t.EncodeTimeoutMinutes) * time.Minute,
		Thumbnail:      FrameSize{Width: t.ThumbnailWidth, Height: t.ThumbnailHeight},
		Poster:         FrameSize{Width: t.PosterWidth, Height: t.PosterHeight},
	}
}

// TierResult summarises one finished tier encode.
type TierResult struct {
	Tier      media.Tier
	Dir       string
	Playlist  string
	Segments  int
	SizeBytes int64
	Elapsed   time.Duration
}

// Invoker runs the three invocation kinds. Each call is a single attempt;
// retry policy belongs to the caller.
type Invoker struct {
	settings Settings
	runner   Runner
	logger   *slog.Logger
}

// NewInvoker constructs an Invoker. A nil runner selects ExecRunner.
func NewInvoker(settings Settings, runner Runner, logger *slog.Logger) *Invoker {
	if runner == nil {
		runner = ExecRunner{}
	}
	if settings.SegmentSeconds <= 0 {
		settings.SegmentSeconds = 6
	}
	return &Invoker{
		settings: settings,
		runner:   runner,
		logger:   logging.NewComponentLogger(logger, "transcoder"),
	}
}

// Settings returns the invoker configuration.
func (i *Invoker) Settings() Settings {
	return i.settings
}

// Probe inspects source and returns its metadata. Missing or unparseable
// fields fail permanently.
func (i *Invoker) Probe(ctx context.Context, source string) (media.Metadata, error) {
	cmd, err := NewProbeCommand(i.settings.FFprobeBinary, source, i.settings.ProbeTimeout)
	if err != nil {
		return media.Metadata{}, services.Wrap(services.ErrValidation, "transcoder", "probe", "invalid probe request", err)
	}
	out, err := i.run(ctx, cmd)
	if err != nil {
		return media.Metadata{}, err
	}
	result, err := ffprobe.Parse(out.Stdout)
	if err != nil {
		return media.Metadata{}, services.WithHint(
			services.Wrap(services.ErrPermanent, "transcoder", "probe", "source could not be read as video", err),
			"check the file plays locally and upload it again",
		)
	}
	meta, err := result.Metadata()
	if err != nil {
		return media.Metadata{}, services.WithHint(
			services.Wrap(services.ErrPermanent, "transcoder", "probe", "source is missing required video information", err),
			"upload a file with a video stream and a known duration",
		)
	}
	return meta, nil
}

// ExtractFrame writes a still of the requested kind to dest.
func (i *Invoker) ExtractFrame(ctx context.Context, source string, meta media.Metadata, kind FrameKind, dest string) error {
	size := i.settings.Thumbnail
	if kind == FramePoster {
		size = i.settings.Poster
	}
	cmd, err := NewFrameCommand(i.settings.FFmpegBinary, FrameSpec{
		Source: source,
		Dest:   dest,
		At:     meta.At(kind.Fraction()),
		Width:  size.Width,
		Height: size.Height,
	}, i.settings.FrameTimeout)
	if err != nil {
		return services.Wrap(services.ErrValidation, "transcoder", string(kind), "invalid frame request", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return services.Wrap(services.ErrStorage, "transcoder", string(kind), "create frame directory", err)
	}
	if _, err := i.run(ctx, cmd); err != nil {
		return err
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		if err == nil {
			err = errors.New("empty image")
		}
		return services.Wrap(services.ErrPermanent, "transcoder", string(kind), "no frame was produced", err)
	}
	return nil
}

// EncodeTier produces outDir/index.m3u8 plus segments for one tier. Any
// previous partial output in outDir is discarded first so a retried attempt
// starts clean.
func (i *Invoker) EncodeTier(ctx context.Context, source string, meta media.Metadata, tier media.Tier, outDir string) (TierResult, error) {
	cmd, err := NewSegmentCommand(i.settings.FFmpegBinary, SegmentSpec{
		Source:         source,
		OutputDir:      outDir,
		Tier:           tier,
		SegmentSeconds: i.settings.SegmentSeconds,
		FrameRate:      meta.FrameRate,
		HasAudio:       meta.HasAudio(),
		Preset:         i.settings.Preset,
	}, i.settings.EncodeTimeout)
	if err != nil {
		return TierResult{}, services.Wrap(services.ErrValidation, "transcoder", "encode", "invalid encode request", err)
	}
	if err := os.RemoveAll(outDir); err != nil {
		return TierResult{}, services.Wrap(services.ErrStorage, "transcoder", "encode", "reset tier directory", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return TierResult{}, services.Wrap(services.ErrStorage, "transcoder", "encode", "create tier directory", err)
	}

	out, err := i.run(ctx, cmd)
	if err != nil {
		return TierResult{}, err
	}

	playlist := filepath.Join(outDir, IndexPlaylist)
	index, err := ReadIndex(playlist)
	if err != nil {
		return TierResult{}, services.Wrap(services.ErrPermanent, "transcoder", "encode", "tier produced no usable playlist", err)
	}
	size, err := dirSize(outDir)
	if err != nil {
		return TierResult{}, services.Wrap(services.ErrStorage, "transcoder", "encode", "measure tier output", err)
	}
	return TierResult{
		Tier:      tier,
		Dir:       outDir,
		Playlist:  playlist,
		Segments:  len(index.Segments),
		SizeBytes: size,
		Elapsed:   out.Elapsed,
	}, nil
}

func (i *Invoker) run(ctx context.Context, cmd Command) (Output, error) {
	logger := logging.WithContext(ctx, i.logger)
	logger.Debug("transcoder invocation",
		logging.String("kind", string(cmd.Kind)),
		logging.String("command", cmd.String()),
	)
	started := time.Now()
	out, err := i.runner.Run(ctx, cmd)
	if out.Elapsed == 0 {
		out.Elapsed = time.Since(started)
	}
	if err != nil {
		classified := Classify(ctx, cmd.Kind, out, err)
		details := services.Details(classified)
		logger.Debug("transcoder invocation failed",
			logging.String("kind", string(cmd.Kind)),
			logging.Int("exit_code", out.ExitCode),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.Error(classified),
		)
		return out, classified
	}
	logger.Debug("transcoder invocation complete",
		logging.String("kind", string(cmd.Kind)),
		logging.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", dir, err)
	}
	return total, nil
}
