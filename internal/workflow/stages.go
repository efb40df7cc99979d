package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"vodpipe/internal/logging"
	"vodpipe/internal/media"
	"vodpipe/internal/planner"
	"vodpipe/internal/services"
	"vodpipe/internal/stage"
	"vodpipe/internal/storage"
	"vodpipe/internal/transcoder"
)

func (r *jobRun) validate(ctx context.Context) error {
	const st = string(stage.Validating)
	source, err := r.ws.FindSource()
	if err != nil {
		return services.Wrap(services.ErrValidation, st, "locate source", "uploaded file is missing", err)
	}
	info, err := os.Stat(source)
	if err != nil {
		return services.Wrap(services.ErrValidation, st, "stat source", "uploaded file is unreadable", err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrValidation, st, "size", "uploaded file is empty", nil)
	}
	if limit := r.m.cfg.MaxUploadBytes(); limit > 0 && info.Size() > limit {
		return services.WithHint(
			services.Wrap(services.ErrValidation, st, "size", "uploaded file exceeds the size limit", nil),
			fmt.Sprintf("upload files up to %d MB", r.m.cfg.Server.MaxUploadMB),
		)
	}

	header, err := readHeader(source)
	if err != nil {
		return services.Wrap(services.ErrValidation, st, "read header", "uploaded file is unreadable", err)
	}
	container, ok := media.DetectContainer(header)
	if !ok {
		return services.WithHint(
			services.Wrap(services.ErrValidation, st, "sniff", "file is not a supported video container", nil),
			"upload MP4, MOV, MKV, WebM, AVI, MPEG-TS, MPEG-PS or FLV",
		)
	}
	r.state.source = source
	r.state.container = container
	return nil
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	header := make([]byte, media.SniffLength)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return header[:n], nil
}

func (r *jobRun) extractMetadata(ctx context.Context) error {
	const st = stage.ExtractingMetadata
	var meta media.Metadata
	err := r.withRetry(ctx, st, "probe", func(ctx context.Context) error {
		probed, err := r.m.deps.Invoker.Probe(ctx, r.state.source)
		if err != nil {
			return err
		}
		meta = probed
		return nil
	})
	if err != nil {
		return err
	}
	if meta.Container == "" {
		meta.Container = string(r.state.container)
	}
	if meta.SizeBytes == 0 {
		if info, statErr := os.Stat(r.state.source); statErr == nil {
			meta.SizeBytes = info.Size()
		}
	}

	plan, err := planner.Plan(meta.Width, meta.Height)
	if err != nil {
		return services.Wrap(services.ErrPermanent, string(st), "plan", "source dimensions are unusable", err)
	}
	r.state.metadata = meta
	r.state.plan = plan
	r.reporter.SetMetadata(ctx, meta)
	logging.WithContext(ctx, r.logger).Info("source probed",
		logging.String("resolution", meta.Resolution()),
		logging.Duration("duration", meta.Duration),
		logging.String("video_codec", meta.VideoCodec),
		logging.Bool("audio", meta.HasAudio()),
		logging.Any("tiers", plan.Names()),
		logging.String(logging.FieldEventType, "metadata_extracted"),
	)
	return nil
}

func (r *jobRun) generateThumbnail(ctx context.Context) error {
	dest := r.ws.OutputPath(storage.ThumbnailFile)
	if err := r.extractFrame(ctx, stage.GeneratingThumbnail, transcoder.FrameThumbnail, dest); err != nil {
		return err
	}
	r.state.thumbnail = dest
	return nil
}

func (r *jobRun) generatePoster(ctx context.Context) error {
	dest := r.ws.OutputPath(storage.PosterFile)
	if err := r.extractFrame(ctx, stage.GeneratingPoster, transcoder.FramePoster, dest); err != nil {
		return err
	}
	r.state.poster = dest
	return nil
}

func (r *jobRun) extractFrame(ctx context.Context, st stage.Name, kind transcoder.FrameKind, dest string) error {
	r.scope.Track(dest)
	return r.withRetry(ctx, st, string(kind), func(ctx context.Context) error {
		return r.m.deps.Invoker.ExtractFrame(ctx, r.state.source, r.state.metadata, kind, dest)
	})
}

// transcode encodes every planned tier in order. Cancellation is honoured
// between tiers. Only the lowest tier is mandatory; a failed higher tier is
// dropped from the master playlist.
func (r *jobRun) transcode(ctx context.Context) error {
	const st = stage.TranscodingHLS
	tiers := r.state.plan.Tiers
	if len(tiers) == 0 {
		return services.Wrap(services.ErrPermanent, string(st), "plan", "no quality tiers planned", nil)
	}
	withAudio := r.state.metadata.HasAudio()
	results := make([]transcoder.TierResult, 0, len(tiers))

	for i, tier := range tiers {
		if i > 0 && r.job.CancelRequested() {
			return services.Wrap(services.ErrCancelled, string(st), "cancel", fmt.Sprintf("cancelled before tier %s", tier.Name), nil)
		}
		tierCtx := services.WithTier(ctx, tier.Name)
		logger := logging.WithContext(tierCtx, r.logger)
		span := stage.TierRange(i, len(tiers))
		r.reporter.Progress(tierCtx, span.Start, stage.TierMessage(tier.Name, i, len(tiers)))

		outDir := r.ws.OutputPath(tier.Name)
		r.scope.Track(outDir)
		var result transcoder.TierResult
		err := r.withRetry(tierCtx, st, "encode "+tier.Name, func(ctx context.Context) error {
			res, err := r.m.deps.Invoker.EncodeTier(ctx, r.state.source, r.state.metadata, tier, outDir)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			if r.state.plan.IsLowest(tier.Name) || interruptedBy(ctx, err) || services.KindOf(err) == services.ErrorKindCancelled {
				return err
			}
			r.m.deps.Audit.TierSkipped(r.job.UploadID, tier.Name, err)
			logging.WarnWithContext(logger, "tier dropped after failure", "tier_skipped",
				logging.Error(err),
				logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
				logging.String(logging.FieldErrorHint, "inspect the transcoder stderr in debug logs"),
				logging.String(logging.FieldImpact, "rendition missing from the master playlist"),
			)
			if rmErr := os.RemoveAll(outDir); rmErr != nil {
				logger.Debug("remove skipped tier output failed", logging.Error(rmErr))
			}
			r.reporter.Progress(tierCtx, span.End, "")
			continue
		}

		results = append(results, result)
		r.m.deps.Audit.TierEncoded(r.job.UploadID, tier.Name, result.Elapsed, result.SizeBytes)
		r.reporter.Progress(tierCtx, span.End, "")
		logger.Info("tier encoded",
			logging.Int("segments", result.Segments),
			logging.Int64("size_bytes", result.SizeBytes),
			logging.Duration("elapsed", result.Elapsed),
			logging.Int("bandwidth", tier.Bandwidth(withAudio)),
			logging.String(logging.FieldEventType, "tier_encoded"),
		)
	}

	variants := make([]transcoder.Variant, 0, len(results))
	for _, result := range results {
		variants = append(variants, transcoder.VariantFor(result.Tier, withAudio))
	}
	master := r.ws.OutputPath(transcoder.MasterPlaylist)
	r.scope.Track(master)
	if err := transcoder.WriteMaster(master, variants); err != nil {
		return services.Wrap(services.ErrStorage, string(st), "master playlist", "master playlist could not be written", err)
	}
	r.state.tiers = results
	r.state.master = master
	return nil
}

// publish moves the output directory to final storage. Publishing is not
// retried: backends clean up after themselves on failure, and a second
// attempt would meet a half-removed tree.
func (r *jobRun) publish(ctx context.Context) error {
	backend := r.m.deps.Storage
	slug := r.job.Slug
	location, err := backend.Publish(ctx, slug, r.ws.OutputDir())
	if err != nil {
		return err
	}
	r.scope.Defer("published "+location.URI, func(ctx context.Context) error {
		return backend.Remove(ctx, slug)
	})
	r.state.location = location
	logging.WithContext(ctx, r.logger).Info("artifacts published",
		logging.String("backend", location.Backend),
		logging.String("location", location.URI),
		logging.Int("files", location.Files),
		logging.Int64("bytes", location.Bytes),
		logging.String(logging.FieldEventType, "artifacts_published"),
	)
	return nil
}

func (r *jobRun) updateCatalog(ctx context.Context) error {
	const st = string(stage.UpdatingCatalog)
	// The finalize transaction must not be torn by shutdown once started.
	writeCtx := context.WithoutCancel(ctx)
	entry, err := r.m.deps.Catalog.Finalize(writeCtx, r.job.UploadID, r.state.finalization())
	if err != nil {
		return services.WithHint(
			services.Wrap(services.ErrCatalogWrite, st, "finalize", "catalog entry could not be finalized", err),
			"check catalog database health",
		)
	}
	r.state.entry = entry
	return nil
}
