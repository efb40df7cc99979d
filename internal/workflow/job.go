package workflow

import (
	"sync"
	"sync/atomic"
	"time"

	"vodpipe/internal/catalog"
	"vodpipe/internal/media"
	"vodpipe/internal/planner"
	"vodpipe/internal/progress"
	"vodpipe/internal/stage"
	"vodpipe/internal/storage"
	"vodpipe/internal/transcoder"
)

// Request describes an accepted upload whose source is already staged.
type Request struct {
	UploadID string
	Slug     string
	OwnerID  string
	Title    string
}

// Job is the in-memory handle of a queued or running upload.
type Job struct {
	Request
	SubmittedAt time.Time

	mu              sync.Mutex
	cancelRequested bool
	committed       bool
	started         atomic.Bool
	recovered       bool
}

func newJob(req Request, now time.Time) *Job {
	return &Job{Request: req, SubmittedAt: now}
}

// RequestCancel flags the job; the pipeline honours it at the next stage
// boundary. It returns false once the job has committed its catalog entry or
// settled.
func (j *Job) RequestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.committed {
		return false
	}
	j.cancelRequested = true
	return true
}

// CancelRequested reports whether cancellation was requested.
func (j *Job) CancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

// commit closes the job to cancellation. It fails when a cancel got in first.
func (j *Job) commit() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelRequested {
		return false
	}
	j.committed = true
	return true
}

// settle closes the job to cancellation whatever its outcome and reports
// whether a cancel had been requested.
func (j *Job) settle() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.committed = true
	return j.cancelRequested
}

// Started reports whether a worker has picked the job up.
func (j *Job) Started() bool {
	return j.started.Load()
}

// jobState carries the typed results of completed stages.
type jobState struct {
	current   stage.Name
	source    string
	container media.Container
	metadata  media.Metadata
	plan      planner.QualityPlan
	thumbnail string
	poster    string
	tiers     []transcoder.TierResult
	master    string
	location  storage.Location
	entry     *catalog.Entry
}

func (s *jobState) playback() progress.Playback {
	names := make([]string, 0, len(s.tiers))
	for _, tier := range s.tiers {
		names = append(names, tier.Tier.Name)
	}
	return progress.Playback{
		Master:    s.location.MasterKey(),
		Thumbnail: s.location.ThumbnailKey(),
		Poster:    s.location.PosterKey(),
		Tiers:     names,
	}
}

func (s *jobState) finalization() catalog.Finalization {
	withAudio := s.metadata.HasAudio()
	tiers := make([]catalog.TierRecord, 0, len(s.tiers))
	for _, result := range s.tiers {
		tiers = append(tiers, catalog.TierRecord{
			Name:      result.Tier.Name,
			Width:     result.Tier.Width,
			Height:    result.Tier.Height,
			Bandwidth: int64(result.Tier.Bandwidth(withAudio)),
			Playlist:  s.location.TierPlaylistKey(result.Tier.Name),
			SizeBytes: result.SizeBytes,
		})
	}
	return catalog.Finalization{
		Metadata:      s.metadata,
		Location:      s.location.URI,
		MasterPath:    s.location.MasterKey(),
		ThumbnailPath: s.location.ThumbnailKey(),
		PosterPath:    s.location.PosterKey(),
		Tiers:         tiers,
	}
}
