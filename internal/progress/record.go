package progress

import (
	"time"

	"vodpipe/internal/media"
)

// Status is the coarse lifecycle state exposed to pollers.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// Playback lists published artifact locations for a completed upload.
type Playback struct {
	Master    string   `json:"master"`
	Thumbnail string   `json:"thumbnail"`
	Poster    string   `json:"poster"`
	Tiers     []string `json:"tiers"`
}

// Record is the progress view of one upload.
type Record struct {
	UploadID  string          `json:"upload_id"`
	Slug      string          `json:"slug,omitempty"`
	Status    Status          `json:"status"`
	Stage     string          `json:"stage"`
	Percent   float64         `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Hint      string          `json:"hint,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	EndedAt   *time.Time      `json:"completed_at,omitempty"`
	Metadata  *media.Metadata `json:"metadata,omitempty"`
	Playback  *Playback       `json:"playback,omitempty"`

	// EstimatedCompletion is derived on read and never stored.
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// ETA projects the completion time from elapsed time and percent. It is
// absent when nothing has progressed yet and for terminal records.
func (r Record) ETA(now time.Time) (time.Time, bool) {
	if r.Status.Terminal() || r.Percent <= 0 || r.StartedAt.IsZero() {
		return time.Time{}, false
	}
	if r.Percent >= 100 {
		return now, true
	}
	elapsed := now.Sub(r.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	total := time.Duration(float64(elapsed) / r.Percent * 100)
	return r.StartedAt.Add(total), true
}

func (r Record) clone() Record {
	out := r
	if r.EndedAt != nil {
		ended := *r.EndedAt
		out.EndedAt = &ended
	}
	if r.Metadata != nil {
		meta := *r.Metadata
		out.Metadata = &meta
	}
	if r.Playback != nil {
		pb := *r.Playback
		pb.Tiers = append([]string(nil), r.Playback.Tiers...)
		out.Playback = &pb
	}
	out.EstimatedCompletion = nil
	return out
}
