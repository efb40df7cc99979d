// Package stage names the pipeline stages, fixes their order and assigns
// each one a slice of the overall progress percentage.
package stage

import "fmt"

// Name identifies a pipeline stage or terminal state.
type Name string

const (
	Uploaded             Name = "uploaded"
	Validating           Name = "validating"
	ExtractingMetadata   Name = "extracting_metadata"
	GeneratingThumbnail  Name = "generating_thumbnail"
	GeneratingPoster     Name = "generating_poster"
	TranscodingHLS       Name = "transcoding_hls"
	MovingToFinalStorage Name = "moving_to_final_storage"
	UpdatingCatalog      Name = "updating_catalog"
	Complete             Name = "complete"
	Failed               Name = "failed"
	Cancelled            Name = "cancelled"
)

var order = []Name{
	Validating,
	ExtractingMetadata,
	GeneratingThumbnail,
	GeneratingPoster,
	TranscodingHLS,
	MovingToFinalStorage,
	UpdatingCatalog,
}

// Pipeline returns the working stages in execution order.
func Pipeline() []Name {
	return append([]Name(nil), order...)
}

// Index reports the position of n in the pipeline, or -1 for states outside
// it.
func (n Name) Index() int {
	for i, candidate := range order {
		if candidate == n {
			return i
		}
	}
	return -1
}

// Terminal reports whether n ends a job.
func (n Name) Terminal() bool {
	return n == Complete || n == Failed || n == Cancelled
}

func (n Name) String() string { return string(n) }

// Label is the human-readable progress message for n.
func (n Name) Label() string {
	switch n {
	case Uploaded:
		return "Upload received"
	case Validating:
		return "Validating upload"
	case ExtractingMetadata:
		return "Extracting metadata"
	case GeneratingThumbnail:
		return "Generating thumbnail"
	case GeneratingPoster:
		return "Generating poster"
	case TranscodingHLS:
		return "Transcoding HLS renditions"
	case MovingToFinalStorage:
		return "Moving to final storage"
	case UpdatingCatalog:
		return "Updating catalog"
	case Complete:
		return "Processing complete"
	case Failed:
		return "Processing failed"
	case Cancelled:
		return "Processing cancelled"
	default:
		return string(n)
	}
}

// Range is a closed percent interval.
type Range struct {
	Start float64
	End   float64
}

// At maps fraction in [0,1] onto the range.
func (r Range) At(fraction float64) float64 {
	switch {
	case fraction <= 0:
		return r.Start
	case fraction >= 1:
		return r.End
	}
	return r.Start + (r.End-r.Start)*fraction
}

var ranges = map[Name]Range{
	Uploaded:             {20, 20},
	Validating:           {20, 25},
	ExtractingMetadata:   {25, 30},
	GeneratingThumbnail:  {30, 40},
	GeneratingPoster:     {40, 50},
	TranscodingHLS:       {50, 90},
	MovingToFinalStorage: {90, 95},
	UpdatingCatalog:      {95, 100},
	Complete:             {100, 100},
}

// RangeOf returns the percent range for n. Failed and cancelled have no
// range of their own; they keep whatever percent was last reported.
func RangeOf(n Name) (Range, bool) {
	r, ok := ranges[n]
	return r, ok
}

// TierRange splits the transcoding range evenly between count tiers and
// returns the share of the tier at index.
func TierRange(index, count int) Range {
	span := ranges[TranscodingHLS]
	if count <= 0 {
		return span
	}
	if index < 0 {
		index = 0
	}
	if index >= count {
		index = count - 1
	}
	width := (span.End - span.Start) / float64(count)
	return Range{
		Start: span.Start + width*float64(index),
		End:   span.Start + width*float64(index+1),
	}
}

// TierMessage is the progress message for one tier encode.
func TierMessage(tier string, index, count int) string {
	return fmt.Sprintf("Transcoding %s (%d/%d)", tier, index+1, count)
}
