package planner

import (
	"errors"
	"fmt"
	"math"

	"vodpipe/internal/media"
)

// ErrInvalidSource reports a source without usable dimensions.
var ErrInvalidSource = errors.New("source must be at least 2x2 pixels")

var presets = []media.Tier{
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrateKbps: 5000, AudioBitrateKbps: 192, Profile: "high"},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128, Profile: "main"},
	{Name: "480p", Width: 854, Height: 480, VideoBitrateKbps: 1400, AudioBitrateKbps: 128, Profile: "main"},
	{Name: "360p", Width: 640, Height: 360, VideoBitrateKbps: 800, AudioBitrateKbps: 96, Profile: "baseline"},
}

// Presets returns a copy of the preset catalog, highest first.
func Presets() []media.Tier {
	return append([]media.Tier(nil), presets...)
}

// QualityPlan is the ordered tier list for one source, highest first.
type QualityPlan struct {
	SourceWidth  int          `json:"source_width"`
	SourceHeight int          `json:"source_height"`
	Tiers        []media.Tier `json:"tiers"`
}

// Lowest returns the last (smallest) tier. Job success requires it.
func (p QualityPlan) Lowest() media.Tier {
	return p.Tiers[len(p.Tiers)-1]
}

// IsLowest reports whether name is the lowest tier in the plan.
func (p QualityPlan) IsLowest(name string) bool {
	return len(p.Tiers) > 0 && p.Lowest().Name == name
}

// Names lists tier names in plan order.
func (p QualityPlan) Names() []string {
	names := make([]string, len(p.Tiers))
	for i, tier := range p.Tiers {
		names[i] = tier.Name
	}
	return names
}

// Plan derives the tier list for a width x height source. Target widths
// follow the source aspect ratio, rounded to even values and never wider
// than the source.
func Plan(width, height int) (QualityPlan, error) {
	if width < 2 || height < 2 {
		return QualityPlan{}, fmt.Errorf("%w: %dx%d", ErrInvalidSource, width, height)
	}
	plan := QualityPlan{SourceWidth: width, SourceHeight: height}
	aspect := float64(width) / float64(height)
	for _, preset := range presets {
		if preset.Height > height {
			continue
		}
		plan.Tiers = append(plan.Tiers, fit(preset, preset.Height, aspect, width))
	}
	if len(plan.Tiers) == 0 {
		lowest := presets[len(presets)-1]
		plan.Tiers = append(plan.Tiers, fit(lowest, evenDown(height), aspect, width))
	}
	return plan, nil
}

func fit(preset media.Tier, targetHeight int, aspect float64, sourceWidth int) media.Tier {
	tier := preset
	tier.Height = targetHeight
	tier.Width = evenRound(float64(targetHeight) * aspect)
	if tier.Width > sourceWidth {
		tier.Width = evenDown(sourceWidth)
	}
	if tier.Width < 2 {
		tier.Width = 2
	}
	return tier
}

func evenRound(v float64) int {
	return int(math.Round(v/2)) * 2
}

func evenDown(v int) int {
	return v - v%2
}
