package media

import (
	"fmt"
	"time"
)

// Metadata is the probed description of an uploaded source. It is populated
// once during ExtractingMetadata and treated as read-only afterwards.
type Metadata struct {
	Duration   time.Duration `json:"duration"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	FrameRate  float64       `json:"frame_rate"`
	VideoCodec string        `json:"video_codec"`
	AudioCodec string        `json:"audio_codec,omitempty"`
	Bitrate    int64         `json:"bitrate"`
	Container  string        `json:"container,omitempty"`
	SizeBytes  int64         `json:"size_bytes,omitempty"`
}

// HasAudio reports whether the source carries an audio stream.
func (m Metadata) HasAudio() bool {
	return m.AudioCodec != ""
}

// Resolution renders the frame size as WIDTHxHEIGHT.
func (m Metadata) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// AspectRatio returns width divided by height, or 16:9 when the height is unknown.
func (m Metadata) AspectRatio() float64 {
	if m.Width <= 0 || m.Height <= 0 {
		return 16.0 / 9.0
	}
	return float64(m.Width) / float64(m.Height)
}

// At returns the offset at fraction of the duration, clamped to [0, duration).
func (m Metadata) At(fraction float64) time.Duration {
	if m.Duration <= 0 || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		fraction = 0.99
	}
	return time.Duration(float64(m.Duration) * fraction)
}
