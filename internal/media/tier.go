package media

import "fmt"

// Tier is one output rendition: a target frame size plus bitrates and an
// H.264 profile. Tiers encode independently of each other.
type Tier struct {
	Name             string `json:"name"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	VideoBitrateKbps int    `json:"video_bitrate_kbps"`
	AudioBitrateKbps int    `json:"audio_bitrate_kbps"`
	Profile          string `json:"profile"`
}

// Bandwidth returns the peak bits per second advertised in the master
// playlist. Video is budgeted at its maxrate.
func (t Tier) Bandwidth(withAudio bool) int {
	bw := t.MaxRateKbps() * 1000
	if withAudio {
		bw += t.AudioBitrateKbps * 1000
	}
	return bw
}

// MaxRateKbps is the VBV ceiling used for the encode.
func (t Tier) MaxRateKbps() int {
	return t.VideoBitrateKbps * 107 / 100
}

// BufSizeKbps is the VBV buffer size used for the encode.
func (t Tier) BufSizeKbps() int {
	return t.VideoBitrateKbps * 3 / 2
}

// Resolution renders the tier frame size as WIDTHxHEIGHT.
func (t Tier) Resolution() string {
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}
