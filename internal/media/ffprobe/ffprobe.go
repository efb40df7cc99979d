package ffprobe

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"vodpipe/internal/media"
)

// ErrIncomplete reports a probe result that lacks a field the pipeline needs.
var ErrIncomplete = errors.New("ffprobe result incomplete")

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
	raw     []byte
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int         `json:"index"`
	CodecName    string      `json:"codec_name"`
	CodecType    string      `json:"codec_type"`
	Profile      string      `json:"profile"`
	Duration     string      `json:"duration"`
	BitRate      string      `json:"bit_rate"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	AvgFrameRate string      `json:"avg_frame_rate"`
	RFrameRate   string      `json:"r_frame_rate"`
	SampleRate   string      `json:"sample_rate"`
	Channels     int         `json:"channels"`
	Disposition  Disposition `json:"disposition"`
}

// Disposition carries the stream flags ffprobe reports.
type Disposition struct {
	Default     int `json:"default"`
	AttachedPic int `json:"attached_pic"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Args returns the ffprobe arguments for a JSON inspection of path.
func Args(path string) []string {
	return []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path}
}

// Parse decodes ffprobe JSON output.
func Parse(output []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	result.raw = append([]byte(nil), output...)
	return result, nil
}

// RawJSON returns the raw ffprobe JSON payload.
func (r Result) RawJSON() []byte {
	return append([]byte(nil), r.raw...)
}

// VideoStreamCount returns the number of video streams discovered.
func (r Result) VideoStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if stream.isVideo() {
			count++
		}
	}
	return count
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// PrimaryVideo returns the default-flagged video stream, falling back to the
// first one. Cover art attachments are ignored.
func (r Result) PrimaryVideo() (Stream, bool) {
	return r.primary(func(s Stream) bool { return s.isVideo() })
}

// PrimaryAudio returns the default-flagged audio stream, falling back to the
// first one.
func (r Result) PrimaryAudio() (Stream, bool) {
	return r.primary(func(s Stream) bool { return strings.EqualFold(s.CodecType, "audio") })
}

func (r Result) primary(match func(Stream) bool) (Stream, bool) {
	var first *Stream
	for i := range r.Streams {
		stream := r.Streams[i]
		if !match(stream) {
			continue
		}
		if stream.Disposition.Default == 1 {
			return stream, true
		}
		if first == nil {
			first = &r.Streams[i]
		}
	}
	if first == nil {
		return Stream{}, false
	}
	return *first, true
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r Result) DurationSeconds() float64 {
	return parseFloat(r.Format.Duration)
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable.
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if math.IsNaN(size) || size < 0 {
		return 0
	}
	return int64(size)
}

// BitRate returns the container bitrate in bits per second, or 0 when unavailable.
func (r Result) BitRate() int64 {
	rate := parseFloat(r.Format.BitRate)
	if math.IsNaN(rate) || rate < 0 {
		return 0
	}
	return int64(rate)
}

// Metadata converts the result into media.Metadata. A source needs a video
// stream with dimensions and a positive duration; everything else is optional.
func (r Result) Metadata() (media.Metadata, error) {
	video, ok := r.PrimaryVideo()
	if !ok {
		return media.Metadata{}, fmt.Errorf("%w: no video stream", ErrIncomplete)
	}
	if video.Width <= 0 || video.Height <= 0 {
		return media.Metadata{}, fmt.Errorf("%w: video stream %d has no dimensions", ErrIncomplete, video.Index)
	}
	if strings.TrimSpace(video.CodecName) == "" {
		return media.Metadata{}, fmt.Errorf("%w: video stream %d has no codec", ErrIncomplete, video.Index)
	}

	seconds := r.DurationSeconds()
	if seconds <= 0 || math.IsNaN(seconds) {
		seconds = parseFloat(video.Duration)
	}
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return media.Metadata{}, fmt.Errorf("%w: duration missing or invalid (%q)", ErrIncomplete, r.Format.Duration)
	}

	meta := media.Metadata{
		Duration:   time.Duration(seconds * float64(time.Second)),
		Width:      video.Width,
		Height:     video.Height,
		FrameRate:  parseRate(video.AvgFrameRate),
		VideoCodec: strings.ToLower(video.CodecName),
		Bitrate:    r.BitRate(),
		Container:  r.Format.FormatName,
		SizeBytes:  r.SizeBytes(),
	}
	if meta.FrameRate == 0 {
		meta.FrameRate = parseRate(video.RFrameRate)
	}
	if audio, ok := r.PrimaryAudio(); ok {
		meta.AudioCodec = strings.ToLower(audio.CodecName)
	}
	if meta.Bitrate == 0 && meta.SizeBytes > 0 {
		meta.Bitrate = int64(float64(meta.SizeBytes*8) / seconds)
	}
	return meta, nil
}

func (s Stream) isVideo() bool {
	return strings.EqualFold(s.CodecType, "video") && s.Disposition.AttachedPic == 0
}

// parseRate handles ffprobe's "num/den" rational notation.
func parseRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	if !found {
		rate := parseFloat(value)
		if math.IsNaN(rate) {
			return 0
		}
		return rate
	}
	n, errN := strconv.ParseFloat(num, 64)
	d, errD := strconv.ParseFloat(den, 64)
	if errN != nil || errD != nil || d == 0 {
		return 0
	}
	return math.Round(n/d*1000) / 1000
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
