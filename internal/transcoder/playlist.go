package transcoder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"vodpipe/internal/media"
)

// MasterPlaylist is the top-level manifest filename.
const MasterPlaylist = "master.m3u8"

// Variant is one tier entry in the master playlist.
type Variant struct {
	Tier      media.Tier
	URI       string
	WithAudio bool
}

// VariantFor returns the variant for tier using the "{tier}/index.m3u8"
// layout relative to the master playlist.
func VariantFor(tier media.Tier, withAudio bool) Variant {
	return Variant{Tier: tier, URI: path.Join(tier.Name, IndexPlaylist), WithAudio: withAudio}
}

// RenderMaster renders a master playlist listing variants in the order given.
func RenderMaster(variants []Variant) (string, error) {
	if len(variants) == 0 {
		return "", errors.New("master playlist needs at least one variant")
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	for _, v := range variants {
		codecs := codecString(v.Tier.Profile, v.WithAudio)
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d,RESOLUTION=%s,CODECS=\"%s\",NAME=\"%s\"\n",
			v.Tier.Bandwidth(v.WithAudio), averageBandwidth(v), v.Tier.Resolution(), codecs, v.Tier.Name)
		b.WriteString(v.URI)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// WriteMaster renders and writes the master playlist to dest.
func WriteMaster(dest string, variants []Variant) error {
	content, err := RenderMaster(variants)
	if err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize master playlist: %w", err)
	}
	return nil
}

// Index is the parsed content of a tier playlist.
type Index struct {
	TargetDuration int
	Segments       []string
	Complete       bool
}

// ReadIndex parses a tier playlist and requires it to be a finished VOD list
// with at least one segment.
func ReadIndex(playlistPath string) (Index, error) {
	file, err := os.Open(playlistPath)
	if err != nil {
		return Index{}, err
	}
	defer file.Close()

	var idx Index
	scanner := bufio.NewScanner(file)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			if line != "#EXTM3U" {
				return Index{}, fmt.Errorf("%s: missing #EXTM3U header", playlistPath)
			}
			first = false
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			_, _ = fmt.Sscanf(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), "%d", &idx.TargetDuration)
		case line == "#EXT-X-ENDLIST":
			idx.Complete = true
		case strings.HasPrefix(line, "#"):
		default:
			idx.Segments = append(idx.Segments, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return Index{}, fmt.Errorf("read %s: %w", playlistPath, err)
	}
	if first {
		return Index{}, fmt.Errorf("%s: empty playlist", playlistPath)
	}
	if len(idx.Segments) == 0 {
		return Index{}, fmt.Errorf("%s: no segments", playlistPath)
	}
	if !idx.Complete {
		return Index{}, fmt.Errorf("%s: missing #EXT-X-ENDLIST", playlistPath)
	}
	return idx, nil
}

func averageBandwidth(v Variant) int {
	avg := v.Tier.VideoBitrateKbps * 1000
	if v.WithAudio {
		avg += v.Tier.AudioBitrateKbps * 1000
	}
	return avg
}

// codecString returns the RFC 6381 codec list for an H.264 profile at
// level 4.0 plus AAC-LC.
func codecString(profile string, withAudio bool) string {
	video := "avc1.4d4028"
	switch profile {
	case "baseline":
		video = "avc1.42e01e"
	case "high":
		video = "avc1.640028"
	}
	if withAudio {
		return video + ",mp4a.40.2"
	}
	return video
}
