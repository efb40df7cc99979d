package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"vodpipe/internal/transcoder"
)

// FakeFailure scripts one failed invocation.
type FakeFailure struct {
	Stderr   string
	ExitCode int
	TimedOut bool
	Signaled bool
}

// FakeRunner is a scripted transcoder.Runner. Successful invocations
// materialise plausible outputs: probe returns ProbeJSON, frame commands
// write a small JPEG, segment commands write an index playlist plus
// segments. Failures are queued per key, where the key is the command kind
// ("probe", "frame", "segment") optionally suffixed with ":" and the output
// base name ("segment:720p", "frame:poster.jpg").
type FakeRunner struct {
	mu       sync.Mutex
	probe    []byte
	calls    []transcoder.Command
	failures map[string][]FakeFailure
	hooks    []func(transcoder.Command)
	segments int
}

// NewFakeRunner returns a runner whose probe reports a source of the given
// size and duration with an AAC audio track.
func NewFakeRunner(width, height int, durationSeconds float64) *FakeRunner {
	return &FakeRunner{
		probe:    ProbeJSON(width, height, durationSeconds, true),
		failures: make(map[string][]FakeFailure),
		segments: 3,
	}
}

// SetProbeOutput replaces the probe stdout.
func (f *FakeRunner) SetProbeOutput(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probe = append([]byte(nil), data...)
}

// FailNext queues failures for key, consumed one per matching invocation.
func (f *FakeRunner) FailNext(key string, failures ...FakeFailure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(f.failures[key], failures...)
}

// OnRun registers a hook invoked before each command is handled.
func (f *FakeRunner) OnRun(hook func(transcoder.Command)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, hook)
}

// Calls returns a copy of every command received so far.
func (f *FakeRunner) Calls() []transcoder.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcoder.Command(nil), f.calls...)
}

// CallsOfKind counts received commands of kind.
func (f *FakeRunner) CallsOfKind(kind transcoder.Kind) int {
	count := 0
	for _, cmd := range f.Calls() {
		if cmd.Kind == kind {
			count++
		}
	}
	return count
}

// Run implements transcoder.Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd transcoder.Command) (transcoder.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	hooks := slices.Clone(f.hooks)
	failure, failed := f.popFailure(cmd)
	probe := f.probe
	segments := f.segments
	f.mu.Unlock()

	for _, hook := range hooks {
		hook(cmd)
	}
	if err := ctx.Err(); err != nil {
		return transcoder.Output{ExitCode: -1}, &transcoder.RunError{Kind: cmd.Kind, ExitCode: -1, Signaled: true, Err: err}
	}
	if failed {
		code := failure.ExitCode
		if code == 0 {
			code = 1
		}
		return transcoder.Output{Stderr: failure.Stderr, ExitCode: code}, &transcoder.RunError{
			Kind:     cmd.Kind,
			ExitCode: code,
			TimedOut: failure.TimedOut,
			Signaled: failure.Signaled,
			Err:      fmt.Errorf("exit status %d", code),
		}
	}

	switch cmd.Kind {
	case transcoder.KindProbe:
		return transcoder.Output{Stdout: probe}, nil
	case transcoder.KindFrame:
		dest := cmd.Args[len(cmd.Args)-1]
		if err := os.WriteFile(dest, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0xFF, 0xD9}, 0o644); err != nil {
			return transcoder.Output{ExitCode: 1}, &transcoder.RunError{Kind: cmd.Kind, ExitCode: 1, Err: err}
		}
		return transcoder.Output{}, nil
	case transcoder.KindSegment:
		if err := writeTier(cmd.Outputs[0], segments); err != nil {
			return transcoder.Output{ExitCode: 1}, &transcoder.RunError{Kind: cmd.Kind, ExitCode: 1, Err: err}
		}
		return transcoder.Output{}, nil
	default:
		return transcoder.Output{ExitCode: 1}, &transcoder.RunError{Kind: cmd.Kind, ExitCode: 1, Err: errors.New("unknown command kind")}
	}
}

func (f *FakeRunner) popFailure(cmd transcoder.Command) (FakeFailure, bool) {
	keys := []string{string(cmd.Kind)}
	if len(cmd.Outputs) > 0 {
		keys = append([]string{string(cmd.Kind) + ":" + filepath.Base(cmd.Outputs[0])}, keys...)
	}
	for _, key := range keys {
		queue := f.failures[key]
		if len(queue) == 0 {
			continue
		}
		f.failures[key] = queue[1:]
		return queue[0], true
	}
	return FakeFailure{}, false
}

func writeTier(dir string, segments int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i := 0; i < segments; i++ {
		name := fmt.Sprintf("segment_%03d.ts", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0x47, 0x40, 0x00, 0x10}, 0o644); err != nil {
			return err
		}
		playlist.WriteString("#EXTINF:6.000000,\n" + name + "\n")
	}
	playlist.WriteString("#EXT-X-ENDLIST\n")
	return os.WriteFile(filepath.Join(dir, transcoder.IndexPlaylist), []byte(playlist.String()), 0o644)
}

// ProbeJSON renders ffprobe output for a single video stream source.
func ProbeJSON(width, height int, durationSeconds float64, withAudio bool) []byte {
	streams := fmt.Sprintf(`{"index":0,"codec_name":"h264","codec_type":"video","width":%d,"height":%d,"avg_frame_rate":"30/1","disposition":{"default":1}}`, width, height)
	if withAudio {
		streams += `,{"index":1,"codec_name":"aac","codec_type":"audio","channels":2,"disposition":{"default":1}}`
	}
	return []byte(fmt.Sprintf(`{"streams":[%s],"format":{"filename":"source","nb_streams":2,"duration":"%.3f","size":"1048576","bit_rate":"4000000","format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}`,
		streams, durationSeconds))
}
