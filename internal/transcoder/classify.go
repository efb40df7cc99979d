package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"vodpipe/internal/services"
)

// failurePattern maps a stderr signature onto a classification and the
// user-safe message and hint reported with it.
type failurePattern struct {
	re      *regexp.Regexp
	marker  error
	message string
	hint    string
}

// Checked in order; the first match wins. Storage exhaustion is matched
// before the generic I/O patterns so a full disk is never retried.
var failurePatterns = []failurePattern{
	{
		re:      regexp.MustCompile(`(?i)No space left on device|Disk quota exceeded`),
		marker:  services.ErrStorage,
		message: "output volume is full",
		hint:    "free space on the staging volume",
	},
	{
		re: regexp.MustCompile(`(?i)Decoder \(codec [^)]*\) not found|` +
			`Unknown decoder|Unsupported codec|codec not currently supported|` +
			`Could not find codec parameters|no decoder found|` +
			`Unsupported (video|audio) codec`),
		marker:  services.ErrPermanent,
		message: "source uses an unsupported codec",
		hint:    "re-encode the video as H.264/AAC before uploading",
	},
	{
		re: regexp.MustCompile(`(?i)Invalid data found when processing input|moov atom not found|` +
			`EBML header parsing failed|Truncating packet|error reading header|` +
			`does not contain any stream|Output file #0 does not contain any stream|` +
			`Invalid NAL unit size|corrupt (decoded )?frame|partial file`),
		marker:  services.ErrPermanent,
		message: "source file is corrupt or truncated",
		hint:    "check the file plays locally and upload it again",
	},
	{
		re:      regexp.MustCompile(`(?i)Unknown encoder|Encoder not found|Unrecognized option|Option not found`),
		marker:  services.ErrPermanent,
		message: "transcoder build lacks a required feature",
		hint:    "install an ffmpeg build with libx264 and aac support",
	},
	{
		re: regexp.MustCompile(`(?i)Resource temporarily unavailable|Cannot allocate memory|` +
			`Too many open files|Device or resource busy|Connection reset|` +
			`Broken pipe|Interrupted system call`),
		marker:  services.ErrTransient,
		message: "transcoder ran out of resources",
	},
}

// Classify converts an invocation failure into a services error. The
// returned error keeps the RunError and the stderr tail as its cause so
// operators see full detail in logs while Details/UserMessage stay safe.
// Cancellation of ctx is passed through unclassified.
func Classify(ctx context.Context, kind Kind, out Output, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", kind, ctxErr)
	}

	cause := err
	if tail := stderrTail(out.Stderr, 6); tail != "" {
		cause = fmt.Errorf("%w: %s", err, tail)
	}

	if errors.Is(err, exec.ErrNotFound) {
		return services.WithHint(
			services.Wrap(services.ErrPermanent, "transcoder", string(kind), "transcoder binary not available", cause),
			"install ffmpeg/ffprobe or set transcoder.ffmpeg_binary",
		)
	}

	var runErr *RunError
	if errors.As(err, &runErr) && runErr.TimedOut {
		return services.WithHint(
			services.Wrap(services.ErrTransient, "transcoder", string(kind), "transcoder timed out", cause),
			"very long or high resolution sources may need a larger transcoder timeout",
		)
	}

	for _, pattern := range failurePatterns {
		if !pattern.re.MatchString(out.Stderr) {
			continue
		}
		wrapped := services.Wrap(pattern.marker, "transcoder", string(kind), pattern.message, cause)
		if pattern.hint != "" {
			wrapped = services.WithHint(wrapped, pattern.hint)
		}
		return wrapped
	}

	if runErr != nil && runErr.Signaled {
		return services.Wrap(services.ErrTransient, "transcoder", string(kind), "transcoder was killed", cause)
	}
	return services.Wrap(services.ErrPermanent, "transcoder", string(kind), "transcoder failed", cause)
}

// stderrTail returns the last n non-empty lines of stderr joined by " | ".
func stderrTail(stderr string, n int) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, " | ")
}
