// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Entry points:
//   - Args: the argument list for a JSON inspection of one file
//   - Parse: decodes captured ffprobe stdout
//   - Result.Metadata: converts a parsed result into media.Metadata, failing
//     with ErrIncomplete when a required field is missing or unparseable
//
// Process execution lives in the transcoder package so probes share the
// runner, timeouts and failure classification of every other invocation.
package ffprobe
