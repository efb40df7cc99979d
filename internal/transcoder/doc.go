// Package transcoder invokes ffprobe and ffmpeg for the pipeline.
//
// Every invocation is described by a Command built through a typed
// constructor (NewProbeCommand, NewFrameCommand, NewSegmentCommand) that
// validates its inputs, so no caller ever assembles argument lists by hand.
// Commands execute through a Runner; ExecRunner spawns the real process and
// tests substitute a scripted runner.
//
// Failures are classified by Classify into the services taxonomy: timeouts,
// signal kills and resource contention are transient, decoder and codec
// errors are permanent. The Invoker couples the three invocation kinds with
// their per-kind timeouts and output checks, and WriteMaster renders the
// adaptive master playlist once tiers have been encoded.
package transcoder
