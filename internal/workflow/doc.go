// Package workflow runs accepted uploads through the processing stages.
//
// The Manager owns a bounded queue and a fixed pool of workers. Each job is
// driven by a small state machine whose states are the stage names: every
// transition reports progress, times the stage for the audit recorder and
// checks for a cancellation request. Transient transcoder failures are
// retried with backoff; every artifact a stage creates is registered with the
// job's cleanup scope so failed or cancelled jobs leave nothing behind.
//
// Tier encodes are sequential. A failed tier other than the lowest is dropped
// from the master playlist; a failed lowest tier fails the job.
//
// On start the Manager re-queues catalog entries left uploading or processing
// by a previous run when their staged source still exists, and fails the
// rest.
package workflow
