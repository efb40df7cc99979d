// Package audit records per-job stage timings, a rolling window of finished
// jobs for aggregate statistics, and a bounded append-only log of lifecycle
// events. Every call is best effort: it takes a short lock, never performs
// I/O and never returns an error, so instrumentation cannot slow or fail a
// job. The same observations feed Prometheus collectors on a private
// registry exposed through Handler.
package audit
