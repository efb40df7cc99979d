// Package daemon coordinates the long-running vodpipe process.
//
// It opens the catalog, progress store and final storage backend, builds the
// transcoder invoker, workflow manager and intake service, and serves the
// HTTP API, all under a flock-based single-instance lock. Background loops
// (progress TTL sweep, stale staging sweep, HTTP server, worker pool) run in
// one errgroup so the first failure or a signal stops them together.
//
// Keep orchestration logic here: pipeline stages live in workflow and the
// request surface in api, while the daemon focuses on startup, recovery,
// shutdown and high level coordination.
package daemon
