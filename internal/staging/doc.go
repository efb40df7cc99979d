// Package staging owns the per-upload working area and artifact cleanup.
//
// Each upload gets a Workspace at {staging_dir}/{upload_id} holding the
// received source file and an out/ directory that mirrors the published
// layout. Everything a stage creates is registered with the job's Scope;
// on failure or cancellation Purge removes it all, best effort and
// idempotent. CleanStale and CleanOrphaned sweep workspaces left behind by
// crashes.
package staging
