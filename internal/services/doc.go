// Package services defines shared utilities consumed by the pipeline stages
// and the HTTP surface.
//
// Key responsibilities:
//   - Context helpers that stamp upload IDs, stage names, tiers, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures as
//     validation, transient, permanent, storage, or catalog-write errors.
//   - Details and UserMessage, which split a failure into operator detail and
//     the user-safe text stored on the progress record.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
