// Package catalog persists the catalog entry behind every upload.
//
// Intake writes a placeholder in the uploading state before the pipeline is
// scheduled. The workflow moves it to processing, and the only way an entry
// becomes complete is Finalize, which records the playback paths and every
// encoded tier in one transaction. Failed and cancelled jobs keep their row
// with a reason but never gain tiers or playback paths.
//
// SQLite (modernc.org/sqlite) is the default driver; Postgres via pgxpool is
// available for deployments that share the catalog with other services.
package catalog
