// Package api exposes the HTTP surface of the pipeline: upload intake,
// progress polling, cancellation, audit history, metrics and health.
//
// # Routes
//
//	POST   /upload                 multipart upload (file, title, description, tags)
//	GET    /upload/{id}/progress   progress record with estimated completion
//	DELETE /upload/{id}            cooperative cancellation
//	GET    /upload/{id}/audit      retained audit events for one upload
//	GET    /metrics                rolling window summary (JSON)
//	GET    /metrics/prometheus     collector exposition
//	GET    /healthz                workflow and preflight readiness
//
// # Errors
//
// Every failure is rendered as ErrorResponse. The HTTP status is derived from
// the services error kind (validation 400, oversized 413, unsupported
// container 415, not found 404, already finished 409, busy 503, storage 507).
// Only the user-safe message and hint are returned; the wrapped cause stays in
// the logs.
//
// Payloads use snake_case JSON keys to match the progress and audit records
// they embed.
package api
