package api

import (
	"vodpipe/internal/audit"
	"vodpipe/internal/intake"
	"vodpipe/internal/stage"
	"vodpipe/internal/workflow"
)

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	intake.Receipt
	ProgressURL string `json:"progress_url"`
}

// CancelResponse acknowledges a cancellation request. The job settles at its
// next stage boundary; pollers observe the cancelled status.
type CancelResponse struct {
	UploadID string `json:"upload_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"error_kind"`
	Hint      string `json:"hint,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// AuditResponse lists the retained audit events of one upload.
type AuditResponse struct {
	UploadID string        `json:"upload_id"`
	Events   []audit.Event `json:"events"`
}

// MetricsResponse aggregates the rolling metrics window.
type MetricsResponse struct {
	audit.Summary
	Recent   []audit.JobSummary      `json:"recent_jobs"`
	Workflow *workflow.StatusSummary `json:"workflow,omitempty"`
}

// HealthResponse reports readiness of every checked component.
type HealthResponse struct {
	Ready    bool                   `json:"ready"`
	Checks   []stage.Health         `json:"checks"`
	Workflow workflow.StatusSummary `json:"workflow"`
}
