package workflow

import (
	"context"
	"sort"

	"vodpipe/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running   bool           `json:"running"`
	Workers   int            `json:"workers"`
	Queued    int            `json:"queued"`
	Active    []string       `json:"active"`
	QueueCap  int            `json:"queue_capacity"`
	LastError string         `json:"last_error,omitempty"`
	LastJob   string         `json:"last_job,omitempty"`
	Health    []stage.Health `json:"health"`
}

// Status returns the latest workflow information plus the readiness of the
// manager and of every extra checker.
func (m *Manager) Status(ctx context.Context, checkers ...stage.Checker) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:  m.running,
		Workers:  m.cfg.Pipeline.MaxConcurrent,
		Queued:   len(m.queue),
		QueueCap: cap(m.queue),
		LastJob:  m.lastJob,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	for id, job := range m.jobs {
		if job.Started() {
			summary.Active = append(summary.Active, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(summary.Active)

	summary.Health = append(summary.Health, m.HealthCheck(ctx))
	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		summary.Health = append(summary.Health, checker.HealthCheck(ctx))
	}
	return summary
}

// HealthCheck reports whether workers are running and the catalog answers.
func (m *Manager) HealthCheck(ctx context.Context) stage.Health {
	const name = "workflow"
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if !running {
		return stage.Unhealthy(name, "workers not running")
	}
	if err := m.deps.Catalog.Ping(ctx); err != nil {
		return stage.Unhealthy(name, "catalog unreachable: "+err.Error())
	}
	return stage.Healthy(name)
}
