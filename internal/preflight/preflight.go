package preflight

import (
	"context"

	"vodpipe/internal/config"
	"vodpipe/internal/stage"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Health converts r into a stage health record.
func (r Result) Health() stage.Health {
	if r.Passed {
		h := stage.Healthy(r.Name)
		h.Detail = r.Detail
		return h
	}
	return stage.Unhealthy(r.Name, r.Detail)
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}

	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	if cfg.Storage.Backend != config.StorageS3 {
		results = append(results, CheckDirectoryAccess("Storage directory", cfg.Paths.StorageDir))
	}
	results = append(results, CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, MinFreeBytes(cfg)))
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Checker adapts a check function to stage.Checker for the health endpoint.
type Checker struct {
	cfg *config.Config
}

// NewChecker returns a Checker that runs RunAll on every call.
func NewChecker(cfg *config.Config) Checker {
	return Checker{cfg: cfg}
}

// HealthCheck folds every preflight result into one record.
func (c Checker) HealthCheck(ctx context.Context) stage.Health {
	const name = "preflight"
	for _, r := range RunAll(ctx, c.cfg) {
		if !r.Passed {
			return stage.Unhealthy(name, r.Name+": "+r.Detail)
		}
	}
	return stage.Healthy(name)
}
