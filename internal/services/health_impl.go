package services

import (
	"context"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthImplementation implements the liveness and readiness probes
type HealthImplementation struct {
	db     Pinger
	runner RunnerStatus
}

// NewHealthService creates a new health service implementation. Either
// dependency may be nil.
func NewHealthService(db Pinger, runner RunnerStatus) *HealthImplementation {
	return &HealthImplementation{db: db, runner: runner}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	return nil
}

// Readyz reports ready when the database answers and the detection loop is
// running
func (h *HealthImplementation) Readyz(ctx context.Context) error {
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			return unavailable("database unreachable: %v", err)
		}
	}
	if h.runner != nil && !h.runner.Running() {
		return unavailable("detection loop is not running")
	}
	return nil
}
