package core

import (
	"context"
	"errors"
)

// Health statuses reported to external health checks.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// HealthReporter aggregates readiness across the store, registry, and cache.
type HealthReporter struct {
	store    FeatureStore
	registry ModelRegistry
	view     string
}

// NewHealthReporter creates a reporter probing the given default view.
func NewHealthReporter(store FeatureStore, registry ModelRegistry, view string) *HealthReporter {
	return &HealthReporter{store: store, registry: registry, view: view}
}

// Health probes storage and the model registry. Storage unreachable but a
// cache still serving reads maps to "degraded"; storage unreachable with no
// active model maps to "down".
func (h *HealthReporter) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{Status: StatusOK}

	active, err := h.registry.GetActive()
	if err == nil {
		status.ActiveModelVersion = active.VersionID
	}

	age := h.store.LastWriteAge()
	if age >= 0 {
		status.LastWriteAge = int64(age.Seconds())
	} else {
		status.LastWriteAge = -1
	}

	if _, err := h.store.GetFeatureStats(ctx, h.view); err != nil {
		if errors.Is(err, ErrViewNotFound) {
			// Empty deployment: no views yet, but storage answered.
			return status
		}
		if status.ActiveModelVersion == "" {
			status.Status = StatusDown
		} else {
			status.Status = StatusDegraded
		}
	}
	return status
}
