package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry implements ModelRegistry. The active version is held behind an
// atomically swapped pointer so scoring reads never block on activation;
// Register and Activate serialize on a mutex and persist every transition.
type Registry struct {
	mu          sync.Mutex
	persistence Persistence
	versions    map[string]ModelVersion
	active      atomic.Pointer[ModelVersion]
}

// NewModelRegistry creates a registry, restoring persisted versions and the
// active pointer from storage.
func NewModelRegistry(ctx context.Context, persistence Persistence) (*Registry, error) {
	r := &Registry{
		persistence: persistence,
		versions:    make(map[string]ModelVersion),
	}

	stored, err := persistence.ListModelVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load model versions: %w", err)
	}
	for _, v := range stored {
		r.versions[v.VersionID] = v
		if v.Status == ModelActive {
			active := v
			r.active.Store(&active)
		}
	}
	return r, nil
}

// Register stages a new model version.
func (r *Registry) Register(ctx context.Context, versionID string, embeddingDim int) (ModelVersion, error) {
	if versionID == "" {
		return ModelVersion{}, fmt.Errorf("%w: version_id cannot be empty", ErrInvalidRecord)
	}
	if embeddingDim <= 0 {
		return ModelVersion{}, fmt.Errorf("%w: embedding_dim must be positive, got %d", ErrInvalidRecord, embeddingDim)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.versions[versionID]; exists {
		return ModelVersion{}, fmt.Errorf("%w: %s", ErrModelExists, versionID)
	}

	version := ModelVersion{
		VersionID:    versionID,
		EmbeddingDim: embeddingDim,
		Status:       ModelStaged,
	}
	if err := r.persistence.SaveModelVersion(ctx, version); err != nil {
		return ModelVersion{}, fmt.Errorf("failed to save model version %s: %w", versionID, err)
	}
	r.versions[versionID] = version
	return version, nil
}

// GetActive returns the currently active version without locking.
func (r *Registry) GetActive() (ModelVersion, error) {
	active := r.active.Load()
	if active == nil {
		return ModelVersion{}, ErrNoActiveModel
	}
	return *active, nil
}

// Activate promotes a staged version to active and retires the previous one.
// Activation is rejected when any registered feature view's declared
// dimension disagrees with the version's embedding_dim; a mismatched swap
// would silently corrupt live scoring, so the previous version stays active.
// The staged -> active -> retired transition is monotonic: a retired version
// cannot come back.
func (r *Registry) Activate(ctx context.Context, versionID string) (ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, exists := r.versions[versionID]
	if !exists {
		return ModelVersion{}, fmt.Errorf("%w: %s", ErrModelNotFound, versionID)
	}
	if next.Status == ModelActive {
		return ModelVersion{}, fmt.Errorf("%w: %s", ErrModelAlreadyActive, versionID)
	}
	if next.Status == ModelRetired {
		return ModelVersion{}, fmt.Errorf("%w: %s", ErrModelRetired, versionID)
	}

	views, err := r.persistence.ListViews(ctx)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("%w: list views during activation: %v", ErrStoreUnavailable, err)
	}
	for _, v := range views {
		if v.Dimension != next.EmbeddingDim {
			return ModelVersion{}, fmt.Errorf("%w: view %s declares dimension %d, model %s declares %d",
				ErrDimensionMismatch, v.Name, v.Dimension, versionID, next.EmbeddingDim)
		}
	}

	next.Status = ModelActive
	next.ActivatedAt = time.Now().UTC()
	if err := r.persistence.SaveModelVersion(ctx, next); err != nil {
		return ModelVersion{}, fmt.Errorf("failed to save model version %s: %w", versionID, err)
	}

	if prev := r.active.Load(); prev != nil {
		retired := *prev
		retired.Status = ModelRetired
		if err := r.persistence.SaveModelVersion(ctx, retired); err != nil {
			return ModelVersion{}, fmt.Errorf("failed to retire model version %s: %w", retired.VersionID, err)
		}
		r.versions[retired.VersionID] = retired
	}

	r.versions[versionID] = next
	active := next
	r.active.Store(&active)
	return next, nil
}

// Versions returns all known versions ordered by version ID.
func (r *Registry) Versions(ctx context.Context) ([]ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ModelVersion, 0, len(r.versions))
	for _, v := range r.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionID < out[j].VersionID })
	return out, nil
}
