package core

import (
	"context"
	"time"
)

// Persistence defines the durable storage contract for feature records,
// feature views, and model versions. Implementations must serialize writes
// per (view, company) key via the stored-timestamp compare in PutRecord, and
// must give History a consistent snapshot with respect to concurrent writes.
type Persistence interface {
	// CreateView registers a feature view with its declared dimensionality.
	CreateView(ctx context.Context, view FeatureView) error

	// GetView returns a view by name, or ErrViewNotFound.
	GetView(ctx context.Context, name string) (FeatureView, error)

	// ListViews returns all registered views.
	ListViews(ctx context.Context) ([]FeatureView, error)

	// PutRecord appends a new record version. Returns ErrOutOfOrderWrite if
	// the record's timestamp is not strictly newer than the stored latest
	// for the same (view, company) key. The timestamp compare and the write
	// happen inside one storage transaction.
	PutRecord(ctx context.Context, record FeatureRecord) error

	// LatestRecord returns the most recent record for a company, or
	// ErrCompanyNotFound.
	LatestRecord(ctx context.Context, view, companyID string) (FeatureRecord, error)

	// History returns records for the given companies with timestamps in
	// [start, end], ordered by (company_id, timestamp ascending). All
	// companies are read under a single snapshot.
	History(ctx context.Context, view string, companyIDs []string, start, end time.Time) ([]FeatureRecord, error)

	// ListCompanies returns the IDs of all companies with at least one
	// record in the view.
	ListCompanies(ctx context.Context, view string) ([]string, error)

	// ViewStats returns aggregate statistics for a view.
	ViewStats(ctx context.Context, view string) (FeatureStats, error)

	// SaveModelVersion persists a model version's current state.
	SaveModelVersion(ctx context.Context, version ModelVersion) error

	// ListModelVersions returns all persisted model versions.
	ListModelVersions(ctx context.Context) ([]ModelVersion, error)

	// Close releases storage resources.
	Close() error
}

// ServingCache fronts online feature lookups with a short-TTL snapshot of
// the latest record per key. Implementations must be copy-safe: a record
// returned by Get is never aliased by a later Set or by another reader.
type ServingCache interface {
	Get(ctx context.Context, view, companyID string) (FeatureRecord, bool)
	Set(ctx context.Context, record FeatureRecord)
	Invalidate(ctx context.Context, view, companyID string)
	Close() error
}

// FeatureStore is the serving contract of the feature subsystem.
type FeatureStore interface {
	CreateFeatureView(ctx context.Context, name string, dimension int) (FeatureView, error)
	WriteFeatures(ctx context.Context, view string, records []FeatureRecord) (WriteResult, error)
	GetOnlineFeatures(ctx context.Context, view string, companyIDs []string) (OnlineResult, error)
	GetHistoricalFeatures(ctx context.Context, view string, companyIDs []string, start, end time.Time) ([]FeatureRecord, error)
	GetFeatureStats(ctx context.Context, view string) (FeatureStats, error)
	ListCompanies(ctx context.Context, view string) ([]string, error)
	LastWriteAge() time.Duration
	Close() error
}

// ModelRegistry tracks scoring-model versions and the single active version.
// GetActive must be safe for concurrent lock-free reads.
type ModelRegistry interface {
	Register(ctx context.Context, versionID string, embeddingDim int) (ModelVersion, error)
	GetActive() (ModelVersion, error)
	Activate(ctx context.Context, versionID string) (ModelVersion, error)
	Versions(ctx context.Context) ([]ModelVersion, error)
}
