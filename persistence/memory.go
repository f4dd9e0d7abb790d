package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/synapselabs/partnermatch/core"
)

// MemoryPersistence implements in-memory storage (non-persistent). Record
// slices are kept in ascending timestamp order per company; reads copy under
// the read lock, which gives History its snapshot.
type MemoryPersistence struct {
	mu      sync.RWMutex
	views   map[string]core.FeatureView
	records map[string]map[string][]core.FeatureRecord // view -> company -> versions
	models  map[string]core.ModelVersion
}

// NewMemoryPersistence creates a new in-memory persistence layer
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		views:   make(map[string]core.FeatureView),
		records: make(map[string]map[string][]core.FeatureRecord),
		models:  make(map[string]core.ModelVersion),
	}
}

// CreateView registers a feature view in memory.
func (m *MemoryPersistence) CreateView(ctx context.Context, view core.FeatureView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.views[view.Name]; exists {
		return fmt.Errorf("%w: %s", core.ErrViewExists, view.Name)
	}
	m.views[view.Name] = view
	m.records[view.Name] = make(map[string][]core.FeatureRecord)
	return nil
}

// GetView retrieves a feature view by name.
func (m *MemoryPersistence) GetView(ctx context.Context, name string) (core.FeatureView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view, exists := m.views[name]
	if !exists {
		return core.FeatureView{}, fmt.Errorf("%w: %s", core.ErrViewNotFound, name)
	}
	return view, nil
}

// ListViews returns all registered feature views.
func (m *MemoryPersistence) ListViews(ctx context.Context) ([]core.FeatureView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.FeatureView, 0, len(m.views))
	for _, v := range m.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PutRecord appends a record version. The monotonic timestamp compare and
// the append happen under one lock, serializing writers per key.
func (m *MemoryPersistence) PutRecord(ctx context.Context, record core.FeatureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byCompany, exists := m.records[record.FeatureView]
	if !exists {
		return fmt.Errorf("%w: %s", core.ErrViewNotFound, record.FeatureView)
	}

	versions := byCompany[record.CompanyID]
	if len(versions) > 0 {
		stored := versions[len(versions)-1].Timestamp
		if !record.Timestamp.After(stored) {
			return fmt.Errorf("%w: company %s has %s, got %s", core.ErrOutOfOrderWrite,
				record.CompanyID, stored.Format(time.RFC3339Nano), record.Timestamp.Format(time.RFC3339Nano))
		}
	}

	byCompany[record.CompanyID] = append(versions, record.Clone())
	return nil
}

// LatestRecord returns the most recent record for a company.
func (m *MemoryPersistence) LatestRecord(ctx context.Context, view, companyID string) (core.FeatureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byCompany, exists := m.records[view]
	if !exists {
		return core.FeatureRecord{}, fmt.Errorf("%w: %s", core.ErrViewNotFound, view)
	}
	versions := byCompany[companyID]
	if len(versions) == 0 {
		return core.FeatureRecord{}, fmt.Errorf("%w: %s in view %s", core.ErrCompanyNotFound, companyID, view)
	}
	return versions[len(versions)-1].Clone(), nil
}

// History returns record versions in [start, end] for the given companies,
// ordered by (company_id, timestamp ascending). The single read lock spans
// every company, so the result is a consistent snapshot.
func (m *MemoryPersistence) History(ctx context.Context, view string, companyIDs []string, start, end time.Time) ([]core.FeatureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byCompany, exists := m.records[view]
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrViewNotFound, view)
	}

	ids := make([]string, len(companyIDs))
	copy(ids, companyIDs)
	sort.Strings(ids)

	var out []core.FeatureRecord
	for _, id := range ids {
		for _, rec := range byCompany[id] {
			if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
				continue
			}
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// ListCompanies returns the IDs of all companies with records in the view.
func (m *MemoryPersistence) ListCompanies(ctx context.Context, view string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byCompany, exists := m.records[view]
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrViewNotFound, view)
	}
	ids := make([]string, 0, len(byCompany))
	for id, versions := range byCompany {
		if len(versions) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ViewStats computes aggregate statistics for a view.
func (m *MemoryPersistence) ViewStats(ctx context.Context, view string) (core.FeatureStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byCompany, exists := m.records[view]
	if !exists {
		return core.FeatureStats{}, fmt.Errorf("%w: %s", core.ErrViewNotFound, view)
	}

	var stats core.FeatureStats
	for _, versions := range byCompany {
		if len(versions) == 0 {
			continue
		}
		stats.TotalCompanies++
		stats.FeatureCount += len(versions)
		for _, rec := range versions {
			stats.StorageSize += int64(8*len(rec.CultureVector)) + 128
		}
		latest := versions[len(versions)-1].Timestamp
		if latest.After(stats.LastUpdated) {
			stats.LastUpdated = latest
		}
	}
	return stats, nil
}

// SaveModelVersion stores a model version in memory.
func (m *MemoryPersistence) SaveModelVersion(ctx context.Context, version core.ModelVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.models[version.VersionID] = version
	return nil
}

// ListModelVersions returns all stored model versions.
func (m *MemoryPersistence) ListModelVersions(ctx context.Context) ([]core.ModelVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.ModelVersion, 0, len(m.models))
	for _, v := range m.models {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionID < out[j].VersionID })
	return out, nil
}

// Close is a no-op for memory persistence.
func (m *MemoryPersistence) Close() error {
	return nil
}
