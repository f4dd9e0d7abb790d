package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synapselabs/partnermatch/metrics"
)

// FeatureStoreOptions configures a feature store instance. Zero values fall
// back to the defaults below.
type FeatureStoreOptions struct {
	// MaxBatchSize bounds the number of company IDs in one online lookup.
	MaxBatchSize int
	// StalenessBound is the age past which a served record is flagged stale.
	StalenessBound time.Duration
	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Manager
}

const (
	defaultMaxBatchSize   = 100
	defaultStalenessBound = 24 * time.Hour
)

// FeatureStoreImpl implements the FeatureStore interface on top of a
// persistence backend and an optional serving cache.
type FeatureStoreImpl struct {
	persistence Persistence
	cache       ServingCache
	opts        FeatureStoreOptions

	// lastWrite holds the unix-nano wall time of the most recent accepted
	// write, for health reporting.
	lastWrite atomic.Int64

	// genMu guards gens, a per-key invalidation generation bumped on every
	// accepted write. A read-through repopulation snapshots the generation
	// before loading from storage and drops its cache entry if a write
	// landed in between, so a racing reader can never resurrect the
	// pre-write value after the writer's invalidation.
	genMu sync.Mutex
	gens  map[string]uint64
}

// NewFeatureStore creates a feature store. The cache may be nil, in which
// case every online read goes to the persistence layer.
func NewFeatureStore(persistence Persistence, cache ServingCache, opts FeatureStoreOptions) *FeatureStoreImpl {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = defaultMaxBatchSize
	}
	if opts.StalenessBound <= 0 {
		opts.StalenessBound = defaultStalenessBound
	}
	return &FeatureStoreImpl{
		persistence: persistence,
		cache:       cache,
		opts:        opts,
		gens:        make(map[string]uint64),
	}
}

// CreateFeatureView registers a view with its declared embedding dimension.
func (fs *FeatureStoreImpl) CreateFeatureView(ctx context.Context, name string, dimension int) (FeatureView, error) {
	if err := ValidateViewName(name); err != nil {
		return FeatureView{}, err
	}
	if dimension <= 0 {
		return FeatureView{}, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidRecord, dimension)
	}

	view := FeatureView{
		Name:      name,
		Dimension: dimension,
		CreatedAt: time.Now().UTC(),
	}
	if err := fs.persistence.CreateView(ctx, view); err != nil {
		return FeatureView{}, fmt.Errorf("failed to create view %s: %w", name, err)
	}
	return view, nil
}

// WriteFeatures validates and persists a batch of records. Valid records are
// accepted even when others in the batch are rejected; each rejection carries
// its reason. Accepted records invalidate their cache entries so a read
// immediately after the write never observes the pre-write value.
func (fs *FeatureStoreImpl) WriteFeatures(ctx context.Context, view string, records []FeatureRecord) (WriteResult, error) {
	v, err := fs.persistence.GetView(ctx, view)
	if err != nil {
		return WriteResult{}, fmt.Errorf("resolve view %s: %w", view, err)
	}

	var result WriteResult
	for _, rec := range records {
		rec.FeatureView = view

		if err := ValidateRecord(rec, v.Dimension); err != nil {
			result.Rejected = append(result.Rejected, RejectedRecord{Record: rec, Reason: err.Error()})
			continue
		}

		if err := fs.persistence.PutRecord(ctx, rec); err != nil {
			// Out-of-order writes are an explicit per-record error, not a
			// batch failure: applying them silently would corrupt
			// point-in-time correctness.
			if Classify(err) == KindConflict {
				result.Rejected = append(result.Rejected, RejectedRecord{Record: rec, Reason: err.Error()})
				fs.observeWrite(false)
				continue
			}
			return result, fmt.Errorf("write record for %s: %w", rec.CompanyID, err)
		}

		if fs.cache != nil {
			// Bump before invalidating: a reader that repopulates after this
			// invalidation must observe the generation change.
			fs.bumpGeneration(view, rec.CompanyID)
			fs.cache.Invalidate(ctx, view, rec.CompanyID)
		}
		fs.lastWrite.Store(time.Now().UnixNano())
		result.Accepted++
		fs.observeWrite(true)
	}
	return result, nil
}

// GetOnlineFeatures returns the latest record per company, cache-first.
// Batches above the configured maximum are rejected outright rather than
// silently truncated.
func (fs *FeatureStoreImpl) GetOnlineFeatures(ctx context.Context, view string, companyIDs []string) (OnlineResult, error) {
	if len(companyIDs) > fs.opts.MaxBatchSize {
		return OnlineResult{}, fmt.Errorf("%w: %d ids, maximum %d", ErrBatchTooLarge, len(companyIDs), fs.opts.MaxBatchSize)
	}
	if _, err := fs.persistence.GetView(ctx, view); err != nil {
		return OnlineResult{}, fmt.Errorf("resolve view %s: %w", view, err)
	}

	now := time.Now()
	var result OnlineResult
	for _, id := range companyIDs {
		if fs.cache != nil {
			if rec, ok := fs.cache.Get(ctx, view, id); ok {
				fs.observeCache(true)
				result.Found = append(result.Found, rec)
				if now.Sub(rec.Timestamp) > fs.opts.StalenessBound {
					result.StaleIDs = append(result.StaleIDs, id)
				}
				continue
			}
			fs.observeCache(false)
		}

		gen := fs.generation(view, id)
		rec, err := fs.persistence.LatestRecord(ctx, view, id)
		if err != nil {
			if Classify(err) == KindNotFound {
				result.Missing = append(result.Missing, id)
				continue
			}
			return OnlineResult{}, fmt.Errorf("%w: load %s/%s: %v", ErrStoreUnavailable, view, id, err)
		}

		if fs.cache != nil {
			fs.cache.Set(ctx, rec)
			if fs.generation(view, id) != gen {
				// A write landed while this read was repopulating; the loaded
				// record may predate it, so the snapshot cannot stay cached.
				fs.cache.Invalidate(ctx, view, id)
			}
		}
		result.Found = append(result.Found, rec)
		if now.Sub(rec.Timestamp) > fs.opts.StalenessBound {
			result.StaleIDs = append(result.StaleIDs, id)
		}
	}
	return result, nil
}

// GetHistoricalFeatures returns records with timestamps in [start, end],
// ordered by (company_id, timestamp ascending). The read bypasses the
// serving cache entirely and is snapshot-isolated: the persistence layer
// resolves all companies under one read transaction, so a write that lands
// after the read began is never observed. The end bound is the query's
// as-of time; nothing written after it can leak into training data.
func (fs *FeatureStoreImpl) GetHistoricalFeatures(ctx context.Context, view string, companyIDs []string, start, end time.Time) ([]FeatureRecord, error) {
	if err := ValidateTimeRange(start, end); err != nil {
		return nil, err
	}
	if _, err := fs.persistence.GetView(ctx, view); err != nil {
		return nil, fmt.Errorf("resolve view %s: %w", view, err)
	}

	ids := make([]string, len(companyIDs))
	copy(ids, companyIDs)
	sort.Strings(ids)

	records, err := fs.persistence.History(ctx, view, ids, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: historical read on %s: %v", ErrStoreUnavailable, view, err)
	}
	return records, nil
}

// GetFeatureStats returns an eventually consistent aggregate for a view.
func (fs *FeatureStoreImpl) GetFeatureStats(ctx context.Context, view string) (FeatureStats, error) {
	if _, err := fs.persistence.GetView(ctx, view); err != nil {
		return FeatureStats{}, fmt.Errorf("resolve view %s: %w", view, err)
	}
	stats, err := fs.persistence.ViewStats(ctx, view)
	if err != nil {
		return FeatureStats{}, fmt.Errorf("%w: stats on %s: %v", ErrStoreUnavailable, view, err)
	}
	return stats, nil
}

// ListCompanies returns all company IDs present in a view.
func (fs *FeatureStoreImpl) ListCompanies(ctx context.Context, view string) ([]string, error) {
	if _, err := fs.persistence.GetView(ctx, view); err != nil {
		return nil, fmt.Errorf("resolve view %s: %w", view, err)
	}
	ids, err := fs.persistence.ListCompanies(ctx, view)
	if err != nil {
		return nil, fmt.Errorf("%w: list companies on %s: %v", ErrStoreUnavailable, view, err)
	}
	return ids, nil
}

// LastWriteAge returns the time since the last accepted write, or a negative
// duration if this process has not accepted any write yet.
func (fs *FeatureStoreImpl) LastWriteAge() time.Duration {
	ns := fs.lastWrite.Load()
	if ns == 0 {
		return -1
	}
	return time.Since(time.Unix(0, ns))
}

// Close releases the underlying cache and persistence resources.
func (fs *FeatureStoreImpl) Close() error {
	if fs.cache != nil {
		if err := fs.cache.Close(); err != nil {
			return err
		}
	}
	return fs.persistence.Close()
}

func (fs *FeatureStoreImpl) bumpGeneration(view, companyID string) {
	fs.genMu.Lock()
	fs.gens[view+"/"+companyID]++
	fs.genMu.Unlock()
}

func (fs *FeatureStoreImpl) generation(view, companyID string) uint64 {
	fs.genMu.Lock()
	defer fs.genMu.Unlock()
	return fs.gens[view+"/"+companyID]
}

func (fs *FeatureStoreImpl) observeWrite(accepted bool) {
	if fs.opts.Metrics == nil {
		return
	}
	if accepted {
		fs.opts.Metrics.WriteAccepted()
	} else {
		fs.opts.Metrics.WriteRejected()
	}
}

func (fs *FeatureStoreImpl) observeCache(hit bool) {
	if fs.opts.Metrics == nil {
		return
	}
	if hit {
		fs.opts.Metrics.CacheHit()
	} else {
		fs.opts.Metrics.CacheMiss()
	}
}
