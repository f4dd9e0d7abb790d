package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/synapselabs/partnermatch/core"
)

const (
	// Bucket names for different data types
	viewsBucket         = "views"
	modelsBucket        = "models"
	latestBucketPrefix  = "latest_"
	historyBucketPrefix = "history_"
)

// BoltPersistence implements persistence using BoltDB. Each view gets a
// latest bucket (company -> newest record) and a history bucket keyed by
// company + NUL + big-endian unix-nano timestamp, so a cursor scan yields
// versions in timestamp order. Both buckets are updated in one transaction;
// bbolt's single-writer transactions serialize the timestamp compare-and-set
// and its snapshot reads keep historical queries isolated from in-flight
// writes.
type BoltPersistence struct {
	db   *bbolt.DB
	path string
}

// NewBoltPersistence creates a new BoltDB persistence layer
func NewBoltPersistence(dbPath string) (*BoltPersistence, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB at %s: %w", dbPath, err)
	}

	p := &BoltPersistence{db: db, path: dbPath}
	if err := p.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return p, nil
}

func (b *BoltPersistence) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(viewsBucket)); err != nil {
			return fmt.Errorf("failed to create views bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(modelsBucket)); err != nil {
			return fmt.Errorf("failed to create models bucket: %w", err)
		}
		return nil
	})
}

// historyKey orders record versions by (company, timestamp). The NUL
// separator keeps a company ID from being a prefix of another's keys.
func historyKey(companyID string, ts time.Time) []byte {
	key := make([]byte, 0, len(companyID)+9)
	key = append(key, companyID...)
	key = append(key, 0x00)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	return append(key, buf[:]...)
}

// CreateView registers a feature view and creates its record buckets.
func (b *BoltPersistence) CreateView(ctx context.Context, view core.FeatureView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		views := tx.Bucket([]byte(viewsBucket))
		if views.Get([]byte(view.Name)) != nil {
			return fmt.Errorf("%w: %s", core.ErrViewExists, view.Name)
		}
		if err := views.Put([]byte(view.Name), data); err != nil {
			return fmt.Errorf("failed to save view %s: %w", view.Name, err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(latestBucketPrefix + view.Name)); err != nil {
			return fmt.Errorf("failed to create latest bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(historyBucketPrefix + view.Name)); err != nil {
			return fmt.Errorf("failed to create history bucket: %w", err)
		}
		return nil
	})
}

// GetView retrieves a feature view by name.
func (b *BoltPersistence) GetView(ctx context.Context, name string) (core.FeatureView, error) {
	var view core.FeatureView
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(viewsBucket)).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", core.ErrViewNotFound, name)
		}
		return json.Unmarshal(data, &view)
	})
	return view, err
}

// ListViews returns all registered feature views.
func (b *BoltPersistence) ListViews(ctx context.Context) ([]core.FeatureView, error) {
	var views []core.FeatureView
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(viewsBucket)).ForEach(func(k, v []byte) error {
			var view core.FeatureView
			if err := json.Unmarshal(v, &view); err != nil {
				return fmt.Errorf("failed to unmarshal view %s: %w", k, err)
			}
			views = append(views, view)
			return nil
		})
	})
	return views, err
}

// PutRecord appends a record version. The stored-timestamp compare and the
// latest/history writes commit in one transaction, so an older concurrent
// write can never overwrite a newer record, even across process restarts.
func (b *BoltPersistence) PutRecord(ctx context.Context, record core.FeatureRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		latest := tx.Bucket([]byte(latestBucketPrefix + record.FeatureView))
		history := tx.Bucket([]byte(historyBucketPrefix + record.FeatureView))
		if latest == nil || history == nil {
			return fmt.Errorf("%w: %s", core.ErrViewNotFound, record.FeatureView)
		}

		if prev := latest.Get([]byte(record.CompanyID)); prev != nil {
			var stored core.FeatureRecord
			if err := json.Unmarshal(prev, &stored); err != nil {
				return fmt.Errorf("failed to unmarshal stored record: %w", err)
			}
			if !record.Timestamp.After(stored.Timestamp) {
				return fmt.Errorf("%w: company %s has %s, got %s", core.ErrOutOfOrderWrite,
					record.CompanyID, stored.Timestamp.Format(time.RFC3339Nano),
					record.Timestamp.Format(time.RFC3339Nano))
			}
		}

		if err := latest.Put([]byte(record.CompanyID), data); err != nil {
			return fmt.Errorf("failed to save latest record: %w", err)
		}
		return history.Put(historyKey(record.CompanyID, record.Timestamp), data)
	})
}

// LatestRecord returns the most recent record for a company.
func (b *BoltPersistence) LatestRecord(ctx context.Context, view, companyID string) (core.FeatureRecord, error) {
	var record core.FeatureRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		latest := tx.Bucket([]byte(latestBucketPrefix + view))
		if latest == nil {
			return fmt.Errorf("%w: %s", core.ErrViewNotFound, view)
		}
		data := latest.Get([]byte(companyID))
		if data == nil {
			return fmt.Errorf("%w: %s in view %s", core.ErrCompanyNotFound, companyID, view)
		}
		return json.Unmarshal(data, &record)
	})
	return record, err
}

// History returns record versions in [start, end] for the given companies,
// ordered by (company_id, timestamp ascending). A single read transaction
// spans all companies, so the result is a consistent snapshot.
func (b *BoltPersistence) History(ctx context.Context, view string, companyIDs []string, start, end time.Time) ([]core.FeatureRecord, error) {
	ids := make([]string, len(companyIDs))
	copy(ids, companyIDs)
	sort.Strings(ids)

	var out []core.FeatureRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		history := tx.Bucket([]byte(historyBucketPrefix + view))
		if history == nil {
			return fmt.Errorf("%w: %s", core.ErrViewNotFound, view)
		}

		cursor := history.Cursor()
		for _, id := range ids {
			prefix := append([]byte(id), 0x00)
			seek := historyKey(id, start)
			for k, v := cursor.Seek(seek); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
				var rec core.FeatureRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("failed to unmarshal record: %w", err)
				}
				if rec.Timestamp.After(end) {
					break
				}
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

// ListCompanies returns the IDs of all companies with records in the view.
func (b *BoltPersistence) ListCompanies(ctx context.Context, view string) ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		latest := tx.Bucket([]byte(latestBucketPrefix + view))
		if latest == nil {
			return fmt.Errorf("%w: %s", core.ErrViewNotFound, view)
		}
		return latest.ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// ViewStats computes aggregate statistics for a view.
func (b *BoltPersistence) ViewStats(ctx context.Context, view string) (core.FeatureStats, error) {
	var stats core.FeatureStats
	err := b.db.View(func(tx *bbolt.Tx) error {
		latest := tx.Bucket([]byte(latestBucketPrefix + view))
		history := tx.Bucket([]byte(historyBucketPrefix + view))
		if latest == nil || history == nil {
			return fmt.Errorf("%w: %s", core.ErrViewNotFound, view)
		}

		stats.TotalCompanies = latest.Stats().KeyN
		stats.FeatureCount = history.Stats().KeyN

		return latest.ForEach(func(k, v []byte) error {
			var rec core.FeatureRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			if rec.Timestamp.After(stats.LastUpdated) {
				stats.LastUpdated = rec.Timestamp
			}
			return nil
		})
	})
	if err != nil {
		return core.FeatureStats{}, err
	}

	if info, statErr := os.Stat(b.path); statErr == nil {
		stats.StorageSize = info.Size()
	}
	return stats, nil
}

// SaveModelVersion stores a model version.
func (b *BoltPersistence) SaveModelVersion(ctx context.Context, version core.ModelVersion) error {
	data, err := json.Marshal(version)
	if err != nil {
		return fmt.Errorf("failed to marshal model version: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(modelsBucket)).Put([]byte(version.VersionID), data)
	})
}

// ListModelVersions returns all stored model versions.
func (b *BoltPersistence) ListModelVersions(ctx context.Context) ([]core.ModelVersion, error) {
	var versions []core.ModelVersion
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(modelsBucket)).ForEach(func(k, v []byte) error {
			var mv core.ModelVersion
			if err := json.Unmarshal(v, &mv); err != nil {
				return fmt.Errorf("failed to unmarshal model version %s: %w", k, err)
			}
			versions = append(versions, mv)
			return nil
		})
	})
	return versions, err
}

// Close closes the underlying BoltDB database.
func (b *BoltPersistence) Close() error {
	return b.db.Close()
}
