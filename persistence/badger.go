package persistence

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/synapselabs/partnermatch/core"
)

const (
	// Key prefixes for different data types
	viewKeyPrefix    = "w:"
	modelKeyPrefix   = "m:"
	latestKeyPrefix  = "l:"
	historyKeyPrefix = "h:"
)

// BadgerPersistence implements persistence using BadgerDB. Layout mirrors
// the bolt backend: a latest key per (view, company) and history keys
// ordered by big-endian unix-nano timestamp. Badger transactions give both
// the serialized timestamp compare on writes and snapshot reads for History.
type BadgerPersistence struct {
	db   *badger.DB
	path string
}

// NewBadgerPersistence creates a new BadgerDB persistence layer
func NewBadgerPersistence(dbPath string, syncWrites bool) (*BadgerPersistence, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable logging for cleaner output
	opts.SyncWrites = syncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dbPath, err)
	}

	return &BadgerPersistence{db: db, path: dbPath}, nil
}

func makeLatestKey(view, companyID string) []byte {
	return []byte(latestKeyPrefix + view + ":" + companyID)
}

func makeHistoryKey(view, companyID string, ts time.Time) []byte {
	key := make([]byte, 0, len(historyKeyPrefix)+len(view)+len(companyID)+10)
	key = append(key, historyKeyPrefix...)
	key = append(key, view...)
	key = append(key, ':')
	key = append(key, companyID...)
	key = append(key, 0x00)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	return append(key, buf[:]...)
}

// CreateView registers a feature view.
func (b *BadgerPersistence) CreateView(ctx context.Context, view core.FeatureView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}
	key := []byte(viewKeyPrefix + view.Name)

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", core.ErrViewExists, view.Name)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// GetView retrieves a feature view by name.
func (b *BadgerPersistence) GetView(ctx context.Context, name string) (core.FeatureView, error) {
	var view core.FeatureView
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(viewKeyPrefix + name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", core.ErrViewNotFound, name)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &view)
		})
	})
	return view, err
}

// ListViews returns all registered feature views.
func (b *BadgerPersistence) ListViews(ctx context.Context) ([]core.FeatureView, error) {
	var views []core.FeatureView
	prefix := []byte(viewKeyPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var view core.FeatureView
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &view)
			})
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	return views, err
}

// PutRecord appends a record version. The timestamp compare and both key
// writes commit in one transaction.
func (b *BadgerPersistence) PutRecord(ctx context.Context, record core.FeatureRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	latestKey := makeLatestKey(record.FeatureView, record.CompanyID)

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(viewKeyPrefix + record.FeatureView)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", core.ErrViewNotFound, record.FeatureView)
			}
			return err
		}

		item, err := txn.Get(latestKey)
		if err == nil {
			var stored core.FeatureRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal stored record: %w", err)
			}
			if !record.Timestamp.After(stored.Timestamp) {
				return fmt.Errorf("%w: company %s has %s, got %s", core.ErrOutOfOrderWrite,
					record.CompanyID, stored.Timestamp.Format(time.RFC3339Nano),
					record.Timestamp.Format(time.RFC3339Nano))
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(latestKey, data); err != nil {
			return err
		}
		return txn.Set(makeHistoryKey(record.FeatureView, record.CompanyID, record.Timestamp), data)
	})
}

// LatestRecord returns the most recent record for a company.
func (b *BadgerPersistence) LatestRecord(ctx context.Context, view, companyID string) (core.FeatureRecord, error) {
	var record core.FeatureRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeLatestKey(view, companyID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s in view %s", core.ErrCompanyNotFound, companyID, view)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	return record, err
}

// History returns record versions in [start, end] for the given companies in
// (company_id, timestamp) order, all under one snapshot transaction.
func (b *BadgerPersistence) History(ctx context.Context, view string, companyIDs []string, start, end time.Time) ([]core.FeatureRecord, error) {
	ids := make([]string, len(companyIDs))
	copy(ids, companyIDs)
	sort.Strings(ids)

	var out []core.FeatureRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, id := range ids {
			prefix := append([]byte(historyKeyPrefix+view+":"+id), 0x00)
			for it.Seek(makeHistoryKey(view, id, start)); it.ValidForPrefix(prefix); it.Next() {
				var rec core.FeatureRecord
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				})
				if err != nil {
					return err
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
func (b *BadgerPersistence) ListCompanies(ctx context.Context, view string) ([]string, error) {
	var ids []string
	prefix := []byte(latestKeyPrefix + view + ":")
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

// ViewStats computes aggregate statistics for a view.
func (b *BadgerPersistence) ViewStats(ctx context.Context, view string) (core.FeatureStats, error) {
	var stats core.FeatureStats
	latestPrefix := []byte(latestKeyPrefix + view + ":")
	historyPrefix := []byte(historyKeyPrefix + view + ":")

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(latestPrefix); it.ValidForPrefix(latestPrefix); it.Next() {
			stats.TotalCompanies++
			var rec core.FeatureRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if rec.Timestamp.After(stats.LastUpdated) {
				stats.LastUpdated = rec.Timestamp
			}
			stats.StorageSize += it.Item().EstimatedSize()
		}

		countOpts := badger.DefaultIteratorOptions
		countOpts.PrefetchValues = false
		counter := txn.NewIterator(countOpts)
		defer counter.Close()
		for counter.Seek(historyPrefix); counter.ValidForPrefix(historyPrefix); counter.Next() {
			stats.FeatureCount++
		}
		return nil
	})
	return stats, err
}

// SaveModelVersion stores a model version.
func (b *BadgerPersistence) SaveModelVersion(ctx context.Context, version core.ModelVersion) error {
	data, err := json.Marshal(version)
	if err != nil {
		return fmt.Errorf("failed to marshal model version: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(modelKeyPrefix+version.VersionID), data)
	})
}

// ListModelVersions returns all stored model versions.
func (b *BadgerPersistence) ListModelVersions(ctx context.Context) ([]core.ModelVersion, error) {
	var versions []core.ModelVersion
	prefix := []byte(modelKeyPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var mv core.ModelVersion
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &mv)
			})
			if err != nil {
				return err
			}
			versions = append(versions, mv)
		}
		return nil
	})
	return versions, err
}

// Close closes the underlying BadgerDB database.
func (b *BadgerPersistence) Close() error {
	return b.db.Close()
}
