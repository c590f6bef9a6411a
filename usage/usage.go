// Package usage records fetch and search activity in a small bbolt
// database beside the download root. It is an observability aid for the
// front end; nothing in the core depends on it.
package usage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// DefaultFilename is the usage database filename under the download root.
const DefaultFilename = "usage.db"

var (
	bucketFetches  = []byte("fetches")
	bucketSearches = []byte("searches")
)

// FetchEntry tracks activity for one asset id.
type FetchEntry struct {
	Count  int64     `json:"count"`
	Bytes  int64     `json:"bytes"`
	LastAt time.Time `json:"last_at"`
}

// SearchEntry tracks activity for one query string.
type SearchEntry struct {
	Count  int64     `json:"count"`
	LastAt time.Time `json:"last_at"`
}

// Recorder is the bbolt-backed usage log.
type Recorder struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Open opens (or creates) the usage database at the given path.
func Open(path string, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening usage database: %w", err)
	}
	r.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketFetches, bucketSearches} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	r.logger.Debug("opened usage database", "path", path)
	return r, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// RecordFetch increments the fetch counter for an asset.
func (r *Recorder) RecordFetch(_ context.Context, assetID int64, size int64) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFetches)

		key := assetKey(assetID)
		var entry FetchEntry
		if val := bucket.Get(key); val != nil {
			if err := json.Unmarshal(val, &entry); err != nil {
				return fmt.Errorf("decoding fetch entry: %w", err)
			}
		}

		entry.Count++
		entry.Bytes += size
		entry.LastAt = r.now()

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("encoding fetch entry: %w", err)
		}
		return bucket.Put(key, data)
	})
}

// RecordSearch increments the search counter for a query.
func (r *Recorder) RecordSearch(_ context.Context, query string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSearches)

		var entry SearchEntry
		if val := bucket.Get([]byte(query)); val != nil {
			if err := json.Unmarshal(val, &entry); err != nil {
				return fmt.Errorf("decoding search entry: %w", err)
			}
		}

		entry.Count++
		entry.LastAt = r.now()

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("encoding search entry: %w", err)
		}
		return bucket.Put([]byte(query), data)
	})
}

// Stats summarizes recorded activity.
type Stats struct {
	TotalFetches    int64 `json:"total_fetches"`
	TotalBytes      int64 `json:"total_bytes"`
	TotalSearches   int64 `json:"total_searches"`
	DistinctAssets  int64 `json:"distinct_assets"`
	DistinctQueries int64 `json:"distinct_queries"`
}

// GetStats returns aggregate usage statistics.
func (r *Recorder) GetStats(_ context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketFetches).ForEach(func(_, val []byte) error {
			var entry FetchEntry
			if err := json.Unmarshal(val, &entry); err != nil {
				return fmt.Errorf("decoding fetch entry: %w", err)
			}
			stats.DistinctAssets++
			stats.TotalFetches += entry.Count
			stats.TotalBytes += entry.Bytes
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(bucketSearches).ForEach(func(_, val []byte) error {
			var entry SearchEntry
			if err := json.Unmarshal(val, &entry); err != nil {
				return fmt.Errorf("decoding search entry: %w", err)
			}
			stats.DistinctQueries++
			stats.TotalSearches += entry.Count
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// assetKey encodes an asset id as a big-endian key so ids sort naturally.
func assetKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}
