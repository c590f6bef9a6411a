// Package ledger maintains the durable record of every asset ever
// fetched. The on-disk shape is a single JSON array of records under the
// download root; it is the sole source of truth for "has this asset
// already been fetched".
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/backend"
)

const (
	// FileKey is the ledger's location relative to the download root.
	FileKey = "ledger.json"
)

// ErrCorrupt is returned when the ledger file exists but cannot be parsed.
var ErrCorrupt = errors.New("ledger: corrupt")

// Ledger is the durable index of fetched assets. All read-modify-write
// sequences are serialized behind a single mutex so near-simultaneous
// batch fetch completions cannot lose updates.
type Ledger struct {
	backend backend.Backend
	logger  *slog.Logger
	now     func() time.Time

	keepSnapshots int

	mu      sync.Mutex
	records []mediafetch.Record
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger for the ledger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithSnapshots sets how many compressed snapshots of previous ledger
// contents are retained across full rewrites. Zero disables snapshots.
func WithSnapshots(keep int) Option {
	return func(l *Ledger) {
		l.keepSnapshots = keep
	}
}

// Open loads the ledger from the backend, or starts an empty one if no
// ledger file exists yet.
func Open(ctx context.Context, b backend.Backend, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		backend:       b,
		logger:        slog.Default(),
		now:           time.Now,
		keepSnapshots: 5,
	}
	for _, opt := range opts {
		opt(l)
	}

	rc, err := b.Read(ctx, FileKey)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return l, nil
		}
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	l.logger.Debug("opened ledger", "records", len(l.records))
	return l, nil
}

// Has reports whether the ledger holds a record for the given asset id.
func (l *Ledger) Has(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indexOf(id) >= 0
}

// Get returns the record for the given asset id.
func (l *Ledger) Get(id int64) (mediafetch.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexOf(id); i >= 0 {
		return l.records[i], true
	}
	return mediafetch.Record{}, false
}

// Records returns a copy of all records in ledger order.
func (l *Ledger) Records() []mediafetch.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]mediafetch.Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Append adds a record and persists the ledger. Any stale record for the
// same asset id is removed first, preserving the one-record-per-id
// invariant.
func (l *Ledger) Append(ctx context.Context, rec mediafetch.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexOf(rec.AssetID); i >= 0 {
		l.records = append(l.records[:i], l.records[i+1:]...)
	}
	l.records = append(l.records, rec)

	if err := l.persistLocked(ctx); err != nil {
		return err
	}

	l.logger.Debug("appended ledger record",
		"asset_id", rec.AssetID,
		"path", rec.Path,
		"size", rec.Size,
	)
	return nil
}

// Rewrite replaces the full record set and persists it exactly once. The
// previous on-disk contents are preserved as a compressed snapshot before
// the rewrite.
func (l *Ledger) Rewrite(ctx context.Context, records []mediafetch.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.keepSnapshots > 0 {
		if err := l.snapshotLocked(ctx); err != nil {
			// A failed snapshot must not block the rewrite.
			l.logger.Warn("ledger snapshot failed", "error", err)
		}
	}

	l.records = make([]mediafetch.Record, len(records))
	copy(l.records, records)

	return l.persistLocked(ctx)
}

// Stats summarizes the ledger contents.
type Stats struct {
	TotalRecords int   `json:"total_records"`
	TotalBytes   int64 `json:"total_bytes"`
}

// GetStats returns aggregate statistics.
func (l *Ledger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{TotalRecords: len(l.records)}
	for _, rec := range l.records {
		stats.TotalBytes += rec.Size
	}
	return stats
}

func (l *Ledger) indexOf(id int64) int {
	for i := range l.records {
		if l.records[i].AssetID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	data, err := Marshal(l.records)
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := l.backend.Write(ctx, FileKey, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	return nil
}

// Marshal renders records in the canonical on-disk form. The encoding is
// deterministic: the same records always produce the same bytes, so a
// load/save cycle round-trips byte for byte.
func Marshal(records []mediafetch.Record) ([]byte, error) {
	if records == nil {
		records = []mediafetch.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
