package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/wolfeidau/mediafetch/backend"
)

const snapshotPrefix = "snapshots"

// snapshotLocked compresses the current on-disk ledger into the snapshot
// directory and prunes old snapshots down to keepSnapshots. Called with
// the ledger mutex held, before a full rewrite.
func (l *Ledger) snapshotLocked(ctx context.Context) error {
	rc, err := l.backend.Read(ctx, FileKey)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil // nothing on disk yet
		}
		return fmt.Errorf("reading ledger for snapshot: %w", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("reading ledger for snapshot: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}

	key := fmt.Sprintf("%s/ledger-%s.json.zst", snapshotPrefix, l.now().UTC().Format("20060102T150405.000000000"))
	if err := l.backend.Write(ctx, key, &buf); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	return l.pruneSnapshots(ctx)
}

// pruneSnapshots removes the oldest snapshots beyond the retention count.
// Snapshot keys embed a sortable timestamp, so lexical order is age order.
func (l *Ledger) pruneSnapshots(ctx context.Context) error {
	keys, err := l.backend.List(ctx, snapshotPrefix)
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	if len(keys) <= l.keepSnapshots {
		return nil
	}
	for _, key := range keys[:len(keys)-l.keepSnapshots] {
		if err := l.backend.Delete(ctx, key); err != nil {
			l.logger.Warn("failed to prune snapshot", "key", key, "error", err)
		}
	}
	return nil
}

// ReadSnapshot decompresses a snapshot's ledger bytes.
func (l *Ledger) ReadSnapshot(ctx context.Context, key string) ([]byte, error) {
	rc, err := l.backend.Read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	defer func() { _ = rc.Close() }()

	dec, err := zstd.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	return data, nil
}

// Snapshots lists snapshot keys, oldest first.
func (l *Ledger) Snapshots(ctx context.Context) ([]string, error) {
	return l.backend.List(ctx, snapshotPrefix)
}
