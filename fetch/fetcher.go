// Package fetch implements the download orchestrator: a bounded-
// parallelism fetch pipeline with idempotent skip-if-exists semantics
// backed by the metadata ledger.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/backend"
	"github.com/wolfeidau/mediafetch/ledger"
	"github.com/wolfeidau/mediafetch/telemetry"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultConcurrency is the batch concurrency gate capacity.
	DefaultConcurrency = 3

	// DefaultTransferTimeout bounds a single rendition transfer.
	DefaultTransferTimeout = 60 * time.Second
)

// Status reports the outcome of a fetch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Upstream streams rendition bytes from the media provider.
type Upstream interface {
	FetchFile(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// Options configures a single fetch.
type Options struct {
	// Quality is the desired tier. Defaults to hd.
	Quality mediafetch.Quality

	// Filename overrides the synthesized destination filename.
	Filename string

	// Category places the file in a category subdirectory of the
	// download root.
	Category string
}

// Result is the outcome of fetching one asset. Failures are reported in
// the Status and Error fields rather than raised, so batch callers can
// inspect each element independently.
type Result struct {
	Status   Status        `json:"status"`
	AssetID  int64         `json:"asset_id"`
	Path     string        `json:"path"`
	Filename string        `json:"filename"`
	Size     int64         `json:"size"`
	Elapsed  time.Duration `json:"elapsed"`

	// Derived rendition metadata.
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Duration    float64 `json:"duration"`
	FPS         float64 `json:"fps"`
	Codec       string  `json:"codec"`
	BitrateKbps int64   `json:"bitrate_kbps"`

	// Reused is true when the result was reconstructed from an existing
	// ledger record without touching the network.
	Reused bool `json:"reused"`

	Error string `json:"error,omitempty"`
}

// Fetcher is the download orchestrator.
type Fetcher struct {
	ledger   *ledger.Ledger
	backend  backend.WriterBackend
	upstream Upstream
	logger   *slog.Logger
	now      func() time.Time

	timeout time.Duration
	sem     *semaphore.Weighted
	group   singleflight.Group
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithConcurrency sets the batch concurrency gate capacity.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTransferTimeout sets the per-transfer timeout.
func WithTransferTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// New creates a Fetcher writing into the given backend and recording into
// the given ledger.
func New(l *ledger.Ledger, b backend.WriterBackend, u Upstream, opts ...Option) *Fetcher {
	f := &Fetcher{
		ledger:   l,
		backend:  b,
		upstream: u,
		logger:   slog.Default(),
		now:      time.Now,
		timeout:  DefaultTransferTimeout,
		sem:      semaphore.NewWeighted(DefaultConcurrency),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads one asset. The operation is idempotent at asset-id
// granularity: when the ledger already holds a record for the id, the
// result is reconstructed from it with zero elapsed time and no network
// or filesystem activity. Concurrent calls for the same id collapse into
// a single transfer.
func (f *Fetcher) Fetch(ctx context.Context, asset *mediafetch.Asset, opts Options) *Result {
	if rec, ok := f.ledger.Get(asset.ID); ok {
		telemetry.RecordFetch(ctx, "success", 0, 0, true)
		return resultFromRecord(rec)
	}

	v, _, _ := f.group.Do(strconv.FormatInt(asset.ID, 10), func() (any, error) {
		return f.fetchOne(ctx, asset, opts), nil
	})
	return v.(*Result)
}

func (f *Fetcher) fetchOne(ctx context.Context, asset *mediafetch.Asset, opts Options) *Result {
	start := f.now()

	// Another caller may have completed while we waited on singleflight.
	if rec, ok := f.ledger.Get(asset.ID); ok {
		return resultFromRecord(rec)
	}

	if opts.Quality == "" {
		opts.Quality = mediafetch.DefaultQuality
	}

	rendition, err := selectRendition(asset, opts.Quality)
	if err != nil {
		return f.failure(ctx, asset.ID, start, err)
	}

	filename := opts.Filename
	if filename == "" {
		filename = buildFilename(asset, start)
	}
	destKey := destinationKey(opts.Category, filename)

	size, err := f.transfer(ctx, rendition.Link, destKey)
	if err != nil {
		return f.failure(ctx, asset.ID, start, fmt.Errorf("transfer failed: %w", err))
	}

	rec := mediafetch.Record{
		AssetID:   asset.ID,
		Filename:  filename,
		Path:      destKey,
		Size:      size,
		FetchedAt: start,
		Category:  opts.Category,
		Provider:  asset.Attributes(),
	}
	if err := f.ledger.Append(ctx, rec); err != nil {
		return f.failure(ctx, asset.ID, start, fmt.Errorf("recording fetch: %w", err))
	}

	elapsed := f.now().Sub(start)
	telemetry.RecordFetch(ctx, "success", size, elapsed, false)

	f.logger.Info("fetched asset",
		"asset_id", asset.ID,
		"quality", rendition.Quality,
		"path", destKey,
		"size", size,
		"elapsed", elapsed,
	)

	return &Result{
		Status:      StatusSuccess,
		AssetID:     asset.ID,
		Path:        destKey,
		Filename:    filename,
		Size:        size,
		Elapsed:     elapsed,
		Width:       rendition.Width,
		Height:      rendition.Height,
		Duration:    asset.Duration,
		FPS:         rendition.FPS,
		Codec:       codecForFileType(rendition.FileType),
		BitrateKbps: bitrateKbps(size, asset.Duration),
	}
}

// transfer streams the rendition to the destination key and waits for the
// write to become durable. The attempt is bounded by the transfer timeout.
func (f *Fetcher) transfer(parent context.Context, link, destKey string) (int64, error) {
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	rc, _, err := f.upstream.FetchFile(ctx, link)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	w, err := f.backend.Writer(ctx, destKey)
	if err != nil {
		return 0, err
	}

	if _, err := io.Copy(w, rc); err != nil {
		if aborter, ok := w.(interface{ Abort() error }); ok {
			_ = aborter.Abort()
		}
		return 0, err
	}

	// Close flushes to durable storage; only then is the file visible.
	if err := w.Close(); err != nil {
		return 0, err
	}

	// Final byte size comes from the written file, not the upstream
	// content length.
	size, err := f.backend.Size(ctx, destKey)
	if err != nil {
		return 0, err
	}
	return size, nil
}

func (f *Fetcher) failure(ctx context.Context, assetID int64, start time.Time, err error) *Result {
	elapsed := f.now().Sub(start)
	telemetry.RecordFetch(ctx, "error", 0, elapsed, false)

	f.logger.Warn("fetch failed", "asset_id", assetID, "error", err)

	return &Result{
		Status:  StatusFailed,
		AssetID: assetID,
		Elapsed: elapsed,
		Error:   err.Error(),
	}
}

// resultFromRecord reconstructs a success result from an existing ledger
// record. Elapsed is zero: no work was performed.
func resultFromRecord(rec mediafetch.Record) *Result {
	return &Result{
		Status:      StatusSuccess,
		AssetID:     rec.AssetID,
		Path:        rec.Path,
		Filename:    rec.Filename,
		Size:        rec.Size,
		Width:       rec.Provider.Width,
		Height:      rec.Provider.Height,
		Duration:    rec.Provider.Duration,
		BitrateKbps: bitrateKbps(rec.Size, rec.Provider.Duration),
		Reused:      true,
	}
}
