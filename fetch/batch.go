package fetch

import (
	"context"
	"sync"

	mediafetch "github.com/wolfeidau/mediafetch"
)

// DefaultMaxVideos is the batch item cap when none is given.
const DefaultMaxVideos = 10

// Filter restricts which batch candidates are fetched.
type Filter struct {
	// MinWidth drops assets whose largest rendition width is below it.
	MinWidth int

	// MinHeight drops assets whose largest rendition height is below it.
	MinHeight int

	// FPS drops assets with no rendition at this frame rate.
	FPS float64

	// ExcludeIDs drops assets by id.
	ExcludeIDs []int64
}

// BatchOptions configures a batch fetch.
type BatchOptions struct {
	Options

	// MaxVideos caps how many candidates are processed. Default 10.
	MaxVideos int

	// Filter is applied before truncation.
	Filter *Filter
}

// BatchResult is the ordered outcome of a batch fetch.
type BatchResult struct {
	// Results holds one entry per processed candidate, preserving the
	// truncated input order.
	Results []*Result `json:"results"`

	// Fetched counts new transfers; Reused counts ledger hits.
	Fetched int `json:"fetched"`
	Reused  int `json:"reused"`
	Failed  int `json:"failed"`
}

type candidate struct {
	asset  mediafetch.Asset
	reused bool
}

// BatchFetch filters the candidate list, truncates it to the item cap,
// and fetches the survivors under the concurrency gate. Candidates
// already in the ledger are never re-fetched: they surface as reused
// results reconstructed from their records. One item's failure never
// aborts its siblings, and the result order matches the truncated input
// order.
func (f *Fetcher) BatchFetch(ctx context.Context, assets []mediafetch.Asset, opts BatchOptions) *BatchResult {
	maxVideos := opts.MaxVideos
	if maxVideos <= 0 {
		maxVideos = DefaultMaxVideos
	}

	selected := f.filterCandidates(assets, opts.Filter)
	if len(selected) > maxVideos {
		selected = selected[:maxVideos]
	}

	results := make([]*Result, len(selected))
	var wg sync.WaitGroup
	for i := range selected {
		c := selected[i]
		if c.reused {
			// Ledger hit: no permit needed, nothing to transfer.
			results[i] = f.Fetch(ctx, &c.asset, opts.Options)
			continue
		}

		wg.Add(1)
		go func(i int, asset mediafetch.Asset) {
			defer wg.Done()

			if err := f.sem.Acquire(ctx, 1); err != nil {
				results[i] = f.failure(ctx, asset.ID, f.now(), err)
				return
			}
			defer f.sem.Release(1)

			results[i] = f.Fetch(ctx, &asset, opts.Options)
		}(i, c.asset)
	}
	wg.Wait()

	batch := &BatchResult{Results: results}
	for _, r := range results {
		switch {
		case r.Status != StatusSuccess:
			batch.Failed++
		case r.Reused:
			batch.Reused++
		default:
			batch.Fetched++
		}
	}

	f.logger.Info("batch fetch complete",
		"candidates", len(assets),
		"selected", len(selected),
		"fetched", batch.Fetched,
		"reused", batch.Reused,
		"failed", batch.Failed,
	)
	return batch
}

// filterCandidates applies the batch filters in order: ledger dedup,
// minimum dimensions, preferred frame rate, explicit excludes. Assets
// already in the ledger bypass the remaining filters; they are kept as
// reused candidates so the caller still sees a result for them.
func (f *Fetcher) filterCandidates(assets []mediafetch.Asset, filter *Filter) []candidate {
	var out []candidate
	for _, asset := range assets {
		if f.ledger.Has(asset.ID) {
			out = append(out, candidate{asset: asset, reused: true})
			continue
		}
		if filter != nil && !matchesFilter(&asset, filter) {
			continue
		}
		out = append(out, candidate{asset: asset})
	}
	return out
}

func matchesFilter(asset *mediafetch.Asset, filter *Filter) bool {
	maxW, maxH := asset.MaxDimensions()
	if filter.MinWidth > 0 && maxW < filter.MinWidth {
		return false
	}
	if filter.MinHeight > 0 && maxH < filter.MinHeight {
		return false
	}
	if filter.FPS > 0 && !asset.HasFPS(filter.FPS) {
		return false
	}
	for _, id := range filter.ExcludeIDs {
		if asset.ID == id {
			return false
		}
	}
	return true
}
