package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mediafetch "github.com/wolfeidau/mediafetch"
)

func TestBatchFetchAll(t *testing.T) {
	upstream := &fakeUpstream{}
	f, l, _ := newTestFetcher(t, upstream)

	assets := []mediafetch.Asset{
		testAsset(1, []string{"a"}),
		testAsset(2, []string{"b"}),
		testAsset(3, []string{"c"}),
	}

	batch := f.BatchFetch(context.Background(), assets, BatchOptions{})
	require.Len(t, batch.Results, 3)
	require.Equal(t, 3, batch.Fetched)
	require.Equal(t, 0, batch.Reused)
	require.Equal(t, 0, batch.Failed)
	require.Equal(t, 3, l.Len())

	// Result order matches input order
	for i, want := range []int64{1, 2, 3} {
		require.Equal(t, want, batch.Results[i].AssetID)
	}
}

func TestBatchTruncatesToMaxVideos(t *testing.T) {
	upstream := &fakeUpstream{}
	f, _, _ := newTestFetcher(t, upstream)

	var assets []mediafetch.Asset
	for id := int64(1); id <= 5; id++ {
		assets = append(assets, testAsset(id, []string{"x"}))
	}

	batch := f.BatchFetch(context.Background(), assets, BatchOptions{MaxVideos: 2})
	require.Len(t, batch.Results, 2)
	require.Equal(t, 2, upstream.callCount())
	require.Equal(t, []int64{1, 2}, []int64{batch.Results[0].AssetID, batch.Results[1].AssetID})
}

func TestBatchMinDimensionsFilter(t *testing.T) {
	upstream := &fakeUpstream{}
	f, _, _ := newTestFetcher(t, upstream)

	small := testAsset(1, []string{"small"}, mediafetch.Rendition{
		ID: 10, Quality: mediafetch.QualityMobile, FileType: "video/mp4", Width: 640, Height: 360, Link: "https://cdn.example.com/small",
	})
	small.Width, small.Height = 640, 360
	big := testAsset(2, []string{"big"})

	batch := f.BatchFetch(context.Background(), []mediafetch.Asset{small, big}, BatchOptions{
		Filter: &Filter{MinWidth: 1280, MinHeight: 720},
	})
	require.Len(t, batch.Results, 1)
	require.Equal(t, int64(2), batch.Results[0].AssetID)
}

func TestBatchFPSFilter(t *testing.T) {
	upstream := &fakeUpstream{}
	f, _, _ := newTestFetcher(t, upstream)

	slow := testAsset(1, []string{"slow"}, mediafetch.Rendition{
		ID: 10, Quality: mediafetch.QualityHD, FileType: "video/mp4", Width: 1920, Height: 1080, FPS: 30, Link: "https://cdn.example.com/30",
	})
	fast := testAsset(2, []string{"fast"}, mediafetch.Rendition{
		ID: 20, Quality: mediafetch.QualityHD, FileType: "video/mp4", Width: 1920, Height: 1080, FPS: 60, Link: "https://cdn.example.com/60",
	})

	batch := f.BatchFetch(context.Background(), []mediafetch.Asset{slow, fast}, BatchOptions{
		Filter: &Filter{FPS: 60},
	})
	require.Len(t, batch.Results, 1)
	require.Equal(t, int64(2), batch.Results[0].AssetID)
}

func TestBatchExcludeIDs(t *testing.T) {
	upstream := &fakeUpstream{}
	f, _, _ := newTestFetcher(t, upstream)

	assets := []mediafetch.Asset{
		testAsset(1, []string{"a"}),
		testAsset(2, []string{"b"}),
	}

	batch := f.BatchFetch(context.Background(), assets, BatchOptions{
		Filter: &Filter{ExcludeIDs: []int64{1}},
	})
	require.Len(t, batch.Results, 1)
	require.Equal(t, int64(2), batch.Results[0].AssetID)
}

func TestBatchReusesLedgerEntries(t *testing.T) {
	upstream := &fakeUpstream{}
	f, l, _ := newTestFetcher(t, upstream)

	// Pre-fetch asset 2 so the batch finds it in the ledger.
	prefetched := testAsset(2, []string{"b"})
	require.Equal(t, StatusSuccess, f.Fetch(context.Background(), &prefetched, Options{}).Status)
	require.Equal(t, 1, upstream.callCount())

	assets := []mediafetch.Asset{
		testAsset(1, []string{"a"}),
		prefetched,
		testAsset(3, []string{"c"}),
	}

	batch := f.BatchFetch(context.Background(), assets, BatchOptions{MaxVideos: 2})

	// Two results: one new transfer, one reused. Exactly one more
	// upstream call happened.
	require.Len(t, batch.Results, 2)
	require.Equal(t, 1, batch.Fetched)
	require.Equal(t, 1, batch.Reused)
	require.Equal(t, 0, batch.Failed)
	require.Equal(t, 2, upstream.callCount())

	require.Equal(t, int64(1), batch.Results[0].AssetID)
	require.False(t, batch.Results[0].Reused)
	require.Equal(t, int64(2), batch.Results[1].AssetID)
	require.True(t, batch.Results[1].Reused)

	require.Equal(t, 2, l.Len())
}

func TestBatchConcurrencyBound(t *testing.T) {
	upstream := &fakeUpstream{delay: 30 * time.Millisecond}
	f, _, _ := newTestFetcher(t, upstream, WithConcurrency(2))

	var assets []mediafetch.Asset
	for id := int64(1); id <= 6; id++ {
		assets = append(assets, testAsset(id, []string{"x"}))
	}

	batch := f.BatchFetch(context.Background(), assets, BatchOptions{})
	require.Equal(t, 6, batch.Fetched)
	require.LessOrEqual(t, upstream.maxInFlight, 2)
}

func TestBatchFailureDoesNotAbortSiblings(t *testing.T) {
	upstream := &fakeUpstream{
		failURLs: map[string]error{"https://cdn.example.com/bad": errors.New("boom")},
	}
	f, l, _ := newTestFetcher(t, upstream)

	bad := testAsset(1, []string{"bad"}, mediafetch.Rendition{
		ID: 10, Quality: mediafetch.QualityHD, FileType: "video/mp4", Width: 1920, Height: 1080, Link: "https://cdn.example.com/bad",
	})
	good := testAsset(2, []string{"good"})

	batch := f.BatchFetch(context.Background(), []mediafetch.Asset{bad, good}, BatchOptions{})
	require.Len(t, batch.Results, 2)
	require.Equal(t, 1, batch.Fetched)
	require.Equal(t, 1, batch.Failed)

	require.Equal(t, StatusFailed, batch.Results[0].Status)
	require.Equal(t, StatusSuccess, batch.Results[1].Status)
	require.Equal(t, 1, l.Len())
}
