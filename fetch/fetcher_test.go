package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/backend"
	"github.com/wolfeidau/mediafetch/ledger"
)

// fakeUpstream serves canned bytes and tracks call concurrency.
type fakeUpstream struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int

	delay    time.Duration
	data     []byte
	failURLs map[string]error
}

func (u *fakeUpstream) FetchFile(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	u.mu.Lock()
	u.calls++
	u.inFlight++
	if u.inFlight > u.maxInFlight {
		u.maxInFlight = u.inFlight
	}
	err := u.failURLs[url]
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.inFlight--
		u.mu.Unlock()
	}()

	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	if err != nil {
		return nil, 0, err
	}

	data := u.data
	if data == nil {
		data = []byte("video-bytes")
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (u *fakeUpstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func testAsset(id int64, tags []string, renditions ...mediafetch.Rendition) mediafetch.Asset {
	if renditions == nil {
		renditions = []mediafetch.Rendition{
			{ID: id * 10, Quality: mediafetch.QualityHD, FileType: "video/mp4", Width: 1920, Height: 1080, FPS: 30, Link: "https://cdn.example.com/hd"},
		}
	}
	return mediafetch.Asset{
		ID:         id,
		Width:      1920,
		Height:     1080,
		Duration:   20,
		Tags:       tags,
		Uploader:   "someone",
		Renditions: renditions,
	}
}

func newTestFetcher(t *testing.T, upstream Upstream, opts ...Option) (*Fetcher, *ledger.Ledger, *backend.Memory) {
	t.Helper()
	b := backend.NewMemory()
	l, err := ledger.Open(context.Background(), b)
	require.NoError(t, err)
	return New(l, b, upstream, opts...), l, b
}

func TestFetchSuccess(t *testing.T) {
	upstream := &fakeUpstream{data: []byte("0123456789")}
	f, l, b := newTestFetcher(t, upstream)

	asset := testAsset(42, []string{"Ocean Waves", "sunset"})
	result := f.Fetch(context.Background(), &asset, Options{})

	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, int64(42), result.AssetID)
	require.Equal(t, int64(10), result.Size)
	require.Equal(t, 1920, result.Width)
	require.Equal(t, "h264", result.Codec)
	require.False(t, result.Reused)

	// File landed in the backend under the synthesized name
	size, err := b.Size(context.Background(), result.Path)
	require.NoError(t, err)
	require.Equal(t, int64(10), size)

	// Ledger holds the record
	rec, ok := l.Get(42)
	require.True(t, ok)
	require.Equal(t, result.Path, rec.Path)
	require.Equal(t, []string{"Ocean Waves", "sunset"}, rec.Provider.Tags)
}

func TestFetchIdempotent(t *testing.T) {
	upstream := &fakeUpstream{}
	f, l, _ := newTestFetcher(t, upstream)

	asset := testAsset(7, []string{"city"})
	first := f.Fetch(context.Background(), &asset, Options{})
	require.Equal(t, StatusSuccess, first.Status)
	require.Equal(t, 1, upstream.callCount())

	second := f.Fetch(context.Background(), &asset, Options{})
	require.Equal(t, StatusSuccess, second.Status)
	require.True(t, second.Reused)
	require.Zero(t, second.Elapsed)
	require.Equal(t, first.Path, second.Path)
	require.Equal(t, first.Size, second.Size)

	// No second transfer, no duplicate record
	require.Equal(t, 1, upstream.callCount())
	require.Equal(t, 1, l.Len())
}

func TestFetchConcurrentSameIDCollapses(t *testing.T) {
	upstream := &fakeUpstream{delay: 20 * time.Millisecond}
	f, _, _ := newTestFetcher(t, upstream)

	asset := testAsset(9, []string{"forest"})

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Fetch(context.Background(), &asset, Options{})
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, upstream.callCount())
	for _, r := range results {
		require.Equal(t, StatusSuccess, r.Status)
	}
}

func TestFetchQualityFallback(t *testing.T) {
	upstream := &fakeUpstream{}
	f, _, _ := newTestFetcher(t, upstream)

	// Only a mobile rendition exists; an hd request falls through the
	// preference order and still succeeds.
	asset := testAsset(3, []string{"night"}, mediafetch.Rendition{
		ID: 30, Quality: mediafetch.QualityMobile, FileType: "video/mp4", Width: 640, Height: 360, FPS: 24, Link: "https://cdn.example.com/mobile",
	})

	result := f.Fetch(context.Background(), &asset, Options{Quality: mediafetch.QualityHD})
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 640, result.Width)
	require.Equal(t, float64(24), result.FPS)
}

func TestFetchNoRenditions(t *testing.T) {
	upstream := &fakeUpstream{}
	f, l, _ := newTestFetcher(t, upstream)

	asset := testAsset(5, []string{"empty"})
	asset.Renditions = nil

	result := f.Fetch(context.Background(), &asset, Options{})
	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Error, "no suitable rendition")
	require.Equal(t, 0, l.Len())
	require.Equal(t, 0, upstream.callCount())
}

func TestFetchUpstreamFailure(t *testing.T) {
	upstream := &fakeUpstream{
		failURLs: map[string]error{"https://cdn.example.com/hd": errors.New("connection reset")},
	}
	f, l, b := newTestFetcher(t, upstream)

	asset := testAsset(6, []string{"storm"})
	result := f.Fetch(context.Background(), &asset, Options{})

	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Error, "transfer failed")

	// Nothing recorded, nothing written
	require.Equal(t, 0, l.Len())
	keys, err := b.List(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestFetchFilenameAndCategoryOverride(t *testing.T) {
	upstream := &fakeUpstream{}
	f, l, _ := newTestFetcher(t, upstream)

	asset := testAsset(8, []string{"dog"})
	result := f.Fetch(context.Background(), &asset, Options{
		Filename: "custom.mp4",
		Category: "pets",
	})

	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, "custom.mp4", result.Filename)
	require.Equal(t, "pets/custom.mp4", result.Path)

	rec, ok := l.Get(8)
	require.True(t, ok)
	require.Equal(t, "pets", rec.Category)
}

func TestFetchTransferTimeout(t *testing.T) {
	upstream := &fakeUpstream{delay: 500 * time.Millisecond}
	f, _, _ := newTestFetcher(t, upstream, WithTransferTimeout(20*time.Millisecond))

	asset := testAsset(11, []string{"slow"})
	result := f.Fetch(context.Background(), &asset, Options{})

	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Error, "transfer failed")
}
