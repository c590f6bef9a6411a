package ledger

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/backend"
)

func testRecord(id int64, filename string) mediafetch.Record {
	return mediafetch.Record{
		AssetID:   id,
		Filename:  filename,
		Path:      filename,
		Size:      1024 * id,
		FetchedAt: time.Date(2026, 8, 20, 10, 0, int(id), 0, time.UTC),
		Provider: mediafetch.ProviderAttributes{
			Width:    1920,
			Height:   1080,
			Duration: 12.5,
			Tags:     []string{"ocean", "waves"},
			Uploader: "someone",
		},
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	l, err := Open(context.Background(), backend.NewMemory())
	require.NoError(t, err)
	require.Equal(t, 0, l.Len())
}

func TestOpenCorruptFile(t *testing.T) {
	b := backend.NewMemory()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, FileKey, bytes.NewReader([]byte("{not json"))))

	_, err := Open(ctx, b)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestAppendAndReload(t *testing.T) {
	b := backend.NewMemory()
	ctx := context.Background()

	l, err := Open(ctx, b)
	require.NoError(t, err)

	require.NoError(t, l.Append(ctx, testRecord(1, "ocean_waves_1.mp4")))
	require.NoError(t, l.Append(ctx, testRecord(2, "ocean_waves_2.mp4")))

	require.True(t, l.Has(1))
	require.False(t, l.Has(99))

	rec, ok := l.Get(2)
	require.True(t, ok)
	require.Equal(t, "ocean_waves_2.mp4", rec.Filename)

	// Reload from the same backend
	reloaded, err := Open(ctx, b)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Len())
	require.Equal(t, l.Records(), reloaded.Records())
}

func TestAppendReplacesSameID(t *testing.T) {
	b := backend.NewMemory()
	ctx := context.Background()

	l, err := Open(ctx, b)
	require.NoError(t, err)

	require.NoError(t, l.Append(ctx, testRecord(1, "first.mp4")))

	replacement := testRecord(1, "second.mp4")
	require.NoError(t, l.Append(ctx, replacement))

	require.Equal(t, 1, l.Len())
	rec, ok := l.Get(1)
	require.True(t, ok)
	require.Equal(t, "second.mp4", rec.Filename)
}

func TestRoundTripBytesIdentical(t *testing.T) {
	b := backend.NewMemory()
	ctx := context.Background()

	l, err := Open(ctx, b, WithSnapshots(0))
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, testRecord(1, "one.mp4")))
	require.NoError(t, l.Append(ctx, testRecord(2, "two.mp4")))

	before := readLedgerBytes(t, b)

	// A load/save cycle must not change a single byte.
	reloaded, err := Open(ctx, b, WithSnapshots(0))
	require.NoError(t, err)
	require.NoError(t, reloaded.Rewrite(ctx, reloaded.Records()))

	after := readLedgerBytes(t, b)
	require.Equal(t, before, after)
}

func TestMarshalEmptyIsArray(t *testing.T) {
	data, err := Marshal(nil)
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(data))
}

func TestGetStats(t *testing.T) {
	b := backend.NewMemory()
	ctx := context.Background()

	l, err := Open(ctx, b)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, testRecord(1, "one.mp4")))
	require.NoError(t, l.Append(ctx, testRecord(2, "two.mp4")))

	stats := l.GetStats()
	require.Equal(t, 2, stats.TotalRecords)
	require.Equal(t, int64(1024+2048), stats.TotalBytes)
}

func readLedgerBytes(t *testing.T, b backend.Backend) []byte {
	t.Helper()
	rc, err := b.Read(context.Background(), FileKey)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}
