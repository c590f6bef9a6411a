package categorize

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/backend"
	"github.com/wolfeidau/mediafetch/ledger"
)

func setup(t *testing.T, records []mediafetch.Record) (*Categorizer, *ledger.Ledger, *backend.Memory) {
	t.Helper()
	ctx := context.Background()
	b := backend.NewMemory()

	l, err := ledger.Open(ctx, b, ledger.WithSnapshots(0))
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, b.Write(ctx, rec.Path, bytes.NewReader([]byte("video"))))
		require.NoError(t, l.Append(ctx, rec))
	}

	return New(l, b), l, b
}

func record(id int64, filename string, tags ...string) mediafetch.Record {
	return mediafetch.Record{
		AssetID:   id,
		Filename:  filename,
		Path:      filename,
		Size:      100,
		FetchedAt: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		Provider:  mediafetch.ProviderAttributes{Tags: tags, Duration: 20},
	}
}

func TestCategorizeMovesFiles(t *testing.T) {
	c, l, b := setup(t, []mediafetch.Record{
		record(1, "beach.mp4", "happy", "smile"),
		record(2, "funeral.mp4", "sad", "grief"),
	})
	ctx := context.Background()

	result, err := c.Categorize(ctx, Options{Scheme: SchemeEmotion})
	require.NoError(t, err)
	require.Equal(t, 2, result.Moved)
	require.Equal(t, 0, result.Skipped)
	require.Equal(t, []string{"happy", "sad"}, result.Categories)
	require.Nil(t, result.Errors)

	// Files relocated
	for _, key := range []string{"happy/beach.mp4", "sad/funeral.mp4"} {
		exists, err := b.Exists(ctx, key)
		require.NoError(t, err)
		require.True(t, exists)
	}

	// Ledger updated
	rec, ok := l.Get(1)
	require.True(t, ok)
	require.Equal(t, "happy/beach.mp4", rec.Path)
	require.Equal(t, "happy", rec.Category)
}

func TestCategorizeSkipsUnmatched(t *testing.T) {
	c, l, _ := setup(t, []mediafetch.Record{
		record(1, "beach.mp4", "happy"),
		record(2, "gravel.mp4", "asphalt"),
	})

	result, err := c.Categorize(context.Background(), Options{Scheme: SchemeEmotion})
	require.NoError(t, err)
	require.Equal(t, 1, result.Moved)
	require.Equal(t, 1, result.Skipped)

	// Unmatched record untouched
	rec, ok := l.Get(2)
	require.True(t, ok)
	require.Equal(t, "gravel.mp4", rec.Path)
	require.Empty(t, rec.Category)
}

func TestCategorizeAlreadyPlacedIsNoOp(t *testing.T) {
	placed := record(1, "beach.mp4", "happy")
	placed.Path = "happy/beach.mp4"
	placed.Category = "happy"
	c, _, _ := setup(t, []mediafetch.Record{placed})

	result, err := c.Categorize(context.Background(), Options{Scheme: SchemeEmotion})
	require.NoError(t, err)
	require.Equal(t, 0, result.Moved)
	require.Equal(t, 0, result.Skipped)
	require.Empty(t, result.Categories)
}

func TestCategorizeMoveFailureIsIsolated(t *testing.T) {
	c, l, b := setup(t, []mediafetch.Record{
		record(1, "beach.mp4", "happy"),
		record(2, "rainy.mp4", "sad"),
	})
	ctx := context.Background()

	// Remove one file behind the ledger's back so its move fails.
	require.NoError(t, b.Delete(ctx, "rainy.mp4"))

	result, err := c.Categorize(ctx, Options{Scheme: SchemeEmotion})
	require.NoError(t, err)
	require.Equal(t, 1, result.Moved)
	require.Contains(t, result.Errors, "2")

	// The failed record keeps its old path
	rec, ok := l.Get(2)
	require.True(t, ok)
	require.Equal(t, "rainy.mp4", rec.Path)

	// The successful one persisted
	rec, ok = l.Get(1)
	require.True(t, ok)
	require.Equal(t, "happy/beach.mp4", rec.Path)
}

func TestCategorizeUnknownScheme(t *testing.T) {
	c, _, _ := setup(t, []mediafetch.Record{record(1, "beach.mp4", "happy")})

	_, err := c.Categorize(context.Background(), Options{Scheme: "vibes"})
	require.ErrorIs(t, err, ErrUnknownScheme)
}

func TestCategorizeEmptyLedger(t *testing.T) {
	c, _, _ := setup(t, nil)

	_, err := c.Categorize(context.Background(), Options{Scheme: SchemeEmotion})
	require.ErrorIs(t, err, ErrNothingToCategorize)
}

func TestCategorizeRerunIsStable(t *testing.T) {
	c, l, _ := setup(t, []mediafetch.Record{record(1, "beach.mp4", "happy")})
	ctx := context.Background()

	first, err := c.Categorize(ctx, Options{Scheme: SchemeEmotion})
	require.NoError(t, err)
	require.Equal(t, 1, first.Moved)

	// Second run finds everything already in place.
	second, err := c.Categorize(ctx, Options{Scheme: SchemeEmotion})
	require.NoError(t, err)
	require.Equal(t, 0, second.Moved)

	rec, ok := l.Get(1)
	require.True(t, ok)
	require.Equal(t, "happy/beach.mp4", rec.Path)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	c, l, b := setup(t, []mediafetch.Record{
		record(1, "beach.mp4", "happy"),
		record(2, "gravel.mp4", "asphalt"),
	})
	ctx := context.Background()

	preview, err := c.Preview(Options{Scheme: SchemeEmotion})
	require.NoError(t, err)
	require.Len(t, preview["happy"], 1)
	require.Equal(t, int64(1), preview["happy"][0].AssetID)

	// Nothing moved, nothing rewritten
	exists, err := b.Exists(ctx, "beach.mp4")
	require.NoError(t, err)
	require.True(t, exists)

	rec, ok := l.Get(1)
	require.True(t, ok)
	require.Equal(t, "beach.mp4", rec.Path)
}
