package fetch

import (
	"testing"

	"github.com/stretchr/testify/require"

	mediafetch "github.com/wolfeidau/mediafetch"
)

func renditionSet(qualities ...mediafetch.Quality) []mediafetch.Rendition {
	out := make([]mediafetch.Rendition, len(qualities))
	for i, q := range qualities {
		out[i] = mediafetch.Rendition{ID: int64(i), Quality: q, FileType: "video/mp4"}
	}
	return out
}

func TestSelectRendition(t *testing.T) {
	tests := []struct {
		name      string
		available []mediafetch.Quality
		want      mediafetch.Quality
		request   mediafetch.Quality
	}{
		{name: "exact hd", request: mediafetch.QualityHD, available: []mediafetch.Quality{mediafetch.QualityMobile, mediafetch.QualityHD}, want: mediafetch.QualityHD},
		{name: "hd falls to sd", request: mediafetch.QualityHD, available: []mediafetch.Quality{mediafetch.QualityMobile, mediafetch.QualitySD}, want: mediafetch.QualitySD},
		{name: "hd falls to mobile", request: mediafetch.QualityHD, available: []mediafetch.Quality{mediafetch.QualityMobile}, want: mediafetch.QualityMobile},
		{name: "sd prefers sd then hd", request: mediafetch.QualitySD, available: []mediafetch.Quality{mediafetch.QualityHD, mediafetch.QualityMobile}, want: mediafetch.QualityHD},
		{name: "mobile prefers mobile then sd", request: mediafetch.QualityMobile, available: []mediafetch.Quality{mediafetch.QualityHD, mediafetch.QualitySD}, want: mediafetch.QualitySD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset := mediafetch.Asset{ID: 1, Renditions: renditionSet(tt.available...)}
			r, err := selectRendition(&asset, tt.request)
			require.NoError(t, err)
			require.Equal(t, tt.want, r.Quality)
		})
	}
}

func TestSelectRenditionFallsBackToFirst(t *testing.T) {
	// A rendition with a quality outside the known tiers still downloads.
	asset := mediafetch.Asset{ID: 1, Renditions: []mediafetch.Rendition{
		{ID: 99, Quality: "uhd", FileType: "video/mp4"},
	}}
	r, err := selectRendition(&asset, mediafetch.QualityHD)
	require.NoError(t, err)
	require.Equal(t, int64(99), r.ID)
}

func TestSelectRenditionEmpty(t *testing.T) {
	asset := mediafetch.Asset{ID: 1}
	_, err := selectRendition(&asset, mediafetch.QualityHD)
	require.ErrorIs(t, err, ErrNoRendition)
}

func TestCodecForFileType(t *testing.T) {
	require.Equal(t, "h264", codecForFileType("video/mp4"))
	require.Equal(t, "h264", codecForFileType("video/quicktime"))
	require.Equal(t, "vp9", codecForFileType("video/webm"))
	require.Equal(t, "theora", codecForFileType("video/ogg"))
	require.Equal(t, "unknown", codecForFileType("video/x-matroska"))
}

func TestBitrateKbps(t *testing.T) {
	// 10 MB over 20 seconds is 4000 kbps
	require.Equal(t, int64(4000), bitrateKbps(10_000_000, 20))
	require.Equal(t, int64(0), bitrateKbps(10_000_000, 0))
}
