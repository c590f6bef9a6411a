package fetch

import (
	"errors"

	mediafetch "github.com/wolfeidau/mediafetch"
)

// ErrNoRendition is returned when an asset has no rendition to download.
var ErrNoRendition = errors.New("no suitable rendition")

// selectRendition picks the rendition for the requested quality tier,
// walking the tier's preference order. When no rendition matches any
// acceptable tier the asset's first rendition is used as a fallback.
func selectRendition(asset *mediafetch.Asset, quality mediafetch.Quality) (mediafetch.Rendition, error) {
	if len(asset.Renditions) == 0 {
		return mediafetch.Rendition{}, ErrNoRendition
	}

	for _, tier := range quality.Preference() {
		for _, r := range asset.Renditions {
			if r.Quality == tier {
				return r, nil
			}
		}
	}

	return asset.Renditions[0], nil
}

// codecForFileType infers a codec label from a rendition's container type.
func codecForFileType(fileType string) string {
	switch fileType {
	case "video/mp4", "video/quicktime":
		return "h264"
	case "video/webm":
		return "vp9"
	case "video/ogg":
		return "theora"
	default:
		return "unknown"
	}
}

// bitrateKbps estimates a bitrate from total size and duration.
func bitrateKbps(size int64, duration float64) int64 {
	if duration <= 0 {
		return 0
	}
	return int64(float64(size*8) / duration / 1000)
}
