package fetch

import (
	"fmt"
	"strings"
	"time"

	mediafetch "github.com/wolfeidau/mediafetch"
)

// videoExtension is the fixed extension for stored assets.
const videoExtension = ".mp4"

// buildFilename synthesizes a destination filename from the asset's first
// two tags, its id, and the fetch timestamp.
func buildFilename(asset *mediafetch.Asset, now time.Time) string {
	parts := make([]string, 0, 3)
	for _, tag := range asset.Tags {
		if len(parts) == 2 {
			break
		}
		if s := sanitizeTag(tag); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "video")
	}

	return fmt.Sprintf("%s_%d_%d%s", strings.Join(parts, "_"), asset.ID, now.Unix(), videoExtension)
}

// sanitizeTag lowercases a tag and strips everything outside [a-z0-9_].
func sanitizeTag(tag string) string {
	tag = strings.ToLower(tag)
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// destinationKey places a filename under its category subdirectory when a
// category is set.
func destinationKey(category, filename string) string {
	if category == "" {
		return filename
	}
	return category + "/" + filename
}
