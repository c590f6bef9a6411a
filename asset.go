// Package mediafetch defines the shared domain types for the media fetch
// service: catalog assets, their downloadable renditions, and the ledger
// records describing everything already fetched.
package mediafetch

// Asset is one remote video entry in the provider catalog, identified by a
// provider-assigned numeric id.
type Asset struct {
	ID         int64       `json:"id"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Duration   float64     `json:"duration"`
	URL        string      `json:"url"`
	Tags       []string    `json:"tags"`
	Uploader   string      `json:"uploader"`
	Renditions []Rendition `json:"renditions"`
}

// Rendition is one downloadable variant of an asset at a given
// quality/container/resolution.
type Rendition struct {
	ID       int64   `json:"id"`
	Quality  Quality `json:"quality"`
	FileType string  `json:"file_type"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Link     string  `json:"link"`
}

// HasFPS reports whether any rendition of the asset matches the given
// frame rate.
func (a *Asset) HasFPS(fps float64) bool {
	for _, r := range a.Renditions {
		if r.FPS == fps {
			return true
		}
	}
	return false
}

// MaxDimensions returns the largest width and height across the asset's
// renditions, falling back to the asset-level dimensions when it has none.
func (a *Asset) MaxDimensions() (width, height int) {
	width, height = a.Width, a.Height
	for _, r := range a.Renditions {
		if r.Width > width {
			width = r.Width
		}
		if r.Height > height {
			height = r.Height
		}
	}
	return width, height
}

// Attributes returns the provider attribute block recorded in the ledger
// for this asset.
func (a *Asset) Attributes() ProviderAttributes {
	return ProviderAttributes{
		Width:    a.Width,
		Height:   a.Height,
		Duration: a.Duration,
		URL:      a.URL,
		Tags:     a.Tags,
		Uploader: a.Uploader,
	}
}
