package mediafetch

import "time"

// Record is one ledger entry describing a fetched asset. The ledger holds
// at most one Record per provider asset id.
type Record struct {
	AssetID   int64              `json:"asset_id"`
	Filename  string             `json:"filename"`
	Path      string             `json:"path"`
	Size      int64              `json:"size"`
	FetchedAt time.Time          `json:"fetched_at"`
	Category  string             `json:"category,omitempty"`
	Provider  ProviderAttributes `json:"provider"`
}

// ProviderAttributes is the nested provider attribute block carried on
// each Record.
type ProviderAttributes struct {
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Duration float64  `json:"duration"`
	URL      string   `json:"url"`
	Tags     []string `json:"tags"`
	Uploader string   `json:"uploader"`
}
