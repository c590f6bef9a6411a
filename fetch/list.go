package fetch

import (
	"sort"

	mediafetch "github.com/wolfeidau/mediafetch"
)

// DefaultListLimit caps list results when no limit is given.
const DefaultListLimit = 50

// SortOrder names a list sort.
type SortOrder string

const (
	SortRecent   SortOrder = "recent"   // fetch time, newest first
	SortSize     SortOrder = "size"     // byte size, largest first
	SortDuration SortOrder = "duration" // duration, longest first
	SortFilename SortOrder = "filename" // filename, lexical ascending
)

// ListOptions configures a ledger listing.
type ListOptions struct {
	// Category restricts results to one category when set.
	Category string

	// SortBy orders the results. Default is recency descending.
	SortBy SortOrder

	// Limit caps the result count. Default 50.
	Limit int
}

// List returns ledger records filtered, sorted, and truncated per the
// options. Pure read: no side effects.
func (f *Fetcher) List(opts ListOptions) []mediafetch.Record {
	records := f.ledger.Records()

	if opts.Category != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Category == opts.Category {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	switch opts.SortBy {
	case SortSize:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Size > records[j].Size
		})
	case SortDuration:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Provider.Duration > records[j].Provider.Duration
		})
	case SortFilename:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Filename < records[j].Filename
		})
	default:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].FetchedAt.After(records[j].FetchedAt)
		})
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
