package categorize

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/backend"
	"github.com/wolfeidau/mediafetch/ledger"
	"github.com/wolfeidau/mediafetch/telemetry"
)

// ErrNothingToCategorize is returned when the ledger holds no records.
var ErrNothingToCategorize = errors.New("nothing to categorize")

// Options selects the rule set for a categorization run.
type Options struct {
	// Scheme names a built-in scheme, or "custom".
	Scheme string `json:"scheme"`

	// Custom carries the rule set for the custom scheme.
	Custom []Rule `json:"custom,omitempty"`
}

// Result reports one categorization run. Per-asset move failures are
// collected in Errors and do not fail the run.
type Result struct {
	Scheme     string           `json:"scheme"`
	Moved      int              `json:"moved"`
	Skipped    int              `json:"skipped"`
	Categories []string         `json:"categories"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Categorizer reads the ledger, scores every record against a scheme,
// relocates files into category subdirectories, and rewrites the ledger
// once with the updated assignments.
type Categorizer struct {
	ledger  *ledger.Ledger
	backend backend.Backend
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Categorizer.
type Option func(*Categorizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Categorizer) {
		c.logger = logger
	}
}

// New creates a Categorizer over the given ledger and backend.
func New(l *ledger.Ledger, b backend.Backend, opts ...Option) *Categorizer {
	c := &Categorizer{
		ledger:  l,
		backend: b,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Categorize runs one categorization pass. It fails outright only when
// the scheme is invalid, the ledger is empty, or the final ledger write
// fails; individual move failures land in the result's error map.
func (c *Categorizer) Categorize(ctx context.Context, opts Options) (*Result, error) {
	start := c.now()

	scheme, err := Resolve(opts.Scheme, opts.Custom)
	if err != nil {
		return nil, err
	}

	records := c.ledger.Records()
	if len(records) == 0 {
		return nil, ErrNothingToCategorize
	}

	result := &Result{
		Scheme: scheme.Name(),
		Errors: map[string]string{},
	}
	seen := map[string]bool{}

	for i := range records {
		rec := &records[i]

		category, ok := scheme.Classify(rec)
		if !ok {
			result.Skipped++
			continue
		}

		dest := category + "/" + rec.Filename
		if dest == rec.Path {
			// Already where it belongs: no-op, not counted as moved.
			continue
		}

		if err := c.backend.Move(ctx, rec.Path, dest); err != nil {
			result.Errors[strconv.FormatInt(rec.AssetID, 10)] = err.Error()
			continue
		}

		rec.Path = dest
		rec.Category = category
		result.Moved++
		seen[category] = true
	}

	// Persist the full updated ledger exactly once.
	if err := c.ledger.Rewrite(ctx, records); err != nil {
		return nil, err
	}

	for category := range seen {
		result.Categories = append(result.Categories, category)
	}
	sort.Strings(result.Categories)

	if len(result.Errors) == 0 {
		result.Errors = nil
	}

	elapsed := c.now().Sub(start)
	telemetry.RecordCategorizeRun(ctx, scheme.Name(), result.Moved, len(result.Errors), elapsed)

	c.logger.Info("categorization complete",
		"scheme", scheme.Name(),
		"moved", result.Moved,
		"skipped", result.Skipped,
		"categories", result.Categories,
		"errors", len(result.Errors),
		"elapsed", elapsed,
	)
	return result, nil
}

// Preview runs the same categorization decision with no filesystem or
// ledger mutation, returning the records that would land in each
// category.
func (c *Categorizer) Preview(opts Options) (map[string][]mediafetch.Record, error) {
	scheme, err := Resolve(opts.Scheme, opts.Custom)
	if err != nil {
		return nil, err
	}

	records := c.ledger.Records()
	if len(records) == 0 {
		return nil, ErrNothingToCategorize
	}

	preview := map[string][]mediafetch.Record{}
	for i := range records {
		if category, ok := scheme.Classify(&records[i]); ok {
			preview[category] = append(preview[category], records[i])
		}
	}
	return preview, nil
}
