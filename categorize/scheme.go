// Package categorize assigns fetched assets to categories using
// lightweight rule-based tag scoring, and relocates their files into
// category subdirectories.
package categorize

import (
	"errors"
	"strings"

	mediafetch "github.com/wolfeidau/mediafetch"
)

// ErrUnknownScheme is returned for an unrecognized scheme name, or for a
// custom scheme supplied without rules.
var ErrUnknownScheme = errors.New("unknown scheme")

// Rule maps one category label to the keywords that vote for it. Rule
// order is significant: score ties resolve to the earliest rule.
type Rule struct {
	Label    string   `json:"label"`
	Keywords []string `json:"keywords"`
}

// Scheme is a named categorization rule set: one of the built-ins, or a
// caller-supplied custom rule set. Schemes are immutable once resolved.
type Scheme struct {
	name     string
	rules    []Rule
	duration bool
}

// Name returns the scheme name.
func (s Scheme) Name() string { return s.name }

// Built-in scheme names.
const (
	SchemeEmotion  = "emotion"
	SchemeEnergy   = "energy"
	SchemeColor    = "color"
	SchemeDuration = "duration"
	SchemeCustom   = "custom"
)

// Duration bucket boundaries, in seconds.
const (
	shortMaxSeconds  = 15
	mediumMaxSeconds = 45
)

var builtins = map[string][]Rule{
	SchemeEmotion: {
		{Label: "happy", Keywords: []string{"happy", "smile", "joy", "fun", "laugh", "celebration"}},
		{Label: "sad", Keywords: []string{"sad", "cry", "rain", "lonely", "grief"}},
		{Label: "calm", Keywords: []string{"calm", "peaceful", "relax", "meditation", "slow", "gentle"}},
		{Label: "exciting", Keywords: []string{"action", "extreme", "adventure", "jump", "race", "thrill"}},
	},
	SchemeEnergy: {
		{Label: "high", Keywords: []string{"action", "fast", "sport", "dance", "party", "run"}},
		{Label: "medium", Keywords: []string{"walk", "city", "travel", "people", "street"}},
		{Label: "low", Keywords: []string{"calm", "sleep", "slow", "rest", "night", "quiet"}},
	},
	SchemeColor: {
		{Label: "warm", Keywords: []string{"sunset", "orange", "red", "fire", "autumn", "golden"}},
		{Label: "cool", Keywords: []string{"blue", "ocean", "water", "ice", "winter", "sky"}},
		{Label: "green", Keywords: []string{"forest", "nature", "grass", "leaf", "plant", "jungle"}},
		{Label: "monochrome", Keywords: []string{"black", "white", "shadow", "fog", "smoke"}},
	},
}

// Resolve returns the scheme for the given name. A custom scheme is only
// valid when accompanied by rules; any other unrecognized name fails with
// ErrUnknownScheme.
func Resolve(name string, custom []Rule) (Scheme, error) {
	switch name {
	case SchemeDuration:
		return Scheme{name: name, duration: true}, nil
	case SchemeCustom:
		if len(custom) == 0 {
			return Scheme{}, ErrUnknownScheme
		}
		rules := make([]Rule, len(custom))
		copy(rules, custom)
		return Scheme{name: name, rules: rules}, nil
	}
	if rules, ok := builtins[name]; ok {
		return Scheme{name: name, rules: rules}, nil
	}
	return Scheme{}, ErrUnknownScheme
}

// Classify decides the category for one record. The second return is
// false when no category applies (every tag rule scored zero); the
// duration scheme always matches exactly one bucket.
func (s Scheme) Classify(rec *mediafetch.Record) (string, bool) {
	if s.duration {
		switch d := rec.Provider.Duration; {
		case d <= shortMaxSeconds:
			return "short", true
		case d <= mediumMaxSeconds:
			return "medium", true
		default:
			return "long", true
		}
	}

	joined := strings.ToLower(strings.Join(rec.Provider.Tags, " "))

	best := ""
	bestScore := 0
	for _, rule := range s.rules {
		score := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(joined, strings.ToLower(kw)) {
				score++
			}
		}
		// Strictly greater: ties keep the earlier rule.
		if score > bestScore {
			best = rule.Label
			bestScore = score
		}
	}

	if bestScore == 0 {
		return "", false
	}
	return best, true
}
