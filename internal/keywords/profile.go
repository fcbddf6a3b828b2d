// Package keywords turns article text into ranked keyword sets and aggregates
// per-article keyword sets into cross-article rankings.
//
// A Profile holds everything locale specific (segmentation strategy,
// stop words, postposition suffixes, minimum length, cap). It is built once
// and never mutated, so a single *Profile is shared by every goroutine.
package keywords

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"newsletter/internal/models"
)

// Strategy selects how raw text is segmented into tokens.
type Strategy string

const (
	// StrategyScript extracts runs of ideographic/syllabic characters and runs
	// of Latin alphanumerics independently, in text order.
	StrategyScript Strategy = "script"
	// StrategyBoundary splits on Unicode word boundaries (UAX #29).
	StrategyBoundary Strategy = "boundary"
)

const (
	DefaultMinLength = 2
	DefaultCap       = 10
)

// Profile is the immutable extraction configuration.
type Profile struct {
	strategy  Strategy
	minLength int
	cap       int
	stopWords map[string]struct{}
	// longest first
	suffixes []string
}

// Option customizes a Profile at construction time.
type Option func(*Profile)

func WithStrategy(s Strategy) Option {
	return func(p *Profile) { p.strategy = s }
}

func WithMinLength(n int) Option {
	return func(p *Profile) { p.minLength = n }
}

func WithCap(n int) Option {
	return func(p *Profile) { p.cap = n }
}

// WithExtraStopWords adds words on top of the built-in table.
func WithExtraStopWords(words ...string) Option {
	return func(p *Profile) {
		for _, w := range words {
			p.stopWords[p.foldLatin(w)] = struct{}{}
		}
	}
}

// NewProfile builds a profile from the built-in tables and the given options.
func NewProfile(opts ...Option) (*Profile, error) {
	p := &Profile{
		strategy:  StrategyScript,
		minLength: DefaultMinLength,
		cap:       DefaultCap,
		stopWords: make(map[string]struct{}, len(builtinStopWords)),
	}
	for _, w := range builtinStopWords {
		p.stopWords[p.foldLatin(w)] = struct{}{}
	}
	p.suffixes = append(p.suffixes, postpositions...)
	sort.SliceStable(p.suffixes, func(i, j int) bool {
		return utf8.RuneCountInString(p.suffixes[i]) > utf8.RuneCountInString(p.suffixes[j])
	})

	for _, opt := range opts {
		opt(p)
	}

	switch p.strategy {
	case StrategyScript, StrategyBoundary:
	default:
		return nil, fmt.Errorf("unknown segmentation strategy %q", p.strategy)
	}
	if p.minLength < 1 {
		return nil, fmt.Errorf("min length must be positive, got %d", p.minLength)
	}
	if p.cap < 1 {
		return nil, fmt.Errorf("cap must be positive, got %d", p.cap)
	}
	return p, nil
}

// DefaultProfile returns the script-aware profile with min length 2 and cap 10.
func DefaultProfile() *Profile {
	p, err := NewProfile()
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Profile) Strategy() Strategy { return p.strategy }
func (p *Profile) MinLength() int     { return p.minLength }
func (p *Profile) Cap() int           { return p.cap }

// Extract runs the whole ingestion pipeline over one document.
func (p *Profile) Extract(text string) []models.KeywordOccurrence {
	return p.Rank(p.Tokenize(text))
}
