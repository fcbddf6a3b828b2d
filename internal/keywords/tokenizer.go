package keywords

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// minRunLength is the shortest character run the script strategy considers.
const minRunLength = 2

type runeClass int

const (
	classOther runeClass = iota
	classSyllabic
	classLatin
)

func classify(r rune) runeClass {
	switch {
	case isSyllabicRune(r):
		return classSyllabic
	case isLatinRune(r):
		return classLatin
	default:
		return classOther
	}
}

// Tokenize splits text into candidate keyword tokens in first-occurrence
// order. It is pure and deterministic.
func (p *Profile) Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	// Decomposed Hangul (common in text pasted from macOS) would otherwise
	// split into jamo runs.
	text = norm.NFC.String(text)

	if p.strategy == StrategyBoundary {
		return p.tokenizeBoundary(text)
	}
	return p.tokenizeScript(text)
}

// tokenizeScript emits maximal runs of one rune class. Running the syllabic
// and Latin extractions in a single scan keeps them independent while
// preserving text order between the two.
func (p *Profile) tokenizeScript(text string) []string {
	var (
		tokens  []string
		start   = -1
		current = classOther
	)

	flush := func(end int) {
		if start < 0 {
			return
		}
		run := text[start:end]
		if utf8.RuneCountInString(run) >= minRunLength {
			if tok, ok := p.finish(run, current == classSyllabic); ok {
				tokens = append(tokens, tok)
			}
		}
		start = -1
	}

	for i, r := range text {
		c := classify(r)
		if c != current {
			flush(i)
			current = c
			if c != classOther {
				start = i
			}
		}
	}
	flush(len(text))

	return tokens
}

func (p *Profile) tokenizeBoundary(text string) []string {
	var tokens []string
	segments := words.FromString(text)
	for segments.Next() {
		seg := segments.Value()
		if !hasWordRune(seg) {
			continue
		}
		last, _ := utf8.DecodeLastRuneInString(seg)
		if tok, ok := p.finish(seg, isSyllabicRune(last)); ok {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// finish applies suffix stripping and the minimum length.
func (p *Profile) finish(token string, syllabic bool) (string, bool) {
	if syllabic {
		token = p.stripSuffix(token)
	}
	if utf8.RuneCountInString(token) < p.minLength {
		return "", false
	}
	return token, true
}

// stripSuffix removes the longest matching postposition when at least two
// characters remain.
func (p *Profile) stripSuffix(token string) string {
	n := utf8.RuneCountInString(token)
	for _, suffix := range p.suffixes {
		if !strings.HasSuffix(token, suffix) {
			continue
		}
		if n-utf8.RuneCountInString(suffix) >= minRunLength {
			return strings.TrimSuffix(token, suffix)
		}
	}
	return token
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
