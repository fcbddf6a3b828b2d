package keywords

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"newsletter/internal/models"
)

var reNumeric = regexp.MustCompile(`^[0-9]+([.,][0-9]+)*$`)

// Rank counts keywords in one document and returns at most Cap of them,
// most frequent first. Equal frequencies keep first-occurrence order.
//
// Latin tokens are counted and reported case-folded so "GPT4" and "gpt4"
// are one keyword across every article; other scripts are case-sensitive.
func (p *Profile) Rank(tokens []string) []models.KeywordOccurrence {
	if len(tokens) == 0 {
		return []models.KeywordOccurrence{}
	}

	counts := make(map[string]int, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if utf8.RuneCountInString(tok) < p.minLength || reNumeric.MatchString(tok) {
			continue
		}
		key := p.foldLatin(tok)
		if _, stop := p.stopWords[key]; stop {
			continue
		}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}

	ranked := make([]models.KeywordOccurrence, 0, len(order))
	for _, key := range order {
		ranked = append(ranked, models.KeywordOccurrence{Keyword: key, Frequency: counts[key]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Frequency > ranked[j].Frequency
	})

	if len(ranked) > p.cap {
		ranked = ranked[:p.cap]
	}
	return ranked
}
