package keywords

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// postpositions are stripped from the end of syllabic tokens.
var postpositions = []string{
	"에서", "으로", "에게", "한테", "께서", "까지", "부터", "처럼", "보다", "이다",
	"을", "를", "이", "가", "은", "는", "의", "에", "로", "와", "과", "도", "만",
}

var builtinStopWords = []string{
	// particles
	"이", "그", "저", "것", "수", "등", "및", "를", "을", "에", "에서", "의", "가",
	"은", "는", "도", "만", "로", "으로", "와", "과", "에게", "한테", "께서",
	"부터", "까지", "처럼", "보다",
	// verb and adjective stems
	"이다", "하다", "있다", "되다", "않다", "없다", "있는", "하는", "했다", "한다",
	"했던", "하고", "있고", "된다", "됐다", "되는", "같은", "같다", "많은", "모든",
	"통해", "위해", "대한", "대해", "따라", "관련", "이런", "그런", "저런", "어떤",
	// pronouns
	"나", "너", "우리", "저희", "그녀", "그들", "이것", "그것", "저것", "누구", "무엇",
	"여기", "거기", "저기",
	// temporal and spatial nouns
	"오늘", "어제", "내일", "지금", "현재", "당시", "이번", "지난", "올해", "작년",
	"내년", "최근", "이후", "이전", "때문", "경우", "정도", "가운데", "사이",
	"안", "밖", "위", "아래", "앞", "뒤",
	// connectors
	"그리고", "하지만", "그러나", "또한", "또는", "즉",
	// article boilerplate
	"기자", "뉴스", "사진", "무단", "전재", "배포", "금지",
	// english
	"the", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with",
	"is", "are", "was", "were", "be", "been", "a", "an", "it", "this", "that",
	"as", "by", "from",
}

// IsStopWord reports whether token is in the profile's stop-word table.
// Latin tokens are compared case-insensitively.
func (p *Profile) IsStopWord(token string) bool {
	_, ok := p.stopWords[p.foldLatin(token)]
	return ok
}

// CanonicalKeyword returns the stored form of a user-supplied keyword: NFC
// normalized, with Latin tokens case-folded as Rank does.
func (p *Profile) CanonicalKeyword(keyword string) string {
	return p.foldLatin(norm.NFC.String(strings.TrimSpace(keyword)))
}

// foldLatin case-folds tokens made only of Latin letters and digits. Tokens in
// any other script are returned unchanged.
func (p *Profile) foldLatin(token string) string {
	if !isLatinToken(token) {
		return token
	}
	// Casers are stateful, one per call.
	return cases.Fold().String(token)
}

func isLatinToken(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !isLatinRune(r) {
			return false
		}
	}
	return true
}

func isLatinRune(r rune) bool {
	return unicode.Is(unicode.Latin, r) || ('0' <= r && r <= '9')
}

// isSyllabicRune covers the ideographic and syllabic scripts the script
// strategy extracts as one class.
func isSyllabicRune(r rune) bool {
	return unicode.In(r, unicode.Hangul, unicode.Han, unicode.Hiragana, unicode.Katakana)
}
