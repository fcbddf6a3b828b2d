package keywords

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"newsletter/internal/models"
)

func TestTokenizeEmpty(t *testing.T) {
	p := DefaultProfile()
	assert.Empty(t, p.Tokenize(""))
	assert.Empty(t, p.Tokenize("   \n\t "))
	assert.Empty(t, p.Rank(nil))
	assert.Empty(t, p.Rank([]string{}))
	assert.Empty(t, p.Extract("!!! ... ???"))
}

func TestTokenizeSuffixStripping(t *testing.T) {
	p := DefaultProfile()
	got := p.Tokenize("택배 기사님이 택배를 배달했다 택배 택배")
	assert.Equal(t, []string{"택배", "기사님", "택배", "배달했다", "택배", "택배"}, got)
}

func TestTokenizeKeepsShortStems(t *testing.T) {
	p := DefaultProfile()
	// stripping would leave a single syllable
	assert.Equal(t, []string{"회의", "국가"}, p.Tokenize("회의 국가"))
}

func TestTokenizeMixedScripts(t *testing.T) {
	p := DefaultProfile()
	got := p.Tokenize("삼성전자가 GPT4를 도입했다. (2024년)")
	assert.Equal(t, []string{"삼성전자", "GPT4", "도입했다", "2024"}, got)
}

func TestTokenizeNormalizesDecomposedHangul(t *testing.T) {
	p := DefaultProfile()
	decomposed := norm.NFD.String("택배를 택배")
	require.NotEqual(t, "택배를 택배", decomposed)
	assert.Equal(t, []string{"택배", "택배"}, p.Tokenize(decomposed))
}

func TestTokenizeMinLength(t *testing.T) {
	p, err := NewProfile(WithMinLength(3))
	require.NoError(t, err)
	got := p.Tokenize("AI 택배 인공지능 GPT go")
	assert.Equal(t, []string{"인공지능", "GPT"}, got)
}

func TestTokenizeDeterministic(t *testing.T) {
	text := "Go 언어는 동시성을 지원한다. Go routines, channels; 채널과 고루틴을 사용한다."
	for _, strategy := range []Strategy{StrategyScript, StrategyBoundary} {
		p, err := NewProfile(WithStrategy(strategy))
		require.NoError(t, err)
		first := p.Tokenize(text)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, p.Tokenize(text), strategy)
		}
	}
}

func TestBoundaryStrategy(t *testing.T) {
	p, err := NewProfile(WithStrategy(StrategyBoundary))
	require.NoError(t, err)
	got := p.Tokenize("택배를 보냈다. GPT4, really!")
	assert.Equal(t, []string{"택배", "보냈다", "GPT4", "really"}, got)
	assert.Equal(t, StrategyBoundary, p.Strategy())
	assert.Equal(t, DefaultMinLength, p.MinLength())
	assert.Equal(t, DefaultCap, p.Cap())
}

func TestNewProfileRejectsBadOptions(t *testing.T) {
	_, err := NewProfile(WithStrategy("stemmer"))
	assert.Error(t, err)
	_, err = NewProfile(WithMinLength(0))
	assert.Error(t, err)
	_, err = NewProfile(WithCap(0))
	assert.Error(t, err)
}

func TestIsStopWord(t *testing.T) {
	p := DefaultProfile()
	for _, w := range []string{"the", "The", "AND", "with", "있다", "하지만", "오늘", "우리"} {
		assert.True(t, p.IsStopWord(w), w)
	}
	for _, w := range []string{"택배", "GPT4", "developers", "그래프"} {
		assert.False(t, p.IsStopWord(w), w)
	}
}

func TestExtraStopWords(t *testing.T) {
	p, err := NewProfile(WithExtraStopWords("Reuters", "속보"))
	require.NoError(t, err)
	assert.True(t, p.IsStopWord("reuters"))
	assert.True(t, p.IsStopWord("속보"))
	assert.False(t, DefaultProfile().IsStopWord("속보"))
}

func TestExtractKoreanExample(t *testing.T) {
	p := DefaultProfile()
	got := p.Extract("택배 기사님이 택배를 배달했다 택배 택배")
	require.NotEmpty(t, got)
	assert.Equal(t, models.KeywordOccurrence{Keyword: "택배", Frequency: 4}, got[0])
}

func TestExtractEnglishExample(t *testing.T) {
	p := DefaultProfile()
	got := p.Extract("GPT4 is great. GPT4 helps developers. The developers love GPT4.")
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, models.KeywordOccurrence{Keyword: "gpt4", Frequency: 3}, got[0])
	assert.Equal(t, models.KeywordOccurrence{Keyword: "developers", Frequency: 2}, got[1])
	for _, kw := range got {
		assert.NotEqual(t, "is", kw.Keyword)
		assert.NotEqual(t, "the", kw.Keyword)
	}
}

func TestRankFoldsLatinOnly(t *testing.T) {
	p := DefaultProfile()
	got := p.Rank([]string{"GPT", "gpt", "Gpt", "Москва", "москва"})
	assert.Equal(t, []models.KeywordOccurrence{
		{Keyword: "gpt", Frequency: 3},
		{Keyword: "Москва", Frequency: 1},
		{Keyword: "москва", Frequency: 1},
	}, got)
}

func TestRankTieBreakIsFirstOccurrence(t *testing.T) {
	p := DefaultProfile()
	got := p.Rank([]string{"서울", "부산", "대구", "부산", "서울", "광주"})
	assert.Equal(t, []models.KeywordOccurrence{
		{Keyword: "서울", Frequency: 2},
		{Keyword: "부산", Frequency: 2},
		{Keyword: "대구", Frequency: 1},
		{Keyword: "광주", Frequency: 1},
	}, got)
}

func TestRankDropsNumbersAndShortTokens(t *testing.T) {
	p := DefaultProfile()
	got := p.Rank([]string{"2024", "3.14", "1,000", "x", "a1", "a1"})
	assert.Equal(t, []models.KeywordOccurrence{{Keyword: "a1", Frequency: 2}}, got)
}

func TestRankCap(t *testing.T) {
	var words []string
	for i := 0; i < 15; i++ {
		words = append(words, fmt.Sprintf("word%c", 'a'+i))
	}
	text := strings.Join(words, " ")

	assert.Len(t, DefaultProfile().Extract(text), DefaultCap)

	p, err := NewProfile(WithCap(20))
	require.NoError(t, err)
	assert.Len(t, p.Extract(text), 15)
}

func TestRankProperties(t *testing.T) {
	texts := []string{
		"The quick brown fox jumps over the lazy dog. The dog sleeps, the fox runs.",
		"정부는 오늘 부동산 대책을 발표했다. 부동산 시장은 대책에 반응했다. 시장 전문가들은 부동산 가격을 전망했다.",
		"Kubernetes와 Docker를 이용한 배포 자동화. Docker 이미지, Kubernetes 클러스터, CI/CD 파이프라인 2025",
	}
	for _, minLen := range []int{2, 3} {
		p, err := NewProfile(WithMinLength(minLen), WithCap(5))
		require.NoError(t, err)
		for _, text := range texts {
			got := p.Extract(text)
			assert.LessOrEqual(t, len(got), 5)
			for i, kw := range got {
				assert.GreaterOrEqual(t, utf8.RuneCountInString(kw.Keyword), minLen, kw.Keyword)
				assert.False(t, p.IsStopWord(kw.Keyword), kw.Keyword)
				assert.Positive(t, kw.Frequency)
				if i > 0 {
					assert.GreaterOrEqual(t, got[i-1].Frequency, kw.Frequency)
				}
			}
		}
	}
}

func TestCanonicalKeyword(t *testing.T) {
	p := DefaultProfile()
	assert.Equal(t, "gpt4", p.CanonicalKeyword(" GPT4 "))
	assert.Equal(t, "택배", p.CanonicalKeyword(norm.NFD.String("택배")))
	assert.Equal(t, "Москва", p.CanonicalKeyword("Москва"))
}
