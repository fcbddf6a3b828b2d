package keywords

import (
	"context"
	"sort"
	"time"

	"newsletter/internal/models"
)

// KeywordSource is the read side of the keyword store.
type KeywordSource interface {
	// KeywordRows returns every keyword occurrence whose article date lies in
	// [since, until].
	KeywordRows(ctx context.Context, since, until time.Time) ([]models.KeywordRow, error)
	// RelatedArticles returns distinct articles containing keyword, newest first.
	RelatedArticles(ctx context.Context, keyword string, limit int) ([]models.RelatedArticle, error)
}

// Window returns the trailing range for the last days days: from the start of
// the UTC day days before now, inclusive, up to now.
func Window(now time.Time, days int) (since, until time.Time) {
	now = now.UTC()
	y, m, d := now.Date()
	since = time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
	return since, now
}

// InWindow reports whether t lies in [since, until].
func InWindow(t, since, until time.Time) bool {
	return !t.Before(since) && !t.After(until)
}

// Aggregate ranks keywords across rows by summed frequency (ties by keyword)
// and attaches the articles that contributed to each total. Related articles
// come from the same rows as the totals, so they can never fall outside the
// window the rows were selected with.
func Aggregate(rows []models.KeywordRow, limit int) []models.AggregatedKeyword {
	if limit <= 0 || len(rows) == 0 {
		return []models.AggregatedKeyword{}
	}

	totals := make(map[string]int)
	related := make(map[string]map[int64]models.RelatedArticle)
	for _, row := range rows {
		totals[row.Keyword] += row.Frequency
		arts, ok := related[row.Keyword]
		if !ok {
			arts = make(map[int64]models.RelatedArticle)
			related[row.Keyword] = arts
		}
		arts[row.ArticleSeq] = models.RelatedArticle{
			Seq:   row.ArticleSeq,
			Title: row.Title,
			URL:   row.URL,
			Date:  row.Date,
		}
	}

	ranked := make([]models.AggregatedKeyword, 0, len(totals))
	for kw, total := range totals {
		ranked = append(ranked, models.AggregatedKeyword{Keyword: kw, TotalFrequency: total})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalFrequency != ranked[j].TotalFrequency {
			return ranked[i].TotalFrequency > ranked[j].TotalFrequency
		}
		return ranked[i].Keyword < ranked[j].Keyword
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	for i := range ranked {
		arts := make([]models.RelatedArticle, 0, len(related[ranked[i].Keyword]))
		for _, a := range related[ranked[i].Keyword] {
			arts = append(arts, a)
		}
		SortRelated(arts)
		ranked[i].RelatedArticles = arts
	}
	return ranked
}

// SortRelated orders articles newest first, higher sequence first on equal dates.
func SortRelated(arts []models.RelatedArticle) {
	sort.Slice(arts, func(i, j int) bool {
		if !arts[i].Date.Equal(arts[j].Date) {
			return arts[i].Date.After(arts[j].Date)
		}
		return arts[i].Seq > arts[j].Seq
	})
}

// Aggregator answers keyword ranking queries. It holds no state between calls.
type Aggregator struct {
	source KeywordSource
	now    func() time.Time
}

// NewAggregator panics on a nil source; that is a wiring bug, not a runtime
// condition.
func NewAggregator(source KeywordSource, now func() time.Time) *Aggregator {
	if source == nil {
		panic("keywords: nil KeywordSource")
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{source: source, now: now}
}

// TopKeywords ranks keywords of articles dated within the last windowDays days.
// Store errors are returned unchanged.
func (a *Aggregator) TopKeywords(ctx context.Context, windowDays, limit int) ([]models.AggregatedKeyword, error) {
	since, until := Window(a.now(), windowDays)
	rows, err := a.source.KeywordRows(ctx, since, until)
	if err != nil {
		return nil, err
	}
	return Aggregate(rows, limit), nil
}

// RelatedArticlesFor is the keyword drill-down; it is not window restricted.
func (a *Aggregator) RelatedArticlesFor(ctx context.Context, keyword string, limit int) ([]models.RelatedArticle, error) {
	arts, err := a.source.RelatedArticles(ctx, keyword, limit)
	if err != nil {
		return nil, err
	}
	if arts == nil {
		arts = []models.RelatedArticle{}
	}
	return arts, nil
}
