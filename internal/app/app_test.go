package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/apperr"
	"newsletter/internal/db"
	"newsletter/internal/keywords"
	"newsletter/internal/logger"
	"newsletter/internal/metrics"
	"newsletter/internal/models"
)

var fixedNow = time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]*models.ExtractedArticle
	calls atomic.Int32
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{pages: make(map[string]*models.ExtractedArticle)}
}

func (f *stubFetcher) add(url, title, text string, date time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = &models.ExtractedArticle{
		URL:    url,
		Title:  title,
		Text:   text,
		Domain: "news.example.com",
		Date:   date,
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) (*models.ExtractedArticle, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[rawURL]
	if !ok {
		return nil, apperr.Fetch("stubFetcher.Fetch", errors.New("HTTP 404"))
	}
	copied := *page
	return &copied, nil
}

func newTestService(t *testing.T, f *stubFetcher, opts ...Option) (*Service, *db.SQLiteStore) {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(store, f, keywords.DefaultProfile(), logger.Nop(), opts...), store
}

func TestAddArticle(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "택배 대란", "택배 기사님이 택배를 배달했다 택배 택배", day(-1))
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.AddArticle(ctx, "  https://news.example.com/1#comments ")
	require.NoError(t, err)
	assert.Positive(t, a.Seq)
	assert.Equal(t, "https://news.example.com/1", a.URL)
	assert.Equal(t, day(-1), a.Date)
	assert.NotEmpty(t, a.ContentHash)
	require.NotEmpty(t, a.Keywords)
	assert.Equal(t, models.KeywordOccurrence{Keyword: "택배", Frequency: 5}, a.Keywords[0], "title and body are both counted")

	stored, err := svc.ArticleDetail(ctx, a.Seq)
	require.NoError(t, err)
	assert.Equal(t, a.Keywords, stored.Keywords)
	assert.Equal(t, fixedNow, stored.CreatedAt)
}

func TestAddArticleRejectsDuplicateBeforeFetching(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "택배", "택배 물류", day(0))
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	first, err := svc.AddArticle(ctx, "https://news.example.com/1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.calls.Load())

	_, err = svc.AddArticle(ctx, "https://news.example.com/1")
	assert.ErrorIs(t, err, apperr.ErrDuplicate)
	assert.EqualValues(t, 1, f.calls.Load())

	stored, err := svc.ArticleDetail(ctx, first.Seq)
	require.NoError(t, err)
	assert.Equal(t, first.Keywords, stored.Keywords)
}

func TestAddArticleConcurrentSameURL(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "택배", "택배 물류 택배", day(0))
	svc, store := newTestService(t, f)
	ctx := context.Background()

	const callers = 16
	var (
		wg        sync.WaitGroup
		added     atomic.Int32
		duplicate atomic.Int32
		other     atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddArticle(ctx, "https://news.example.com/1")
			switch {
			case err == nil:
				added.Add(1)
			case errors.Is(err, apperr.ErrDuplicate):
				duplicate.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), added.Load())
	assert.Equal(t, int32(callers-1), duplicate.Load())
	assert.Zero(t, other.Load())

	_, total, err := store.ListArticles(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestAddArticleErrors(t *testing.T) {
	svc, _ := newTestService(t, newStubFetcher())
	ctx := context.Background()

	_, err := svc.AddArticle(ctx, "not a url")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.AddArticle(ctx, "https://news.example.com/missing")
	assert.ErrorIs(t, err, apperr.ErrFetch)
}

func TestAddArticleDefaultsDateToToday(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "제목", "본문 내용", time.Time{})
	svc, _ := newTestService(t, f)

	a, err := svc.AddArticle(context.Background(), "https://news.example.com/1")
	require.NoError(t, err)
	assert.Equal(t, day(0), a.Date)
}

func TestTopKeywordsWindow(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/today", "오늘", "반도체", day(0))
	f.add("https://news.example.com/ten", "열흘", "반도체", day(-10))
	f.add("https://news.example.com/thirty", "한달", "반도체", day(-30))
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	for _, u := range []string{"https://news.example.com/today", "https://news.example.com/ten", "https://news.example.com/thirty"} {
		_, err := svc.AddArticle(ctx, u)
		require.NoError(t, err)
	}

	top, err := svc.TopKeywords(ctx, 7, 10)
	require.NoError(t, err)

	var found *models.AggregatedKeyword
	for i := range top {
		if top[i].Keyword == "반도체" {
			found = &top[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 1, found.TotalFrequency)
	require.Len(t, found.RelatedArticles, 1)
	assert.Equal(t, "https://news.example.com/today", found.RelatedArticles[0].URL)

	related, err := svc.RelatedArticles(ctx, "반도체", 5)
	require.NoError(t, err)
	assert.Len(t, related, 3, "drill-down is not window restricted")
}

func TestRelatedArticlesFoldsLatinKeyword(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "GPT4 news", "GPT4 helps developers", day(0))
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	_, err := svc.AddArticle(ctx, "https://news.example.com/1")
	require.NoError(t, err)

	related, err := svc.RelatedArticles(ctx, "GPT4", 5)
	require.NoError(t, err)
	assert.Len(t, related, 1)
}

func TestDeleteArticleCascades(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "택배", "택배 물류 택배", day(0))
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.AddArticle(ctx, "https://news.example.com/1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteArticle(ctx, a.Seq))

	top, err := svc.TopKeywords(ctx, 7, 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	related, err := svc.RelatedArticles(ctx, "택배", 5)
	require.NoError(t, err)
	assert.Empty(t, related)

	assert.ErrorIs(t, svc.DeleteArticle(ctx, a.Seq), apperr.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteArticle(ctx, 0), apperr.ErrValidation)
}

func TestReindexArticle(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "택배", "택배 물류 택배", day(0))
	svc, store := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.AddArticle(ctx, "https://news.example.com/1")
	require.NoError(t, err)
	require.NoError(t, store.ReplaceKeywords(ctx, a.Seq, []models.KeywordOccurrence{{Keyword: "엉뚱", Frequency: 9}}))

	re, err := svc.ReindexArticle(ctx, a.Seq)
	require.NoError(t, err)
	assert.Equal(t, a.Keywords, re.Keywords)

	_, err = svc.ReindexArticle(ctx, a.Seq+10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReadValidation(t *testing.T) {
	svc, _ := newTestService(t, newStubFetcher())
	ctx := context.Background()

	_, err := svc.TopKeywords(ctx, -1, 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.TopKeywords(ctx, 7, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.RecentArticles(ctx, 7, MaxLimit+1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.RelatedArticles(ctx, "  ", 5)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.AdminArticles(ctx, 0, 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.SearchArticles(ctx, models.ArticleFilter{StartDate: day(0), EndDate: day(-1), Limit: 10})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.ArticleDetail(ctx, -3)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSearchAndAdminArticles(t *testing.T) {
	f := newStubFetcher()
	for i := 0; i < 3; i++ {
		f.add(fmt.Sprintf("https://news.example.com/%d", i), fmt.Sprintf("기사 %d", i), "반도체 반도체 수출 증가", day(-i))
	}
	svc, _ := newTestService(t, f)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.AddArticle(ctx, fmt.Sprintf("https://news.example.com/%d", i))
		require.NoError(t, err)
	}

	found, err := svc.SearchArticles(ctx, models.ArticleFilter{
		Query:     "반도체",
		StartDate: day(-1).Add(5 * time.Hour),
		EndDate:   day(0).Add(20 * time.Hour),
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Len(t, found, 2, "filter dates are whole UTC days")

	page, err := svc.AdminArticles(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Page{Total: 3, Page: 2, Limit: 2, TotalPages: 2}, page.Pagination)
	require.Len(t, page.Articles, 1)
	assert.Equal(t, "https://news.example.com/2", page.Articles[0].URL)

	recent, err := svc.RecentArticles(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalArticles)
	assert.Equal(t, "반도체", st.TopKeyword)
}

func TestHealth(t *testing.T) {
	svc, store := newTestService(t, newStubFetcher())
	h := svc.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, fixedNow, h.Timestamp)

	require.NoError(t, store.Close())
	h = svc.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
}

func TestIngestAll(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "택배", "택배 물류", day(0))
	f.add("https://news.example.com/2", "반도체", "반도체 수출", day(0))
	f.add("https://news.example.com/3", "환율", "환율 상승", day(0))

	reg := prometheus.NewRegistry()
	obs, err := metrics.NewObserver("test", reg)
	require.NoError(t, err)
	svc, _ := newTestService(t, f, WithMetrics(obs))
	ctx := context.Background()

	_, err = svc.AddArticle(ctx, "https://news.example.com/3")
	require.NoError(t, err)

	summary := svc.IngestAll(ctx, []string{
		"https://news.example.com/1",
		"https://www.news.example.com/1#dup",
		"https://news.example.com/2",
		"https://news.example.com/3",
		"https://news.example.com/missing",
		"",
	}, BatchOptions{Workers: 3})

	assert.Equal(t, 2, summary.Added)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Results, 6)

	statuses := make([]string, len(summary.Results))
	for i, r := range summary.Results {
		statuses[i] = r.Status
	}
	assert.Equal(t, []string{StatusAdded, StatusSkipped, StatusAdded, StatusSkipped, StatusFailed, StatusFailed}, statuses)
	assert.Positive(t, summary.Results[0].Seq)
}

func TestIngestAllBatchLimit(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "택배", "택배 물류", day(0))
	f.add("https://news.example.com/2", "반도체", "반도체 수출", day(0))
	svc, _ := newTestService(t, f)

	summary := svc.IngestAll(context.Background(), []string{
		"https://news.example.com/1",
		"https://news.example.com/2",
		"https://news.example.com/1",
		"https://news.example.com/3",
	}, BatchOptions{Workers: 1, MaxURLs: 2})

	assert.Equal(t, 2, summary.Added)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "duplicate in batch", summary.Results[2].Error)
	assert.Equal(t, StatusFailed, summary.Results[3].Status)
	assert.Equal(t, errOverBatchLimit, summary.Results[3].Error)
}

func TestIngestAllCanceled(t *testing.T) {
	f := newStubFetcher()
	f.add("https://news.example.com/1", "택배", "택배 물류", day(0))
	svc, _ := newTestService(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := svc.IngestAll(ctx, []string{"https://news.example.com/1"}, BatchOptions{Workers: 2})
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, context.Canceled.Error(), summary.Results[0].Error)
}
