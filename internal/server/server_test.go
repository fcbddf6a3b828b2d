package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/app"
	"newsletter/internal/apperr"
	"newsletter/internal/config"
	"newsletter/internal/db"
	"newsletter/internal/fetcher"
	"newsletter/internal/keywords"
	"newsletter/internal/logger"
	"newsletter/internal/metrics"
	"newsletter/internal/models"
)

var fixedNow = time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC)

type mapFetcher map[string]*models.ExtractedArticle

func (m mapFetcher) Fetch(_ context.Context, rawURL string) (*models.ExtractedArticle, error) {
	page, ok := m[rawURL]
	if !ok {
		return nil, apperr.Fetch("mapFetcher.Fetch", errors.New("HTTP 404"))
	}
	copied := *page
	return &copied, nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	today := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	h, _ := buildServer(t, mapFetcher{
		"https://news.example.com/1": {
			Title: "택배 대란", Text: "택배 기사님이 택배를 배달했다 택배 택배", Domain: "news.example.com", Date: today,
		},
		"https://news.example.com/2": {
			Title: "GPT4 news", Text: "GPT4 helps developers. The developers love GPT4.", Domain: "news.example.com", Date: today.AddDate(0, 0, -10),
		},
	}, nil)
	return h.Handler()
}

func buildServer(t *testing.T, f fetcher.Fetcher, tune func(*config.Config)) (*Server, *db.SQLiteStore) {
	t.Helper()

	store, err := db.NewSQLiteStore(":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	obs, err := metrics.NewObserver("test", reg)
	require.NoError(t, err)

	svc := app.NewService(store, f, keywords.DefaultProfile(), logger.Nop(),
		app.WithClock(func() time.Time { return fixedNow }),
		app.WithMetrics(obs))

	cfg := config.Default()
	cfg.Ingest.DelayMS = 0
	if tune != nil {
		tune(cfg)
	}
	return New(svc, cfg, logger.Nop(), WithMetrics(obs, reg)), store
}

func do(t *testing.T, h http.Handler, method, target string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func decode[T any](t *testing.T, data any) T {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec, resp := do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestArticleLifecycle(t *testing.T) {
	h := newTestServer(t)

	rec, resp := do(t, h, http.MethodPost, "/api/articles", map[string]string{"url": "https://news.example.com/1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[addArticleResponse](t, resp.Data)
	require.NotNil(t, added.Article)
	assert.Equal(t, models.KeywordOccurrence{Keyword: "택배", Frequency: 5}, added.Keywords[0])
	seq := added.Article.Seq

	rec, resp = do(t, h, http.MethodPost, "/api/articles", map[string]string{"url": "https://news.example.com/1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = do(t, h, http.MethodPost, "/api/articles", map[string]string{"url": "ftp://news.example.com/1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/articles", map[string]string{"url": "https://news.example.com/404"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/articles", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = do(t, h, http.MethodGet, "/api/admin/articles/"+itoa(seq), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[models.Article](t, resp.Data)
	assert.Equal(t, "https://news.example.com/1", detail.URL)
	assert.NotEmpty(t, detail.Keywords)

	rec, _ = do(t, h, http.MethodPost, "/api/admin/articles/"+itoa(seq)+"/reindex", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/api/articles/"+itoa(seq), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/api/articles/"+itoa(seq), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/api/articles/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/admin/articles/"+itoa(seq), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKeywordRoutes(t *testing.T) {
	h := newTestServer(t)
	for _, u := range []string{"https://news.example.com/1", "https://news.example.com/2"} {
		rec, _ := do(t, h, http.MethodPost, "/api/articles", map[string]string{"url": u})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, resp := do(t, h, http.MethodGet, "/api/keywords/top?days=7&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[[]models.AggregatedKeyword](t, resp.Data)
	require.NotEmpty(t, top)
	assert.Equal(t, "택배", top[0].Keyword)
	for _, kw := range top {
		assert.NotEqual(t, "gpt4", kw.Keyword, "ten day old article is outside the window")
	}

	rec, resp = do(t, h, http.MethodGet, "/api/keywords/top?days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top = decode[[]models.AggregatedKeyword](t, resp.Data)
	assert.Equal(t, "택배", top[0].Keyword)
	assert.Equal(t, "gpt4", top[1].Keyword)

	rec, _ = do(t, h, http.MethodGet, "/api/keywords/top?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = do(t, h, http.MethodGet, "/api/keywords/GPT4/articles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	related := decode[[]models.RelatedArticle](t, resp.Data)
	require.Len(t, related, 1)
	assert.Equal(t, "https://news.example.com/2", related[0].URL)
}

func TestArticleQueries(t *testing.T) {
	h := newTestServer(t)
	for _, u := range []string{"https://news.example.com/1", "https://news.example.com/2"} {
		rec, _ := do(t, h, http.MethodPost, "/api/articles", map[string]string{"url": u})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, resp := do(t, h, http.MethodGet, "/api/articles/recent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Article](t, resp.Data), 1)

	rec, resp = do(t, h, http.MethodGet, "/api/articles/search?keyword=developers&startDate=2026-10-01&endDate=2026-10-16", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[[]models.Article](t, resp.Data)
	require.Len(t, found, 1)
	assert.Equal(t, "https://news.example.com/2", found[0].URL)

	rec, _ = do(t, h, http.MethodGet, "/api/articles/search?startDate=not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = do(t, h, http.MethodGet, "/api/admin/articles?page=1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[models.ArticlePage](t, resp.Data)
	assert.Equal(t, models.Page{Total: 2, Page: 1, Limit: 1, TotalPages: 2}, page.Pagination)

	rec, resp = do(t, h, http.MethodGet, "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[models.Stats](t, resp.Data)
	assert.Equal(t, 2, st.TotalArticles)
	assert.Equal(t, "news.example.com", st.TopDomain)
}

func TestBatchIngestRoute(t *testing.T) {
	h := newTestServer(t)

	rec, resp := do(t, h, http.MethodPost, "/api/admin/ingest", map[string][]string{
		"urls": {"https://news.example.com/1", "https://news.example.com/1", "https://news.example.com/404"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[app.IngestSummary](t, resp.Data)
	assert.Equal(t, 1, summary.Added)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)

	rec, _ = do(t, h, http.MethodPost, "/api/admin/ingest", map[string][]string{"urls": {}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectsNonJSONBody(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/articles", strings.NewReader("url=https://x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)
	do(t, h, http.MethodGet, "/api/health", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_request_duration_seconds")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	srv, store := buildServer(t, mapFetcher{}, nil)
	require.NoError(t, store.Close())

	rec, resp := do(t, srv.Handler(), http.MethodGet, "/api/admin/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "internal error", resp.Message)
	assert.Empty(t, resp.Error)
	assert.NotContains(t, rec.Body.String(), "sql")
}

type slowFetcher struct {
	delay time.Duration
}

func (f slowFetcher) Fetch(ctx context.Context, rawURL string) (*models.ExtractedArticle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.delay):
	}
	return &models.ExtractedArticle{
		Title:  "택배",
		Text:   "택배 물류 " + rawURL,
		Domain: "news.example.com",
		Date:   fixedNow,
	}, nil
}

func TestBatchIngestOutlastsWriteTimeout(t *testing.T) {
	srv, _ := buildServer(t, slowFetcher{delay: 400 * time.Millisecond}, func(cfg *config.Config) {
		cfg.Ingest.Workers = 1
	})

	ts := httptest.NewUnstartedServer(srv.Handler())
	ts.Config.WriteTimeout = time.Second
	ts.Start()
	t.Cleanup(ts.Close)

	raw, err := json.Marshal(map[string][]string{"urls": {
		"https://news.example.com/a",
		"https://news.example.com/b",
		"https://news.example.com/c",
		"https://news.example.com/d",
	}})
	require.NoError(t, err)

	resp, err := ts.Client().Post(ts.URL+"/api/admin/ingest", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	summary := decode[app.IngestSummary](t, body.Data)
	assert.Equal(t, 4, summary.Added)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
