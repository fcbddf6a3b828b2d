package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"newsletter/internal/apperr"
	"newsletter/internal/db"
	"newsletter/internal/fetcher"
	"newsletter/internal/keywords"
	"newsletter/internal/logger"
	"newsletter/internal/metrics"
	"newsletter/internal/models"
	urlqueue "newsletter/internal/url_queue"
)

const (
	DefaultWindowDays   = 7
	DefaultLimit        = 10
	DefaultRelatedLimit = 5
	MaxLimit            = 100
	MaxWindowDays       = 365
)

// Service ingests articles and answers every read query. It is safe for
// concurrent use; all state lives in the store.
type Service struct {
	store      db.Store
	fetcher    fetcher.Fetcher
	profile    *keywords.Profile
	aggregator *keywords.Aggregator
	metrics    *metrics.Observer
	log        *logger.Logger
	now        func() time.Time
	started    time.Time
}

type Option func(*Service)

// WithClock replaces time.Now for window computation and creation stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(o *metrics.Observer) Option {
	return func(s *Service) { s.metrics = o }
}

func NewService(store db.Store, f fetcher.Fetcher, profile *keywords.Profile, log *logger.Logger, opts ...Option) *Service {
	if profile == nil {
		profile = keywords.DefaultProfile()
	}
	s := &Service{
		store:   store,
		fetcher: f,
		profile: profile,
		log:     log.With("component", "service"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.aggregator = keywords.NewAggregator(store, s.now)
	s.started = s.now()
	return s
}

// AddArticle fetches url, extracts its keywords and stores both atomically.
// A URL that is already stored fails with a Duplicate error before any
// network access.
func (s *Service) AddArticle(ctx context.Context, rawURL string) (*models.Article, error) {
	const op = "Service.AddArticle"

	article, err := s.addArticle(ctx, rawURL)
	kwCount := 0
	if article != nil {
		kwCount = len(article.Keywords)
	}
	s.metrics.RecordIngest(kwCount, err)

	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindDuplicate, apperr.KindValidation:
			s.log.Info("article rejected", "op", op, "url", rawURL, "reason", err)
		default:
			s.log.Error("article ingestion failed", "op", op, "url", rawURL, "error", err)
		}
		return nil, err
	}

	s.log.Info("article added", "seq", article.Seq, "url", article.URL, "keywords", kwCount)
	return article, nil
}

func (s *Service) addArticle(ctx context.Context, rawURL string) (*models.Article, error) {
	const op = "Service.AddArticle"

	u, err := fetcher.ParseArticleURL(rawURL)
	if err != nil {
		return nil, err
	}
	pageURL := u.String()

	exists, err := s.store.ArticleExists(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Duplicate(op, pageURL)
	}

	started := time.Now()
	page, err := s.fetcher.Fetch(ctx, pageURL)
	s.metrics.RecordFetch(time.Since(started))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Fetch(op, err)
		}
		return nil, err
	}

	article := &models.Article{
		URL:         pageURL,
		Title:       strings.TrimSpace(page.Title),
		Date:        page.Date,
		Content:     page.Text,
		Domain:      page.Domain,
		ContentHash: urlqueue.ComputeContentHash(page.Text),
		CreatedAt:   s.now().UTC(),
		Keywords:    s.profile.Extract(page.Title + " " + page.Text),
	}
	if article.Domain == "" {
		article.Domain = u.Hostname()
	}
	if article.Date.IsZero() {
		article.Date = s.now()
	}
	article.Date = startOfDay(article.Date)

	if _, err := s.store.InsertArticle(ctx, article); err != nil {
		return nil, err
	}
	return article, nil
}

// ReindexArticle recomputes the keywords of a stored article with the current
// profile and replaces the old set.
func (s *Service) ReindexArticle(ctx context.Context, seq int64) (*models.Article, error) {
	const op = "Service.ReindexArticle"

	if seq <= 0 {
		return nil, apperr.Validation(op, "article seq must be positive")
	}
	article, err := s.store.GetArticle(ctx, seq)
	if err != nil {
		return nil, err
	}
	article.Keywords = s.profile.Extract(article.Title + " " + article.Content)
	if err := s.store.ReplaceKeywords(ctx, seq, article.Keywords); err != nil {
		s.log.Error("reindex failed", "seq", seq, "error", err)
		return nil, err
	}
	s.log.Info("article reindexed", "seq", seq, "keywords", len(article.Keywords))
	return article, nil
}

func (s *Service) DeleteArticle(ctx context.Context, seq int64) error {
	const op = "Service.DeleteArticle"

	if seq <= 0 {
		return apperr.Validation(op, "article seq must be positive")
	}
	if err := s.store.DeleteArticle(ctx, seq); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.log.Error("article delete failed", "seq", seq, "error", err)
		}
		return err
	}
	s.log.Info("article deleted", "seq", seq)
	return nil
}

func (s *Service) RecentArticles(ctx context.Context, days, limit int) ([]models.Article, error) {
	const op = "Service.RecentArticles"

	if err := validateWindow(op, days, limit); err != nil {
		return nil, err
	}
	since, _ := keywords.Window(s.now(), days)

	var arts []models.Article
	err := s.observe("recent_articles", func() (err error) {
		arts, err = s.store.RecentArticles(ctx, since, limit)
		return err
	})
	return arts, err
}

func (s *Service) SearchArticles(ctx context.Context, f models.ArticleFilter) ([]models.Article, error) {
	const op = "Service.SearchArticles"

	f.Query = strings.TrimSpace(f.Query)
	if f.Limit <= 0 || f.Limit > MaxLimit {
		return nil, apperr.Validation(op, fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}
	if !f.StartDate.IsZero() {
		f.StartDate = startOfDay(f.StartDate)
	}
	if !f.EndDate.IsZero() {
		f.EndDate = startOfDay(f.EndDate)
	}
	if !f.StartDate.IsZero() && !f.EndDate.IsZero() && f.StartDate.After(f.EndDate) {
		return nil, apperr.Validation(op, "startDate must not be after endDate")
	}

	var arts []models.Article
	err := s.observe("search_articles", func() (err error) {
		arts, err = s.store.SearchArticles(ctx, f)
		return err
	})
	return arts, err
}

// TopKeywords ranks keywords over articles dated within the last days days.
func (s *Service) TopKeywords(ctx context.Context, days, limit int) ([]models.AggregatedKeyword, error) {
	const op = "Service.TopKeywords"

	if err := validateWindow(op, days, limit); err != nil {
		return nil, err
	}

	var ranked []models.AggregatedKeyword
	err := s.observe("top_keywords", func() (err error) {
		ranked, err = s.aggregator.TopKeywords(ctx, days, limit)
		return err
	})
	return ranked, err
}

func (s *Service) RelatedArticles(ctx context.Context, keyword string, limit int) ([]models.RelatedArticle, error) {
	const op = "Service.RelatedArticles"

	keyword = s.profile.CanonicalKeyword(keyword)
	if keyword == "" {
		return nil, apperr.Validation(op, "keyword is required")
	}
	if limit <= 0 || limit > MaxLimit {
		return nil, apperr.Validation(op, fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}

	var arts []models.RelatedArticle
	err := s.observe("related_articles", func() (err error) {
		arts, err = s.aggregator.RelatedArticlesFor(ctx, keyword, limit)
		return err
	})
	return arts, err
}

// AdminArticles pages through every stored article, newest first. Pages are
// numbered from 1.
func (s *Service) AdminArticles(ctx context.Context, page, limit int) (*models.ArticlePage, error) {
	const op = "Service.AdminArticles"

	if page < 1 {
		return nil, apperr.Validation(op, "page must be at least 1")
	}
	if limit <= 0 || limit > MaxLimit {
		return nil, apperr.Validation(op, fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}

	var (
		arts  []models.ArticleSummary
		total int
	)
	err := s.observe("admin_articles", func() (err error) {
		arts, total, err = s.store.ListArticles(ctx, (page-1)*limit, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if arts == nil {
		arts = []models.ArticleSummary{}
	}
	return &models.ArticlePage{
		Articles: arts,
		Pagination: models.Page{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

func (s *Service) ArticleDetail(ctx context.Context, seq int64) (*models.Article, error) {
	if seq <= 0 {
		return nil, apperr.Validation("Service.ArticleDetail", "article seq must be positive")
	}
	var article *models.Article
	err := s.observe("article_detail", func() (err error) {
		article, err = s.store.GetArticle(ctx, seq)
		return err
	})
	return article, err
}

func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	var st *models.Stats
	err := s.observe("stats", func() (err error) {
		st, err = s.store.Stats(ctx)
		return err
	})
	return st, err
}

// Health reports store reachability.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Store     string    `json:"store"`
}

func (s *Service) Health(ctx context.Context) Health {
	now := s.now()
	h := Health{
		Status:    "ok",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(s.started).Round(time.Second).String(),
		Store:     "ok",
	}
	if err := s.store.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Store = err.Error()
	}
	return h
}

func (s *Service) observe(operation string, fn func() error) error {
	started := time.Now()
	err := fn()
	s.metrics.RecordQuery(operation, time.Since(started), err)
	if err != nil && apperr.KindOf(err) == apperr.KindStorage {
		s.log.Error("query failed", "operation", operation, "error", err)
	}
	return err
}

func validateWindow(op string, days, limit int) error {
	if days < 0 || days > MaxWindowDays {
		return apperr.Validation(op, fmt.Sprintf("days must be between 0 and %d", MaxWindowDays))
	}
	if limit <= 0 || limit > MaxLimit {
		return apperr.Validation(op, fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
