package db

import (
	"context"
	"fmt"
	"time"

	"newsletter/internal/config"
	"newsletter/internal/logger"
	"newsletter/internal/models"
)

// Store persists articles together with the keyword occurrences they own.
//
// Implementations must make InsertArticle and ReplaceKeywords atomic: a reader
// sees an article with all of its keywords or not at all. Duplicate URLs fail
// with an apperr Duplicate error, missing rows with NotFound, anything else
// with Storage.
type Store interface {
	InsertArticle(ctx context.Context, a *models.Article) (int64, error)
	ReplaceKeywords(ctx context.Context, seq int64, kws []models.KeywordOccurrence) error
	DeleteArticle(ctx context.Context, seq int64) error
	GetArticle(ctx context.Context, seq int64) (*models.Article, error)
	ArticleExists(ctx context.Context, url string) (bool, error)

	RecentArticles(ctx context.Context, since time.Time, limit int) ([]models.Article, error)
	SearchArticles(ctx context.Context, f models.ArticleFilter) ([]models.Article, error)
	ListArticles(ctx context.Context, offset, limit int) ([]models.ArticleSummary, int, error)

	// KeywordRows returns every occurrence whose article date is in [since, until].
	KeywordRows(ctx context.Context, since, until time.Time) ([]models.KeywordRow, error)
	RelatedArticles(ctx context.Context, keyword string, limit int) ([]models.RelatedArticle, error)
	Stats(ctx context.Context) (*models.Stats, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open connects the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DBConfig, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, log)
	case "mongo":
		return NewMongoDB(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

// dedupeKeywords keeps one occurrence per keyword, the last one winning, in
// first-seen order. Non-positive frequencies are dropped.
func dedupeKeywords(kws []models.KeywordOccurrence) []models.KeywordOccurrence {
	index := make(map[string]int, len(kws))
	out := make([]models.KeywordOccurrence, 0, len(kws))
	for _, kw := range kws {
		if kw.Keyword == "" || kw.Frequency <= 0 {
			continue
		}
		if i, ok := index[kw.Keyword]; ok {
			out[i].Frequency = kw.Frequency
			continue
		}
		index[kw.Keyword] = len(out)
		out = append(out, kw)
	}
	return out
}

func unixToTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
