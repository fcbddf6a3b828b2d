// Package fetcher loads an article page and extracts its title, text and
// publication date.
package fetcher

import (
	"context"
	"net/url"
	"strings"
	"time"

	"newsletter/internal/apperr"
	"newsletter/internal/config"
	"newsletter/internal/logger"
	"newsletter/internal/models"
)

// Fetcher returns the readable content of one article page. Failures are
// apperr Fetch errors; a malformed URL is a Validation error.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.ExtractedArticle, error)
}

// New builds the fetcher selected by cfg.Engine.
func New(cfg config.FetcherConfig, log *logger.Logger) Fetcher {
	if cfg.Engine == "colly" {
		return NewCollyFetcher(cfg, log)
	}
	return NewHTTPFetcher(cfg, log)
}

// ParseArticleURL validates an absolute http(s) URL and drops its fragment.
func ParseArticleURL(rawURL string) (*url.URL, error) {
	const op = "ParseArticleURL"

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.Validation(op, "url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperr.Validation(op, "malformed url: "+err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.Validation(op, "url must use http or https")
	}
	if u.Hostname() == "" {
		return nil, apperr.Validation(op, "url has no host")
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
