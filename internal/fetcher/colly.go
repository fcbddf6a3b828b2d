package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"

	"newsletter/internal/apperr"
	"newsletter/internal/config"
	"newsletter/internal/logger"
	"newsletter/internal/models"
)

// CollyFetcher loads pages through a colly collector, which brings robots.txt
// handling and user agent rotation.
type CollyFetcher struct {
	base     *colly.Collector
	rotateUA bool
	minText  int
	log      *logger.Logger
	now      func() time.Time
}

func NewCollyFetcher(cfg config.FetcherConfig, log *logger.Logger) *CollyFetcher {
	c := colly.NewCollector(
		colly.MaxBodySize(maxBodyBytes),
	)
	c.SetRequestTimeout(cfg.Timeout())
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.AllowURLRevisit = true
	c.DetectCharset = true

	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &CollyFetcher{
		base:     c,
		rotateUA: cfg.UserAgent == "",
		minText:  cfg.MinTextLength,
		log:      log.With("component", "colly_fetcher"),
		now:      time.Now,
	}
}

func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (*models.ExtractedArticle, error) {
	const op = "CollyFetcher.Fetch"

	u, err := ParseArticleURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Fetch(op, err)
	}

	// Clone shares configuration but not callbacks, so concurrent fetches do
	// not see each other's responses.
	c := f.base.Clone()
	if f.rotateUA {
		extensions.RandomUserAgent(c)
	}

	var (
		body     []byte
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("HTTP %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := c.Visit(u.String()); err != nil {
		f.log.Warn("page download failed", "url", u.String(), "error", err)
		return nil, apperr.Fetch(op, err)
	}
	if fetchErr != nil {
		f.log.Warn("page download failed", "url", u.String(), "error", fetchErr)
		return nil, apperr.Fetch(op, fetchErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Fetch(op, err)
	}
	if body == nil {
		return nil, apperr.Fetch(op, errNoContent)
	}

	article, err := Extract(string(body), u, f.now())
	if err != nil {
		return nil, apperr.Fetch(op, err)
	}
	if len([]rune(article.Text)) < f.minText {
		return nil, apperr.Fetch(op, fmt.Errorf("page text too short (%d chars)", len([]rune(article.Text))))
	}
	return article, nil
}
