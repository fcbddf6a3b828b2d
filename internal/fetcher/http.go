package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"

	"newsletter/internal/apperr"
	"newsletter/internal/config"
	"newsletter/internal/logger"
	"newsletter/internal/models"
)

const maxBodyBytes = 10 << 20

var (
	errCaptcha       = errors.New("captcha detected")
	errRobotsBlocked = errors.New("blocked by robots.txt")
)

// HTTPFetcher loads pages with a plain net/http client.
type HTTPFetcher struct {
	client        *http.Client
	userAgent     string
	respectRobots bool
	minText       int
	log           *logger.Logger
	now           func() time.Time

	// host -> *robotstxt.Group, nil when robots.txt was unavailable
	robots sync.Map
}

func NewHTTPFetcher(cfg config.FetcherConfig, log *logger.Logger) *HTTPFetcher {
	jar, _ := cookiejar.New(nil)
	maxHops := cfg.MaxRedirects
	if maxHops <= 0 {
		maxHops = 10
	}

	return &HTTPFetcher{
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxHops {
					return fmt.Errorf("stopped after %d redirects", maxHops)
				}
				return nil
			},
		},
		userAgent:     cfg.UserAgent,
		respectRobots: cfg.RespectRobots,
		minText:       cfg.MinTextLength,
		log:           log.With("component", "http_fetcher"),
		now:           time.Now,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*models.ExtractedArticle, error) {
	const op = "HTTPFetcher.Fetch"

	u, err := ParseArticleURL(rawURL)
	if err != nil {
		return nil, err
	}

	if f.respectRobots && !f.allowedByRobots(ctx, u) {
		return nil, apperr.Fetch(op, errRobotsBlocked)
	}

	body, err := f.get(ctx, u.String())
	if err != nil {
		f.log.Warn("page download failed", "url", u.String(), "error", err)
		return nil, apperr.Fetch(op, err)
	}

	article, err := Extract(body, u, f.now())
	if err != nil {
		f.log.Warn("text extraction failed", "url", u.String(), "error", err)
		return nil, apperr.Fetch(op, err)
	}
	if len([]rune(article.Text)) < f.minText {
		return nil, apperr.Fetch(op, fmt.Errorf("page text too short (%d chars)", len([]rune(article.Text))))
	}
	return article, nil
}

func (f *HTTPFetcher) get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	utf8Reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		utf8Reader = resp.Body
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(utf8Reader, maxBodyBytes))
	if err != nil {
		return "", err
	}

	body := string(bodyBytes)
	lowerBody := strings.ToLower(body)
	if strings.Contains(lowerBody, "captcha") && strings.Contains(lowerBody, "security check") {
		return "", errCaptcha
	}
	return body, nil
}

func (f *HTTPFetcher) allowedByRobots(ctx context.Context, u *url.URL) bool {
	group := f.robotsGroup(ctx, u)
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (f *HTTPFetcher) robotsGroup(ctx context.Context, u *url.URL) *robotstxt.Group {
	host := u.Scheme + "://" + u.Host
	if cached, ok := f.robots.Load(host); ok {
		group, _ := cached.(*robotstxt.Group)
		return group
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		// not cached, the next fetch retries
		f.log.Debug("robots.txt unavailable, allowing", "host", host, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		f.log.Debug("robots.txt server error, allowing", "host", host, "status", resp.StatusCode)
		return nil
	}

	var group *robotstxt.Group
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		f.log.Debug("robots.txt unparseable, allowing", "host", host, "error", err)
	} else {
		group = data.FindGroup(f.userAgent)
	}
	f.robots.Store(host, group)
	return group
}
