package urlqueue

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxSitemapBytes = 50 << 20

// maxSitemapDepth bounds sitemap index nesting.
const maxSitemapDepth = 3

type sitemapIndex struct {
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type urlSet struct {
	URLs []sitemapEntry `xml:"url"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// ParseSitemap returns the page URLs listed by a sitemap. A sitemap index is
// followed into its child sitemaps. A nil client means http.DefaultClient.
func ParseSitemap(ctx context.Context, client *http.Client, sitemapURL string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return parseSitemap(ctx, client, sitemapURL, 0)
}

func parseSitemap(ctx context.Context, client *http.Client, sitemapURL string, depth int) ([]string, error) {
	if depth > maxSitemapDepth {
		return nil, fmt.Errorf("sitemap %s: index nested too deep", sitemapURL)
	}

	data, err := fetchSitemap(ctx, client, sitemapURL)
	if err != nil {
		return nil, err
	}

	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("sitemap %s: %w", sitemapURL, err)
	}

	switch root.XMLName.Local {
	case "sitemapindex":
		var si sitemapIndex
		if err := xml.Unmarshal(data, &si); err != nil {
			return nil, fmt.Errorf("sitemap %s: %w", sitemapURL, err)
		}
		var urls []string
		for _, s := range si.Sitemaps {
			loc := strings.TrimSpace(s.Loc)
			if loc == "" {
				continue
			}
			child, err := parseSitemap(ctx, client, loc, depth+1)
			if err != nil {
				return nil, err
			}
			urls = append(urls, child...)
		}
		return urls, nil
	case "urlset":
		var us urlSet
		if err := xml.Unmarshal(data, &us); err != nil {
			return nil, fmt.Errorf("sitemap %s: %w", sitemapURL, err)
		}
		urls := make([]string, 0, len(us.URLs))
		for _, u := range us.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				urls = append(urls, loc)
			}
		}
		return urls, nil
	default:
		return nil, fmt.Errorf("sitemap %s: unexpected root element <%s>", sitemapURL, root.XMLName.Local)
	}
}

func fetchSitemap(ctx context.Context, client *http.Client, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap %s: HTTP %d", sitemapURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
}
