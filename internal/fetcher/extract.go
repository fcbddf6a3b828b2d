package fetcher

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/go-shiori/go-readability"

	"newsletter/internal/models"
)

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reBlockOpen  = regexp.MustCompile(`<(div|p|br|li|td|tr|h[1-6])(\s[^>]*)?/?>`)
	reBlockClose = regexp.MustCompile(`</(div|p|li|td|tr|h[1-6])>`)
)

var errNoContent = errors.New("no readable content on page")

// date candidates in priority order: attribute to read, "" for element text
var dateSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="article:published_time"]`, "content"},
	{`meta[name="article:published_time"]`, "content"},
	{`meta[itemprop="datePublished"]`, "content"},
	{`meta[name="pubdate"]`, "content"},
	{`meta[name="date"]`, "content"},
	{`time[datetime]`, "datetime"},
	{`[datetime]`, "datetime"},
	{`.date`, ""},
	{`.published`, ""},
	{`time`, ""},
}

var contentSelectors = []string{"article", ".article-content", ".entry-content", `[class*="content"]`, "body"}

// Extract turns a raw HTML page into an article. now is used when the page
// carries no parseable publication date.
func Extract(rawHTML string, pageURL *url.URL, now time.Time) (*models.ExtractedArticle, error) {
	page, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	out := &models.ExtractedArticle{
		URL:    pageURL.String(),
		Domain: pageURL.Hostname(),
		Date:   publicationDate(page, now),
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), pageURL)
	if err == nil {
		out.Title = strings.TrimSpace(article.Title)
		out.HTML = article.Content
		out.Excerpt = article.Excerpt
		out.Text, err = htmlToText(article.Content)
		if err != nil {
			return nil, err
		}
	}

	if out.Title == "" {
		out.Title = fallbackTitle(page)
	}
	if out.Text == "" {
		out.Text = fallbackText(page)
	}
	if out.Text == "" {
		return nil, errNoContent
	}
	return out, nil
}

func htmlToText(fragment string) (string, error) {
	spaced := reBlockOpen.ReplaceAllString(fragment, " $0")
	spaced = reBlockClose.ReplaceAllString(spaced, "$0 ")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaced))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, figure, aside").Remove()
	return normalizeText(doc.Text()), nil
}

func normalizeText(text string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
}

func fallbackText(page *goquery.Document) string {
	page.Find("script, style, nav, header, footer, aside").Remove()
	for _, sel := range contentSelectors {
		if text := normalizeText(page.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func fallbackTitle(page *goquery.Document) string {
	for _, sel := range []string{"h1", "title", ".article-title", ".entry-title"} {
		if title := normalizeText(page.Find(sel).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

// publicationDate returns the UTC day the page says it was published, or the
// current day.
func publicationDate(page *goquery.Document, now time.Time) time.Time {
	for _, candidate := range dateSelectors {
		var found time.Time
		page.Find(candidate.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value := strings.TrimSpace(s.Text())
			if candidate.attr != "" {
				value, _ = s.Attr(candidate.attr)
			}
			if value == "" {
				return true
			}
			t, err := dateparse.ParseIn(strings.TrimSpace(value), time.UTC)
			if err != nil {
				return true
			}
			found = t
			return false
		})
		if !found.IsZero() {
			return today(found)
		}
	}
	return today(now)
}
