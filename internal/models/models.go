package models

import "time"

// ExtractedArticle is what a fetcher returns for one page.
type ExtractedArticle struct {
	URL     string
	Title   string
	Text    string
	HTML    string
	Excerpt string
	Domain  string
	Date    time.Time
}

// KeywordOccurrence is one keyword of one article. It has no life outside the
// Article that owns it.
type KeywordOccurrence struct {
	Keyword   string `bson:"keyword" json:"keyword"`
	Frequency int    `bson:"frequency" json:"frequency"`
}

type Article struct {
	Seq         int64               `bson:"seq" json:"seq"`
	URL         string              `bson:"url" json:"url"`
	Title       string              `bson:"title" json:"title"`
	Date        time.Time           `bson:"-" json:"date"`
	Content     string              `bson:"content" json:"content,omitempty"`
	Domain      string              `bson:"domain" json:"domain"`
	ContentHash string              `bson:"content_hash" json:"content_hash,omitempty"`
	CreatedAt   time.Time           `bson:"-" json:"created_at"`
	Keywords    []KeywordOccurrence `bson:"keywords" json:"keywords"`
}

// ArticleSummary is the admin list projection of an article.
type ArticleSummary struct {
	Article
	KeywordCount  int `json:"keyword_count"`
	ContentLength int `json:"content_length"`
}

// RelatedArticle is an article surfaced next to a keyword.
type RelatedArticle struct {
	Seq   int64     `json:"seq"`
	Title string    `json:"title"`
	URL   string    `json:"url"`
	Date  time.Time `json:"date"`
}

// KeywordRow is a keyword occurrence joined with its article, as read from a
// store for one time window.
type KeywordRow struct {
	Keyword    string
	Frequency  int
	ArticleSeq int64
	Title      string
	URL        string
	Date       time.Time
}

// AggregatedKeyword is computed at query time and never stored.
type AggregatedKeyword struct {
	Keyword         string           `json:"keyword"`
	TotalFrequency  int              `json:"total_frequency"`
	RelatedArticles []RelatedArticle `json:"related_articles"`
}

// ArticleFilter drives article search. Zero dates mean unbounded.
type ArticleFilter struct {
	Query     string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

type Page struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type ArticlePage struct {
	Articles   []ArticleSummary `json:"articles"`
	Pagination Page             `json:"pagination"`
}

type HourlyStat struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalArticles       int          `json:"total_articles"`
	UniqueDomains       int          `json:"unique_domains"`
	TotalKeywords       int          `json:"total_keywords"`
	UniqueKeywords      int          `json:"unique_keywords"`
	AvgKeywordFrequency float64      `json:"avg_keyword_frequency"`
	TopDomain           string       `json:"top_domain"`
	TopKeyword          string       `json:"top_keyword"`
	HourlyStats         []HourlyStat `json:"hourlyStats"`
}
