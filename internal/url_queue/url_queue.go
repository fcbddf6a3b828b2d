package urlqueue

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// URLQueue is a FIFO of article URLs that accepts each normalized URL once.
// Queued URLs keep their original spelling; only the dedupe key is normalized.
type URLQueue struct {
	seen    map[string]bool
	queue   []string
	maxURLs int
	mu      sync.Mutex
}

// NewURLQueue creates a queue. maxURLs <= 0 means unbounded.
func NewURLQueue(maxURLs int) *URLQueue {
	return &URLQueue{
		seen:    make(map[string]bool),
		queue:   make([]string, 0),
		maxURLs: maxURLs,
	}
}

// Add enqueues urlStr unless its normalized form was already added or the
// queue has accepted maxURLs entries.
func (q *URLQueue) Add(urlStr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return false
	}
	if q.maxURLs > 0 && len(q.seen) >= q.maxURLs {
		return false
	}

	normalized := NormalizeURL(urlStr)
	if q.seen[normalized] {
		return false
	}
	q.seen[normalized] = true
	q.queue = append(q.queue, urlStr)
	return true
}

// Contains reports whether the normalized form of urlStr was accepted before.
func (q *URLQueue) Contains(urlStr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seen[NormalizeURL(strings.TrimSpace(urlStr))]
}

func (q *URLQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return "", false
	}
	url := q.queue[0]
	q.queue = q.queue[1:]
	return url, true
}

func (q *URLQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// NormalizeURL lowercases scheme and host, drops "www." and the fragment, and
// trims a trailing slash from non-root paths.
func NormalizeURL(urlStr string) string {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return urlStr
	}

	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String()
}

func ComputeContentHash(content string) string {
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// URLShouldBeFollowed reports whether urlStr matches no exclude pattern and,
// when include patterns are given, at least one of them.
func URLShouldBeFollowed(urlStr string, includePatterns, excludePatterns []string) bool {
	for _, pattern := range excludePatterns {
		if URLMatchesPattern(urlStr, pattern) {
			return false
		}
	}

	if len(includePatterns) == 0 {
		return true
	}

	for _, pattern := range includePatterns {
		if URLMatchesPattern(urlStr, pattern) {
			return true
		}
	}

	return false
}

// URLMatchesPattern treats an invalid pattern as a non-match.
func URLMatchesPattern(urlStr string, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(urlStr)
}
