package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"newsletter/internal/apperr"
	urlqueue "newsletter/internal/url_queue"
)

const errOverBatchLimit = "over batch limit"

// Ingest statuses.
const (
	StatusAdded   = "added"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

type IngestResult struct {
	URL      string `json:"url"`
	Status   string `json:"status"`
	Seq      int64  `json:"seq,omitempty"`
	Keywords int    `json:"keywords,omitempty"`
	Error    string `json:"error,omitempty"`
}

type IngestSummary struct {
	Added   int            `json:"added"`
	Skipped int            `json:"skipped"`
	Failed  int            `json:"failed"`
	Results []IngestResult `json:"results"`
}

// BatchOptions tunes IngestAll.
type BatchOptions struct {
	Workers int
	// Delay is slept by each worker between two of its fetches.
	Delay   time.Duration
	MaxURLs int
}

// IngestAll adds every URL through a pool of workers draining one queue.
// URLs repeated in the batch (after normalization) or already stored are
// reported as skipped, URLs beyond opts.MaxURLs as failed. Failures do not
// stop the batch. Results follow input order.
func (s *Service) IngestAll(ctx context.Context, urls []string, opts BatchOptions) *IngestSummary {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	queue := urlqueue.NewURLQueue(opts.MaxURLs)
	results := make([]IngestResult, len(urls))
	position := make(map[string]int, len(urls))

	for i, u := range urls {
		u = strings.TrimSpace(u)
		results[i].URL = u
		if u == "" {
			results[i].Status = StatusFailed
			results[i].Error = "empty URL"
			continue
		}
		if queue.Add(u) {
			position[u] = i
			continue
		}
		if queue.Contains(u) {
			results[i].Status = StatusSkipped
			results[i].Error = "duplicate in batch"
			continue
		}
		results[i].Status = StatusFailed
		results[i].Error = errOverBatchLimit
	}

	s.log.Info("batch ingestion started", "urls", len(urls), "queued", queue.Size(), "workers", workers)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.ingestWorker(ctx, workerID, queue, opts.Delay, func(u string, r IngestResult) {
				mu.Lock()
				results[position[u]] = r
				mu.Unlock()
			})
		}(w)
	}
	wg.Wait()

	summary := &IngestSummary{Results: results}
	for i := range results {
		if results[i].Status == "" {
			results[i].Status = StatusFailed
			results[i].Error = "not processed"
			if err := ctx.Err(); err != nil {
				results[i].Error = err.Error()
			}
		}
		switch results[i].Status {
		case StatusAdded:
			summary.Added++
		case StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	s.log.Info("batch ingestion finished", "added", summary.Added, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary
}

func (s *Service) ingestWorker(ctx context.Context, workerID int, queue *urlqueue.URLQueue, delay time.Duration, report func(string, IngestResult)) {
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		u, ok := queue.Get()
		if !ok {
			return
		}

		if !first && delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		first = false

		r := IngestResult{URL: u}
		article, err := s.AddArticle(ctx, u)
		switch {
		case err == nil:
			r.Status = StatusAdded
			r.Seq = article.Seq
			r.Keywords = len(article.Keywords)
		case apperr.KindOf(err) == apperr.KindDuplicate:
			r.Status = StatusSkipped
			r.Error = err.Error()
		default:
			r.Status = StatusFailed
			r.Error = err.Error()
		}
		s.log.Debug("batch item done", "worker", workerID, "url", u, "status", r.Status)
		report(u, r)
	}
}
