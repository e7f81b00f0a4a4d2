// Package worker runs site crawls pulled from the site queue.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/org-contact-crawler/internal/coordinator"
	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
)

// SiteCrawler crawls one site to completion.
type SiteCrawler interface {
	CrawlSite(ctx context.Context, runID string, seed crawler.SiteSeed) crawler.SiteCrawlResult
}

// ResultHandler receives every finished site, including failed ones.
type ResultHandler interface {
	HandleSite(ctx context.Context, item crawler.QueueItem, result crawler.SiteCrawlResult)
}

// HandlerFunc adapts a function to ResultHandler.
type HandlerFunc func(ctx context.Context, item crawler.QueueItem, result crawler.SiteCrawlResult)

// HandleSite calls f.
func (f HandlerFunc) HandleSite(ctx context.Context, item crawler.QueueItem, result crawler.SiteCrawlResult) {
	f(ctx, item, result)
}

// Worker takes one site at a time from the queue and runs it to completion
// before taking the next.
type Worker struct {
	id      int
	queue   crawler.Queue
	crawler SiteCrawler
	handler ResultHandler
	clock   crawler.Clock
	logger  *zap.Logger
}

// New constructs a Worker. handler may be nil.
func New(
	id int,
	queue crawler.Queue,
	siteCrawler SiteCrawler,
	handler ResultHandler,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		queue:   queue,
		crawler: siteCrawler,
		handler: handler,
		clock:   clock,
		logger:  logger.With(zap.Int("worker", id)),
	}
}

// Run consumes sites until the queue is closed and drained or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued site",
			zap.String("run_id", item.RunID),
			zap.String("site_id", item.Seed.SiteID),
			zap.String("root_url", item.Seed.RootURL),
		)
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result := w.crawlSafely(ctx, item)
	if w.handler != nil {
		w.handler.HandleSite(ctx, item, result)
	}
}

// crawlSafely isolates a panicking site so the worker and its siblings keep
// running; the site is recorded as failed.
func (w *Worker) crawlSafely(ctx context.Context, item crawler.QueueItem) (result crawler.SiteCrawlResult) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		w.logger.Error("site crawl panicked",
			zap.String("site_id", item.Seed.SiteID),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
		metrics.ObserveSite(string(crawler.SiteStatusFailed))
		result = crawler.SiteCrawlResult{
			RunID:         item.RunID,
			SiteID:        item.Seed.SiteID,
			Name:          item.Seed.Name,
			RootURL:       item.Seed.RootURL,
			Status:        crawler.SiteStatusFailed,
			FailureReason: fmt.Sprintf("%s: %v", coordinator.ReasonPanic, r),
			Pages:         []crawler.PageOutcome{},
		}
		if w.clock != nil {
			result.StartedAt = w.clock.Now()
			result.FinishedAt = result.StartedAt
		}
	}()
	return w.crawler.CrawlSite(ctx, item.RunID, item.Seed)
}
