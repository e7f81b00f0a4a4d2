// Package coordinator runs one site end to end: discovery, selection and
// content retrieval of the selected pages under a wall-clock budget.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/org-contact-crawler/internal/clock/system"
	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/frontier"
	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
	"github.com/JakeFAU/org-contact-crawler/internal/progress"
	"github.com/JakeFAU/org-contact-crawler/internal/scorer"
)

// Failure reasons recorded on sites with Status failed.
const (
	ReasonInvalidRoot     = "invalid_root"
	ReasonRootUnreachable = "root_unreachable"
	ReasonAllFetchFailed  = "all_fetches_failed"
	ReasonCanceled        = "canceled"
	ReasonPanic           = "panic"
)

// Config bounds one site crawl.
type Config struct {
	MaxDepth           int
	MaxDiscoveredPages int
	TopK               int
	MinThreshold       int
	FanOut             int
	// SiteBudget is the wall-clock limit for the whole site; zero disables it.
	SiteBudget time.Duration
}

// Validate reports configuration errors that must stop startup.
func (c Config) Validate() error {
	if err := c.frontier().Validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	if c.SiteBudget < 0 {
		return fmt.Errorf("coordinator: site budget must be >= 0, got %s", c.SiteBudget)
	}
	return nil
}

func (c Config) frontier() frontier.Config {
	return frontier.Config{
		MaxDepth:           c.MaxDepth,
		MaxDiscoveredPages: c.MaxDiscoveredPages,
		TopK:               c.TopK,
		MinThreshold:       c.MinThreshold,
		FanOut:             c.FanOut,
	}
}

// Coordinator crawls sites one at a time. It is safe for concurrent use; each
// CrawlSite call owns its own frontier.
type Coordinator struct {
	cfg      Config
	scorer   *scorer.Scorer
	fetcher  crawler.PageFetcher
	progress progress.Emitter
	clock    crawler.Clock
	logger   *zap.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithProgress emits site and fetch milestones to e.
func WithProgress(e progress.Emitter) Option {
	return func(c *Coordinator) { c.progress = e }
}

// WithClock overrides the clock used for timestamps.
func WithClock(clock crawler.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New validates cfg and builds a Coordinator.
func New(cfg Config, s *scorer.Scorer, fetcher crawler.PageFetcher, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("coordinator: scorer is required")
	}
	if fetcher == nil {
		return nil, errors.New("coordinator: fetcher is required")
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 1
	}
	c := &Coordinator{
		cfg:     cfg,
		scorer:  s,
		fetcher: fetcher,
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// CrawlSite discovers, selects and fetches one site. It never returns an
// error: a site that cannot be crawled comes back with Status failed and a
// reason code.
func (c *Coordinator) CrawlSite(ctx context.Context, runID string, seed crawler.SiteSeed) crawler.SiteCrawlResult {
	result := crawler.SiteCrawlResult{
		RunID:     runID,
		SiteID:    seed.SiteID,
		Name:      seed.Name,
		RootURL:   seed.RootURL,
		Pages:     []crawler.PageOutcome{},
		StartedAt: c.clock.Now(),
	}
	host := metrics.SanitizeSite(seed.RootURL)
	logger := c.logger.With(zap.String("run_id", runID), zap.String("site_id", seed.SiteID), zap.String("site", host))
	c.emit(progress.Event{RunID: runID, Stage: progress.StageSiteStart, SiteID: seed.SiteID, Site: host})

	siteCtx := ctx
	if c.cfg.SiteBudget > 0 {
		var cancel context.CancelFunc
		siteCtx, cancel = context.WithTimeout(ctx, c.cfg.SiteBudget)
		defer cancel()
	}

	f, err := frontier.New(c.cfg.frontier(), c.scorer, c.fetcher, logger.Named("frontier"))
	if err != nil {
		return c.fail(result, host, ReasonInvalidRoot, err, logger)
	}
	if err := f.Seed(seed.RootURL); err != nil {
		return c.fail(result, host, ReasonInvalidRoot, err, logger)
	}
	if err := f.Expand(siteCtx); err != nil {
		reason := ReasonRootUnreachable
		if ctx.Err() != nil {
			reason = ReasonCanceled
		}
		copyFrontierStats(&result.Stats, f.Stats())
		return c.fail(result, host, fmt.Sprintf("%s:%s", reason, crawler.ClassOf(err)), err, logger)
	}
	selected := f.Select()
	copyFrontierStats(&result.Stats, f.Stats())

	if len(selected) == 0 {
		f.MarkDone()
		result.Status = crawler.SiteStatusEmpty
		return c.finish(result, host, logger)
	}

	result.Pages = c.fetchSelected(siteCtx, runID, seed.SiteID, host, selected, &result.Stats)
	f.MarkDone()

	if result.Stats.PagesFetched == 0 {
		// Pages are in rank order, so the reason carries the best page's class.
		class := result.Pages[0].ErrorClass
		return c.fail(result, host, fmt.Sprintf("%s:%s", ReasonAllFetchFailed, class), nil, logger)
	}
	result.Status = crawler.SiteStatusOK
	return c.finish(result, host, logger)
}

type fetched struct {
	order   int
	outcome crawler.PageOutcome
}

// fetchSelected retrieves every selected page with bounded fan-out. Pages
// whose fetch has not started when the site budget expires are recorded as
// failed with class site_deadline. The returned pages are ordered by total
// score with discovery order breaking ties.
func (c *Coordinator) fetchSelected(
	ctx context.Context,
	runID, siteID, host string,
	selected []crawler.ScoredPage,
	stats *crawler.SiteStats,
) []crawler.PageOutcome {
	results := make([]fetched, len(selected))
	var g errgroup.Group
	g.SetLimit(c.cfg.FanOut)
	for i, page := range selected {
		g.Go(func() error {
			results[i] = fetched{order: page.Order, outcome: c.fetchOne(ctx, page)}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].outcome.Score != results[j].outcome.Score {
			return results[i].outcome.Score > results[j].outcome.Score
		}
		return results[i].order < results[j].order
	})

	pages := make([]crawler.PageOutcome, len(results))
	for i, r := range results {
		pages[i] = r.outcome
		stats.FetchAttempts += len(r.outcome.Attempts)
		if r.outcome.FetchStatus == crawler.SourceFailed {
			stats.PagesFailed++
		} else {
			stats.PagesFetched++
		}
		if usedFallback(r.outcome.Attempts) {
			stats.FallbackUsed++
		}
		c.emit(progress.Event{
			RunID:       runID,
			Stage:       progress.StageFetchDone,
			SiteID:      siteID,
			Site:        host,
			URL:         r.outcome.URL,
			Source:      string(r.outcome.FetchStatus),
			StatusClass: progress.ClassifyStatus(lastStatus(r.outcome.Attempts)),
			Bytes:       int64(len(r.outcome.Content)),
			Attempts:    len(r.outcome.Attempts),
			Dur:         attemptTime(r.outcome.Attempts),
			Note:        string(r.outcome.ErrorClass),
		})
	}
	return pages
}

func (c *Coordinator) fetchOne(ctx context.Context, page crawler.ScoredPage) crawler.PageOutcome {
	outcome := crawler.PageOutcome{
		URL:            page.URL,
		Depth:          page.Depth,
		Score:          page.Score,
		PathScore:      page.PathScore,
		ScoreBreakdown: append([]crawler.RuleHit(nil), page.Breakdown...),
		Attempts:       []crawler.Attempt{},
	}
	if err := ctx.Err(); err != nil {
		outcome.FetchStatus = crawler.SourceFailed
		outcome.ErrorClass = crawler.ErrClassSiteDeadline
		if errors.Is(err, context.Canceled) {
			outcome.ErrorClass = crawler.ErrClassCanceled
		}
		outcome.Error = "fetch not started: " + err.Error()
		return outcome
	}

	res := c.fetcher.FetchPage(ctx, page.URL)
	outcome.FetchStatus = res.Source
	outcome.Attempts = append(outcome.Attempts, res.Attempts...)
	if !res.OK() {
		outcome.ErrorClass = res.ErrClass
		if res.Err != nil {
			outcome.Error = res.Err.Error()
		}
		return outcome
	}

	content := c.scorer.ScoreContent(scorer.ExtractSignals(res.Content))
	outcome.Content = string(res.Content)
	outcome.ContentScore = content.Score
	outcome.Score = page.PathScore + content.Score
	outcome.ScoreBreakdown = append(outcome.ScoreBreakdown, content.Breakdown...)
	return outcome
}

func copyFrontierStats(dst *crawler.SiteStats, src frontier.Stats) {
	dst.PagesDiscovered = src.Discovered
	dst.PagesVisited = src.Visited
	dst.PagesExcluded = src.Excluded
	dst.PagesBelowThreshold = src.BelowThreshold
	dst.PagesSelected = src.Selected
}

func (c *Coordinator) fail(
	result crawler.SiteCrawlResult,
	host, reason string,
	err error,
	logger *zap.Logger,
) crawler.SiteCrawlResult {
	result.Status = crawler.SiteStatusFailed
	result.FailureReason = reason
	result.FinishedAt = c.clock.Now()
	metrics.ObserveSite(string(result.Status))
	fields := []zap.Field{zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Warn("site crawl failed", fields...)
	c.emit(progress.Event{
		RunID:  result.RunID,
		Stage:  progress.StageSiteError,
		SiteID: result.SiteID,
		Site:   host,
		Source: string(result.Status),
		Pages:  len(result.Pages),
		Dur:    result.FinishedAt.Sub(result.StartedAt),
		Note:   reason,
	})
	return result
}

func (c *Coordinator) finish(result crawler.SiteCrawlResult, host string, logger *zap.Logger) crawler.SiteCrawlResult {
	result.FinishedAt = c.clock.Now()
	metrics.ObserveSite(string(result.Status))
	logger.Info("site crawl finished",
		zap.String("status", string(result.Status)),
		zap.Int("discovered", result.Stats.PagesDiscovered),
		zap.Int("selected", result.Stats.PagesSelected),
		zap.Int("fetched", result.Stats.PagesFetched),
		zap.Int("failed", result.Stats.PagesFailed),
		zap.Int("fallback", result.Stats.FallbackUsed),
	)
	c.emit(progress.Event{
		RunID:  result.RunID,
		Stage:  progress.StageSiteDone,
		SiteID: result.SiteID,
		Site:   host,
		Source: string(result.Status),
		Pages:  len(result.Pages),
		Dur:    result.FinishedAt.Sub(result.StartedAt),
	})
	return result
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.progress == nil {
		return
	}
	evt.TS = c.clock.Now()
	c.progress.Emit(evt)
}

func usedFallback(attempts []crawler.Attempt) bool {
	for _, a := range attempts {
		if a.Path == crawler.PathFallback {
			return true
		}
	}
	return false
}

func lastStatus(attempts []crawler.Attempt) int {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].StatusCode != 0 {
			return attempts[i].StatusCode
		}
	}
	return 0
}

func attemptTime(attempts []crawler.Attempt) time.Duration {
	var total int64
	for _, a := range attempts {
		total += a.DurationMs
	}
	return time.Duration(total) * time.Millisecond
}
