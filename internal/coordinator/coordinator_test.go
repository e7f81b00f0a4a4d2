package coordinator

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/fetcher"
	"github.com/JakeFAU/org-contact-crawler/internal/headless/detector"
	"github.com/JakeFAU/org-contact-crawler/internal/progress"
	"github.com/JakeFAU/org-contact-crawler/internal/scorer"
)

// fakeSite serves links and page bodies from maps and records page fetches.
type fakeSite struct {
	mu        sync.Mutex
	links     map[string][]string
	bodies    map[string]string
	blockRoot bool
	blockPage bool
	failPages map[string]crawler.ErrorClass
	pages     []string
}

func (s *fakeSite) FetchLinks(ctx context.Context, url string) ([]string, error) {
	if s.blockRoot {
		<-ctx.Done()
		return nil, &crawler.FetchError{URL: url, Class: crawler.ErrClassSiteDeadline, Err: ctx.Err()}
	}
	return s.links[url], nil
}

func (s *fakeSite) FetchPage(ctx context.Context, url string) crawler.FetchResult {
	s.mu.Lock()
	s.pages = append(s.pages, url)
	s.mu.Unlock()
	attempt := crawler.Attempt{Path: crawler.PathFast, Number: 1, StatusCode: http.StatusOK}
	if s.blockPage {
		<-ctx.Done()
		attempt.StatusCode = 0
		attempt.Class = crawler.ErrClassSiteDeadline
		return crawler.FetchResult{
			URL: url, Source: crawler.SourceFailed, Attempts: []crawler.Attempt{attempt},
			Err: ctx.Err(), ErrClass: crawler.ErrClassSiteDeadline,
		}
	}
	if class, ok := s.failPages[url]; ok {
		attempt.StatusCode = 0
		attempt.Class = class
		return crawler.FetchResult{
			URL: url, Source: crawler.SourceFailed, Attempts: []crawler.Attempt{attempt},
			Err: &crawler.FetchError{URL: url, Class: class}, ErrClass: class,
		}
	}
	return crawler.FetchResult{
		URL:      url,
		FinalURL: url,
		Content:  []byte(s.bodies[url]),
		Source:   crawler.SourceFastPath,
		Attempts: []crawler.Attempt{attempt},
	}
}

func (s *fakeSite) FetchedPages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pages...)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) Stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, len(c.events))
	for i, e := range c.events {
		out[i] = e.Stage
	}
	return out
}

func baseConfig() Config {
	return Config{MaxDepth: 2, MaxDiscoveredPages: 50, TopK: 3, MinThreshold: 20, FanOut: 2}
}

func newCoordinator(t *testing.T, cfg Config, pf crawler.PageFetcher, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(cfg, scorer.New(scorer.DefaultRubric()), pf, opts...)
	require.NoError(t, err)
	return c
}

func seed(root string) crawler.SiteSeed {
	return crawler.SiteSeed{SiteID: "site-1", Name: "Example School", RootURL: root}
}

func pageURLs(pages []crawler.PageOutcome) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.URL
	}
	return out
}

func TestCrawlSite_ConcreteScenario(t *testing.T) {
	t.Parallel()

	site := &fakeSite{links: map[string][]string{
		"https://example.org/": {"/staff#leadership", "/staff", "/athletics", "/contact-us"},
	}}
	cfg := baseConfig()
	cfg.TopK = 2
	emitter := &captureEmitter{}
	c := newCoordinator(t, cfg, site, WithProgress(emitter))

	result := c.CrawlSite(context.Background(), "run-1", seed("https://example.org/"))
	require.Equal(t, crawler.SiteStatusOK, result.Status)
	require.Equal(t, []string{"https://example.org/staff#leadership", "https://example.org/staff"}, pageURLs(result.Pages))
	require.Equal(t, 45, result.Pages[0].Score)
	require.Equal(t, 25, result.Pages[1].Score)
	require.ElementsMatch(t, []string{
		"https://example.org/staff#leadership", "https://example.org/staff",
	}, site.FetchedPages(), "only the selected set reaches the content fetcher")
	require.Equal(t, 2, result.Stats.PagesExcluded)
	require.Equal(t, 2, result.Stats.PagesFetched)
	require.Equal(t, "run-1", result.RunID)
	require.False(t, result.FinishedAt.Before(result.StartedAt))

	stages := emitter.Stages()
	require.Equal(t, progress.StageSiteStart, stages[0])
	require.Equal(t, progress.StageSiteDone, stages[len(stages)-1])
	require.Len(t, stages, 4)
}

func TestCrawlSite_AllFetchesFailedUsesTopRankedClass(t *testing.T) {
	t.Parallel()

	site := &fakeSite{
		links: map[string][]string{
			"https://example.org/": {"/staff", "/staff#leadership"},
		},
		failPages: map[string]crawler.ErrorClass{
			"https://example.org/staff#leadership": crawler.ErrClassHTTPStatus,
			"https://example.org/staff":            crawler.ErrClassTimeout,
		},
	}
	c := newCoordinator(t, baseConfig(), site)

	result := c.CrawlSite(context.Background(), "run-1", seed("https://example.org/"))
	require.Equal(t, crawler.SiteStatusFailed, result.Status)
	require.Equal(t, "https://example.org/staff#leadership", result.Pages[0].URL)
	require.Equal(t, "all_fetches_failed:http_status", result.FailureReason)
	require.Zero(t, result.Stats.PagesFetched)
}

func TestCrawlSite_ContentScoreReorders(t *testing.T) {
	t.Parallel()

	emails := `<a href="mailto:a@example.org">a</a><a href="mailto:b@example.org">b</a>
		<a href="mailto:c@example.org">c</a><a href="mailto:d@example.org">d</a>
		<a href="mailto:e@example.org">e</a>`
	site := &fakeSite{
		links: map[string][]string{"https://example.org/": {"/staff", "/faculty"}},
		bodies: map[string]string{
			"https://example.org/staff":   "<p>nothing here</p>",
			"https://example.org/faculty": "<html><body>" + emails + "</body></html>",
		},
	}
	c := newCoordinator(t, baseConfig(), site)

	result := c.CrawlSite(context.Background(), "run-1", seed("https://example.org/"))
	require.Equal(t, []string{"https://example.org/faculty", "https://example.org/staff"}, pageURLs(result.Pages))
	require.Equal(t, 40, result.Pages[0].ContentScore)
	require.Equal(t, 65, result.Pages[0].Score)
	require.Equal(t, "emails>=5", result.Pages[0].ScoreBreakdown[len(result.Pages[0].ScoreBreakdown)-1].Rule)
}

func TestCrawlSite_EmptyWhenNothingQualifies(t *testing.T) {
	t.Parallel()

	site := &fakeSite{links: map[string][]string{"https://example.org/": {"/history", "/news"}}}
	c := newCoordinator(t, baseConfig(), site)

	result := c.CrawlSite(context.Background(), "run-1", seed("https://example.org/"))
	require.Equal(t, crawler.SiteStatusEmpty, result.Status)
	require.Empty(t, result.Pages)
	require.Empty(t, site.FetchedPages())
}

func TestCrawlSite_RootTimeoutIsolated(t *testing.T) {
	t.Parallel()

	slow := &fakeSite{blockRoot: true}
	cfg := baseConfig()
	cfg.SiteBudget = 30 * time.Millisecond
	c := newCoordinator(t, cfg, slow)

	result := c.CrawlSite(context.Background(), "run-1", seed("https://slow.example.org/"))
	require.Equal(t, crawler.SiteStatusFailed, result.Status)
	require.True(t, strings.HasPrefix(result.FailureReason, ReasonRootUnreachable), result.FailureReason)

	healthy := &fakeSite{links: map[string][]string{"https://example.org/": {"/staff"}}}
	sibling := newCoordinator(t, cfg, healthy).CrawlSite(context.Background(), "run-1", seed("https://example.org/"))
	require.Equal(t, crawler.SiteStatusOK, sibling.Status)
}

func TestCrawlSite_DeadlineMarksUnstartedPages(t *testing.T) {
	t.Parallel()

	site := &fakeSite{
		links:     map[string][]string{"https://example.org/": {"/staff", "/faculty", "/team"}},
		blockPage: true,
	}
	cfg := baseConfig()
	cfg.FanOut = 1
	cfg.SiteBudget = 30 * time.Millisecond
	c := newCoordinator(t, cfg, site)

	result := c.CrawlSite(context.Background(), "run-1", seed("https://example.org/"))
	require.Equal(t, crawler.SiteStatusFailed, result.Status)
	require.Len(t, result.Pages, 3)
	require.Len(t, site.FetchedPages(), 1)
	for _, page := range result.Pages {
		require.Equal(t, crawler.SourceFailed, page.FetchStatus)
		require.Equal(t, crawler.ErrClassSiteDeadline, page.ErrorClass)
	}
	require.Equal(t, 3, result.Stats.PagesFailed)
}

func TestCrawlSite_InvalidRoot(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, baseConfig(), &fakeSite{})
	result := c.CrawlSite(context.Background(), "run-1", seed("not a url"))
	require.Equal(t, crawler.SiteStatusFailed, result.Status)
	require.Equal(t, ReasonInvalidRoot, result.FailureReason)
}

// pathFetcher is a crawler.Fetcher returning one body for every URL.
type pathFetcher struct {
	mu    sync.Mutex
	body  string
	calls int
}

func (p *pathFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(p.body),
	}, nil
}

func (p *pathFetcher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestCrawlSite_FallbackTrigger(t *testing.T) {
	t.Parallel()

	root := `<a href="/staff">Staff</a>`
	fiveEmails := root + `<p>a@x.org b@x.org c@x.org d@x.org e@x.org</p>`

	cases := []struct {
		name         string
		body         string
		wantFallback int
	}{
		{name: "no signal", body: root, wantFallback: 1},
		{name: "five emails", body: fiveEmails, wantFallback: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fast := &pathFetcher{body: tc.body}
			fallback := &pathFetcher{body: fiveEmails}
			s := scorer.New(scorer.DefaultRubric())
			tp, err := fetcher.New(fetcher.Config{RetryCount: 1, Backoff: time.Millisecond}, fast,
				fetcher.WithFallback(fallback, detector.NewHeuristic(s, 1)))
			require.NoError(t, err)

			cfg := baseConfig()
			cfg.MaxDepth = 1
			c, err := New(cfg, s, tp)
			require.NoError(t, err)

			result := c.CrawlSite(context.Background(), "run-1", seed("https://example.org/"))
			require.Equal(t, crawler.SiteStatusOK, result.Status)
			require.Len(t, result.Pages, 1)
			require.Equal(t, tc.wantFallback, fallback.Calls())
			require.Equal(t, tc.wantFallback, result.Stats.FallbackUsed)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, baseConfig().Validate())
	bad := baseConfig()
	bad.TopK = 0
	require.Error(t, bad.Validate())
	bad = baseConfig()
	bad.SiteBudget = -time.Second
	require.Error(t, bad.Validate())
}
