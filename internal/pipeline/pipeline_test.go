package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/progress"
	pubMemory "github.com/JakeFAU/org-contact-crawler/internal/publisher/memory"
	storeMemory "github.com/JakeFAU/org-contact-crawler/internal/storage/memory"
)

type staticSource []crawler.SiteSeed

func (s staticSource) Seeds(context.Context) ([]crawler.SiteSeed, error) { return s, nil }

type fakeCrawler struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
}

func (f *fakeCrawler) CrawlSite(ctx context.Context, runID string, seed crawler.SiteSeed) crawler.SiteCrawlResult {
	f.mu.Lock()
	f.calls = append(f.calls, seed.SiteID)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	result := crawler.SiteCrawlResult{RunID: runID, SiteID: seed.SiteID, Name: seed.Name, RootURL: seed.RootURL}
	switch seed.SiteID {
	case "panics":
		panic("renderer exploded")
	case "empty":
		result.Status = crawler.SiteStatusEmpty
		result.Pages = []crawler.PageOutcome{}
	default:
		result.Status = crawler.SiteStatusOK
		result.Stats.FetchAttempts = 3
		result.Pages = []crawler.PageOutcome{
			{URL: seed.RootURL + "staff", Score: 45, FetchStatus: crawler.SourceFastPath, Content: "<h1>Staff</h1>"},
			{URL: seed.RootURL + "team", Score: 25, FetchStatus: crawler.SourceFallback, Content: "<h1>Team</h1>"},
			{URL: seed.RootURL + "about", Score: 20, FetchStatus: crawler.SourceFailed, ErrorClass: crawler.ErrClassTimeout},
		}
	}
	return result
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, req crawler.ExtractionRequest) ([]crawler.Contact, error) {
	if req.RawContent == "<h1>Team</h1>" {
		return nil, errors.New("model overloaded")
	}
	return []crawler.Contact{{Name: "Ann Lee", Email: "ann@example.org", SourceURL: req.PageURL}}, nil
}

type fixedIDs string

func (f fixedIDs) NewID() (string, error) { return string(f), nil }

type recordEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func seeds(ids ...string) staticSource {
	out := make(staticSource, 0, len(ids))
	for _, id := range ids {
		out = append(out, crawler.SiteSeed{SiteID: id, Name: id, RootURL: "https://" + id + ".example/"})
	}
	return out
}

func TestRunProcessesEverySiteInSeedOrder(t *testing.T) {
	t.Parallel()

	blobs := storeMemory.NewBlobStore()
	results := storeMemory.NewResultStore()
	pub := pubMemory.New()
	emitter := &recordEmitter{}

	p, err := New(Config{Workers: 3, StoreContent: true, Topic: "sites"},
		seeds("alpha", "panics", "empty", "delta"),
		&fakeCrawler{},
		blobs,
		WithExtractor(fakeExtractor{}),
		WithResultStore(results),
		WithPublisher(pub),
		WithProgress(emitter),
		WithIDGenerator(fixedIDs("run-1")),
	)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", report.RunID)

	ids := make([]string, len(report.Sites))
	for i, s := range report.Sites {
		ids[i] = s.SiteID
	}
	require.Equal(t, []string{"alpha", "panics", "empty", "delta"}, ids)
	require.Equal(t, crawler.SiteStatusFailed, report.Sites[1].Status)
	require.Contains(t, report.Sites[1].FailureReason, "panic")

	alpha := report.Sites[0]
	require.Len(t, alpha.Pages, 3)
	require.NotEmpty(t, alpha.Pages[0].ContentHash)
	require.NotEmpty(t, alpha.Pages[0].BlobURI)
	require.Empty(t, alpha.Pages[0].Content)
	require.Len(t, alpha.Pages[0].Contacts, 1)
	require.Empty(t, alpha.Pages[1].Contacts)
	require.Empty(t, alpha.Pages[2].ContentHash)

	require.Equal(t, Summary{
		Sites: 4, SitesOK: 2, SitesEmpty: 1, SitesFailed: 1,
		PagesSelected: 6, PagesFetchedFast: 2, PagesFetchedFallback: 2, PagesFailed: 2,
		FetchAttempts: 6, Contacts: 2, ExtractionFailures: 2,
	}, report.Summary)

	require.Len(t, results.Sites(), 4)
	require.Len(t, pub.Messages(), 4)
	for _, msg := range pub.Messages() {
		require.Equal(t, "sites", msg.Topic)
	}

	raw, ok := blobs.Get("reports/run-1.json")
	require.True(t, ok)
	var stored Report
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Equal(t, report.Summary, stored.Summary)
	require.Equal(t, "memory://reports/run-1.json", report.URI)
	// Four distinct page bodies plus the report.
	require.Equal(t, 5, blobs.Len())

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Equal(t, progress.StageRunStart, emitter.events[0].Stage)
	require.Equal(t, 4, emitter.events[0].Pages)
	require.Equal(t, progress.StageRunDone, emitter.events[len(emitter.events)-1].Stage)
}

func TestRunSeedsCanceledStillWritesReport(t *testing.T) {
	t.Parallel()

	blobs := storeMemory.NewBlobStore()
	p, err := New(Config{Workers: 1, QueueDepth: 1}, nil, &fakeCrawler{delay: time.Minute}, blobs)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := p.RunSeeds(ctx, "run-c", seeds("a", "b", "c", "d"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, report.Sites, 4)
	for _, s := range report.Sites {
		require.Equal(t, "run-c", s.RunID)
	}
	require.Equal(t, 4, report.Summary.Sites)
	require.GreaterOrEqual(t, report.Summary.SitesFailed, 2)

	_, ok := blobs.Get("reports/run-c.json")
	require.True(t, ok)
}

func TestInlineContentKeepsBodies(t *testing.T) {
	t.Parallel()

	p, err := New(Config{InlineContent: true}, nil, &fakeCrawler{}, storeMemory.NewBlobStore())
	require.NoError(t, err)
	report, err := p.RunSeeds(context.Background(), "r", seeds("solo"))
	require.NoError(t, err)
	require.Equal(t, "<h1>Staff</h1>", report.Sites[0].Pages[0].Content)
	require.Empty(t, report.Sites[0].Pages[0].BlobURI)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, storeMemory.NewBlobStore())
	require.Error(t, err)
	_, err = New(Config{}, nil, &fakeCrawler{}, nil)
	require.Error(t, err)

	p, err := New(Config{}, nil, &fakeCrawler{}, storeMemory.NewBlobStore())
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.ErrorContains(t, err, "no seed source")
}

func TestSiteNoticeAttributes(t *testing.T) {
	t.Parallel()

	n := NewSiteNotice(crawler.SiteCrawlResult{
		RunID: "r", SiteID: "s", Status: crawler.SiteStatusOK,
		Pages: []crawler.PageOutcome{{URL: "u", Contacts: []crawler.Contact{{Name: "a"}, {Name: "b"}}}},
	})
	require.Equal(t, 2, n.Contacts)
	require.Equal(t, map[string]string{"run_id": "r", "site_id": "s", "status": "ok", "contacts": "2"}, n.Attributes())
}
