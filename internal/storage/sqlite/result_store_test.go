package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

func TestSaveSiteRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result := crawler.SiteCrawlResult{
		RunID:      "run-1",
		SiteID:     "b-site",
		Name:       "Lincoln Elementary",
		RootURL:    "https://lincoln.example/",
		Status:     crawler.SiteStatusOK,
		Stats:      crawler.SiteStats{PagesDiscovered: 7, PagesSelected: 2, PagesFetched: 2},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Pages: []crawler.PageOutcome{
			{URL: "https://lincoln.example/staff", Score: 30, FetchStatus: crawler.SourceFastPath, Content: "<html>big</html>", ContentHash: "h1"},
			{URL: "https://lincoln.example/about", Score: 20, FetchStatus: crawler.SourceFallback, ContentHash: "h2"},
		},
	}
	require.NoError(t, store.SaveSite(ctx, result))
	require.NoError(t, store.SaveSite(ctx, crawler.SiteCrawlResult{
		RunID: "run-1", SiteID: "a-site", RootURL: "https://a.example/",
		Status: crawler.SiteStatusFailed, FailureReason: "root_unreachable",
	}))

	sites, err := store.Sites(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, sites, 2)
	require.Equal(t, "a-site", sites[0].SiteID)
	require.Equal(t, crawler.SiteStatusFailed, sites[0].Status)
	require.Empty(t, sites[0].Pages)

	got := sites[1]
	require.Equal(t, result.Stats, got.Stats)
	require.True(t, started.Equal(got.StartedAt))
	require.Len(t, got.Pages, 2)
	require.Equal(t, "https://lincoln.example/staff", got.Pages[0].URL)
	require.Empty(t, got.Pages[0].Content)
	require.Equal(t, "h1", got.Pages[0].ContentHash)
	require.Equal(t, crawler.SourceFallback, got.Pages[1].FetchStatus)
}

func TestSaveSiteReplacesPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	result := crawler.SiteCrawlResult{
		RunID: "r", SiteID: "s", RootURL: "https://s.example/", Status: crawler.SiteStatusOK,
		Pages: []crawler.PageOutcome{{URL: "https://s.example/a"}, {URL: "https://s.example/b"}},
	}
	require.NoError(t, store.SaveSite(ctx, result))
	result.Status = crawler.SiteStatusEmpty
	result.Pages = nil
	require.NoError(t, store.SaveSite(ctx, result))

	sites, err := store.Sites(ctx, "r")
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, crawler.SiteStatusEmpty, sites[0].Status)
	require.Empty(t, sites[0].Pages)
}

func TestOpenAndSaveValidation(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.Error(t, store.SaveSite(context.Background(), crawler.SiteCrawlResult{SiteID: "s"}))
}
