package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/org-contact-crawler/internal/app"
	"github.com/JakeFAU/org-contact-crawler/internal/config"
	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	sqlitestore "github.com/JakeFAU/org-contact-crawler/internal/storage/sqlite"
)

// useTestApp swaps the factory for one built from defaults plus tweak. Tests
// using it must not run in parallel.
func useTestApp(t *testing.T, tweak func(*config.Config)) {
	t.Helper()
	original := newApp
	t.Cleanup(func() { newApp = original })
	newApp = func(context.Context, string) (App, error) {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg.Headless.Enabled = false
		cfg.Fetch.RespectRobots = false
		cfg.Fetch.PerHostRPS = 0
		cfg.Output.Blob = "memory"
		if tweak != nil {
			tweak(&cfg)
		}
		return app.New(cfg, zap.NewNop()), nil
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	useTestApp(t, nil)

	out, err := execute(t, "score", "https://example.org/staff", "https://example.org/athletics")
	require.NoError(t, err)

	var scores []scoreOutput
	require.NoError(t, json.Unmarshal([]byte(out), &scores))
	require.Len(t, scores, 2)
	require.Equal(t, 25, scores[0].Score)
	require.True(t, scores[1].Excluded)
}

func TestScoreCommandRequiresURL(t *testing.T) {
	useTestApp(t, nil)

	_, err := execute(t, "score")
	require.Error(t, err)
}

func TestCrawlSiteCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/staff" {
			fmt.Fprint(w, `<h1>Our Staff</h1><p>ann@example.org</p>`)
			return
		}
		fmt.Fprint(w, `<a href="/staff">Staff</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	useTestApp(t, nil)

	out, err := execute(t, "crawl-site", "--id", "school", srv.URL+"/")
	require.NoError(t, err)

	var result crawler.SiteCrawlResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, "school", result.SiteID)
	require.Equal(t, crawler.SiteStatusOK, result.Status)
	require.Equal(t, srv.URL+"/staff", result.Pages[0].URL)
	require.Empty(t, result.Pages[0].Content)
}

func TestResultsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "harvest.db")
	store, err := sqlitestore.Open(context.Background(), dbPath)
	require.NoError(t, err)
	require.NoError(t, store.SaveSite(context.Background(), crawler.SiteCrawlResult{
		RunID: "run-9", SiteID: "s1", RootURL: "https://s1.example/", Status: crawler.SiteStatusEmpty,
	}))
	require.NoError(t, store.Close())

	useTestApp(t, func(cfg *config.Config) { cfg.DB.SQLitePath = dbPath })

	out, err := execute(t, "results", "run-9")
	require.NoError(t, err)
	var got resultsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Nil(t, got.StartedAt)
	require.Len(t, got.Sites, 1)
	require.Equal(t, crawler.SiteStatusEmpty, got.Sites[0].Status)
}

func TestFactoryErrorStopsCommand(t *testing.T) {
	original := newApp
	t.Cleanup(func() { newApp = original })
	newApp = func(context.Context, string) (App, error) { return nil, fmt.Errorf("boom") }

	_, err := execute(t, "score", "https://example.org/")
	require.ErrorContains(t, err, "boom")
}

func TestResolveAppWithoutRoot(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
