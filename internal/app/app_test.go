package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/org-contact-crawler/internal/config"
	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/discovery"
	"github.com/JakeFAU/org-contact-crawler/internal/extraction"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Headless.Enabled = false
	cfg.Fetch.RespectRobots = false
	cfg.Fetch.PerHostRPS = 0
	cfg.Output.Blob = "memory"
	cfg.Run.Workers = 2
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a := New(cfg, zaptest.NewLogger(t))
	a.registerer = prometheus.NewRegistry()
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })
	return a
}

func schoolSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><a href="/staff">Staff</a><a href="/athletics">Athletics</a></body></html>`)
	})
	mux.HandleFunc("/staff", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><h1>Staff Directory</h1><a href="mailto:ann@example.org">Ann Lee</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPipelineCrawlsLocalSite(t *testing.T) {
	t.Parallel()

	srv := schoolSite(t)
	a := newTestApp(t, testConfig(t))

	p, err := a.Pipeline(context.Background(), nil)
	require.NoError(t, err)

	report, err := p.RunSeeds(context.Background(), "run-local", []crawler.SiteSeed{
		{SiteID: "school", Name: "School", RootURL: srv.URL + "/"},
	})
	require.NoError(t, err)
	require.Len(t, report.Sites, 1)

	site := report.Sites[0]
	require.Equal(t, crawler.SiteStatusOK, site.Status, site.FailureReason)
	require.Equal(t, srv.URL+"/staff", site.Pages[0].URL)
	require.Equal(t, crawler.SourceFastPath, site.Pages[0].FetchStatus)
	require.NotEmpty(t, site.Pages[0].ContentHash)
	require.Equal(t, "memory://reports/run-local.json", report.URI)

	_, status, err := a.Progress()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		run, ok := status.Run("run-local")
		return ok && run.Done && run.SitesOK == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServicesAreBuiltOnce(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	hub1, status1, err := a.Progress()
	require.NoError(t, err)
	hub2, status2, err := a.Progress()
	require.NoError(t, err)
	require.Same(t, hub1, hub2)
	require.Same(t, status1, status2)

	b1, err := a.BlobStore(context.Background())
	require.NoError(t, err)
	b2, err := a.BlobStore(context.Background())
	require.NoError(t, err)
	require.Same(t, b1, b2)
	require.Same(t, a.Scorer(), a.Scorer())
}

func TestOptionalServicesDisabledByDefault(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	stores, err := a.ResultStores(context.Background())
	require.NoError(t, err)
	require.Empty(t, stores)

	pub, err := a.Publisher(context.Background())
	require.NoError(t, err)
	require.Nil(t, pub)

	ex, err := a.Extractor()
	require.NoError(t, err)
	require.IsType(t, extraction.Noop{}, ex)
}

func TestSQLiteResultStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.DB.Driver = "sqlite"
	cfg.DB.SQLitePath = filepath.Join(t.TempDir(), "harvest.db")
	a := newTestApp(t, cfg)

	stores, err := a.ResultStores(context.Background())
	require.NoError(t, err)
	require.Len(t, stores, 1)

	reader, err := a.SQLite(context.Background())
	require.NoError(t, err)
	require.Same(t, stores[0], crawler.ResultStore(reader))
}

func TestSeedSource(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	_, err := a.SeedSource("")
	require.ErrorContains(t, err, "csv_path")

	src, err := a.SeedSource("seeds.csv")
	require.NoError(t, err)
	require.Equal(t, discovery.CSVSource{Path: "seeds.csv"}, src)

	cfg.Discovery.Source = "places"
	cfg.Discovery.Places.APIKey = "k"
	cfg.Discovery.Places.Queries = []string{"schools in Ohio"}
	places := newTestApp(t, cfg)
	src, err = places.SeedSource("")
	require.NoError(t, err)
	require.IsType(t, &discovery.PlacesSource{}, src)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a := New(testConfig(t), zaptest.NewLogger(t))
	a.registerer = prometheus.NewRegistry()
	_, _, err := a.Progress()
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}
