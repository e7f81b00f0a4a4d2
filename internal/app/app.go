// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/org-contact-crawler/internal/api"
	"github.com/JakeFAU/org-contact-crawler/internal/config"
	"github.com/JakeFAU/org-contact-crawler/internal/coordinator"
	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/discovery"
	"github.com/JakeFAU/org-contact-crawler/internal/extraction"
	"github.com/JakeFAU/org-contact-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/org-contact-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/org-contact-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/org-contact-crawler/internal/headless/detector"
	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
	"github.com/JakeFAU/org-contact-crawler/internal/pipeline"
	"github.com/JakeFAU/org-contact-crawler/internal/policy/budget"
	"github.com/JakeFAU/org-contact-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/org-contact-crawler/internal/progress"
	"github.com/JakeFAU/org-contact-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/org-contact-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/org-contact-crawler/internal/scorer"
	gcsstorage "github.com/JakeFAU/org-contact-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/org-contact-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/org-contact-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/org-contact-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/org-contact-crawler/internal/storage/sqlite"
)

// App holds the configuration, the logger and every service built from them.
// Services are built on first use so each command only pays for what it needs.
// Close releases them in reverse order of construction.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	// registerer receives the progress collectors; nil means the default registry.
	registerer prometheus.Registerer

	mu      sync.Mutex
	closers []closer
	closed  bool

	scorer  *scorer.Scorer
	hub     *progress.Hub
	status  *sinks.StatusSink
	blobs   crawler.BlobStore
	sqlite  *sqlitestore.ResultStore
	stores  []crawler.ResultStore
	builtDB bool
}

const statusRunsKept = 16

type closer struct {
	name string
	fn   func(context.Context) error
}

// New wraps cfg and logger. It starts nothing.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &App{cfg: cfg, logger: logger}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close shuts services down in reverse order and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	// Sync fails on stderr for some terminals; that is not worth reporting.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// Scorer returns the scorer built from the configured rubric.
func (a *App) Scorer() *scorer.Scorer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scorer == nil {
		a.scorer = scorer.New(a.cfg.RubricWithOverrides())
	}
	return a.scorer
}

// Progress returns the progress hub and the status sink behind /v1/runs.
// The hub fans out to the log, Prometheus and status sinks, plus a terminal
// bar when progress.bar is set.
func (a *App) Progress() (*progress.Hub, *sinks.StatusSink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hub != nil {
		return a.hub, a.status, nil
	}
	promSink, err := sinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, nil, fmt.Errorf("progress: %w", err)
	}
	a.status = sinks.NewStatusSink(statusRunsKept)
	sinkList := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		a.status,
	}
	if a.cfg.Progress.Bar {
		sinkList = append(sinkList, sinks.NewBarSink(os.Stderr))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.MaxBatchWait(),
		Logger:         a.logger.Named("progress_hub"),
	}, sinkList...)
	a.onClose("progress hub", a.hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", a.cfg.Progress.BufferSize),
		zap.Duration("max_batch_wait", a.cfg.MaxBatchWait()),
	)
	return a.hub, a.status, nil
}

// PageFetcher builds the two-path fetcher: colly first, chromedp as the
// fallback when headless is enabled, paced per host and drawing from the
// global fetch budget.
func (a *App) PageFetcher() (*fetcher.TwoPath, error) {
	cfg := a.cfg
	fast := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.PerFetchTimeout(),
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
	})
	a.logger.Info("using colly fast path",
		zap.String("user_agent", cfg.Fetch.UserAgent),
		zap.Bool("respect_robots", cfg.Fetch.RespectRobots),
	)

	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS:   cfg.Fetch.PerHostRPS,
		PerHostBurst: cfg.Fetch.PerHostBurst,
	})
	fetchBudget := budget.New(cfg.Run.GlobalMaxFetchBudget)
	a.mu.Lock()
	a.onClose("fetch budget", func(context.Context) error {
		a.logger.Info("fetch usage",
			zap.Int("fetches", fetchBudget.Used()),
			zap.Int("budget_remaining", fetchBudget.Remaining()),
			zap.Int("hosts", limiter.Hosts()),
		)
		return nil
	})
	a.mu.Unlock()

	opts := []fetcher.Option{
		fetcher.WithLimiter(limiter),
		fetcher.WithBudget(fetchBudget),
		fetcher.WithLogger(a.logger.Named("fetcher")),
	}

	if cfg.Headless.Enabled {
		rendering, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			SettleDelay:       cfg.SettleDelay(),
			DisableReveal:     cfg.Headless.DisableReveal,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.mu.Lock()
		a.onClose("headless browser", func(context.Context) error {
			rendering.Close()
			return nil
		})
		a.mu.Unlock()
		opts = append(opts, fetcher.WithFallback(
			rendering,
			detector.NewHeuristic(a.Scorer(), cfg.Headless.PromoteBelowEmails),
		))
		a.logger.Info("using headless fallback", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	} else {
		a.logger.Info("headless fallback disabled")
	}

	return fetcher.New(fetcher.Config{
		RetryCount:        cfg.Fetch.RetryCount,
		Backoff:           cfg.Backoff(),
		PerAttemptTimeout: cfg.PerFetchTimeout(),
	}, fast, opts...)
}

// Coordinator builds the per-site crawler. A nil emitter disables progress.
func (a *App) Coordinator(emitter progress.Emitter) (*coordinator.Coordinator, error) {
	pages, err := a.PageFetcher()
	if err != nil {
		return nil, err
	}
	opts := []coordinator.Option{coordinator.WithLogger(a.logger.Named("coordinator"))}
	if emitter != nil {
		opts = append(opts, coordinator.WithProgress(emitter))
	}
	return coordinator.New(coordinator.Config{
		MaxDepth:           a.cfg.Crawl.MaxDepth,
		MaxDiscoveredPages: a.cfg.Crawl.MaxDiscoveredPages,
		TopK:               a.cfg.Crawl.TopK,
		MinThreshold:       a.cfg.Crawl.MinThreshold,
		FanOut:             a.cfg.Crawl.FanOut,
		SiteBudget:         a.cfg.SiteBudget(),
	}, a.Scorer(), pages, opts...)
}

// BlobStore returns the store for page content and run reports.
func (a *App) BlobStore(ctx context.Context) (crawler.BlobStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blobs != nil {
		return a.blobs, nil
	}
	out := a.cfg.Output
	switch out.Blob {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:       out.GCSBucket,
			Prefix:       out.GCSPrefix,
			VerifyBucket: true,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs client", func(context.Context) error { return store.Close() })
		a.blobs = store
		a.logger.Info("using GCS blob store", zap.String("bucket", out.GCSBucket), zap.String("prefix", out.GCSPrefix))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: out.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local blob store", zap.String("dir", out.LocalDir))
	default:
		a.blobs = memoryStorage.NewBlobStore()
		a.logger.Warn("using in-memory blob store; reports are discarded on exit")
	}
	return a.blobs, nil
}

// ResultStores opens the configured database, migrating it when db.migrate
// is set. It returns nil when no driver is configured.
func (a *App) ResultStores(ctx context.Context) ([]crawler.ResultStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.builtDB {
		return a.stores, nil
	}
	db := a.cfg.DB
	switch db.Driver {
	case "postgres":
		store, err := pgstore.NewResultStore(ctx, pgstore.Config{
			DSN:         db.DSN,
			TablePrefix: db.TablePrefix,
			MaxConns:    db.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres result store init failed: %w", err)
		}
		a.onClose("postgres pool", func(context.Context) error {
			store.Close()
			return nil
		})
		if db.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		a.stores = append(a.stores, store)
		a.logger.Info("postgres result store initialized", zap.String("table_prefix", db.TablePrefix))
	case "sqlite":
		store, err := a.openSQLite(ctx)
		if err != nil {
			return nil, err
		}
		a.stores = append(a.stores, store)
	default:
		a.logger.Info("no result database configured")
	}
	a.builtDB = true
	return a.stores, nil
}

// SQLite opens db.sqlite_path regardless of db.driver, for reading results back.
func (a *App) SQLite(ctx context.Context) (*sqlitestore.ResultStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openSQLite(ctx)
}

func (a *App) openSQLite(ctx context.Context) (*sqlitestore.ResultStore, error) {
	if a.sqlite != nil {
		return a.sqlite, nil
	}
	store, err := sqlitestore.Open(ctx, a.cfg.DB.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite result store init failed: %w", err)
	}
	a.onClose("sqlite", func(context.Context) error { return store.Close() })
	a.sqlite = store
	a.logger.Info("sqlite result store initialized", zap.String("path", a.cfg.DB.SQLitePath))
	return store, nil
}

// Publisher returns the Pub/Sub publisher, or nil when no topic is configured.
func (a *App) Publisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.Topic == "" {
		a.logger.Info("no Pub/Sub topic configured, site notices disabled")
		return nil, nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic, a.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.mu.Lock()
	a.onClose("pubsub", func(context.Context) error { return pub.Close() })
	a.mu.Unlock()
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return pub, nil
}

// Extractor returns the HTTP extraction client, or extraction.Noop when no
// endpoint is configured.
func (a *App) Extractor() (crawler.ContactExtractor, error) {
	ex := a.cfg.Extraction
	if ex.Endpoint == "" {
		a.logger.Info("no extraction endpoint configured, contacts will be empty")
		return extraction.Noop{}, nil
	}
	client, err := extraction.NewHTTPClient(extraction.Config{
		Endpoint:        ex.Endpoint,
		APIKey:          ex.APIKey,
		Timeout:         a.cfg.ExtractionTimeout(),
		MaxContentBytes: ex.MaxContentBytes,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("extraction client init failed: %w", err)
	}
	return client, nil
}

// SeedSource returns the configured seed source. A non-empty csvPath forces
// the CSV source.
func (a *App) SeedSource(csvPath string) (discovery.Source, error) {
	d := a.cfg.Discovery
	if csvPath != "" {
		return discovery.CSVSource{Path: csvPath}, nil
	}
	switch d.Source {
	case "places":
		return a.PlacesSource()
	default:
		if d.CSVPath == "" {
			return nil, errors.New("discovery.csv_path is required for the csv source")
		}
		return discovery.CSVSource{Path: d.CSVPath}, nil
	}
}

// PlacesSource builds the place text search source.
func (a *App) PlacesSource() (*discovery.PlacesSource, error) {
	p := a.cfg.Discovery.Places
	return discovery.NewPlacesSource(discovery.PlacesConfig{
		Endpoint:         p.Endpoint,
		APIKey:           p.APIKey,
		Queries:          p.Queries,
		MaxPagesPerQuery: p.MaxPagesPerQuery,
		MaxCalls:         p.MaxCalls,
		Interval:         a.cfg.PlacesInterval(),
	}, nil, a.logger.Named("discovery"))
}

// Pipeline assembles a full run from the configured services.
func (a *App) Pipeline(ctx context.Context, source discovery.Source) (*pipeline.Pipeline, error) {
	hub, _, err := a.Progress()
	if err != nil {
		return nil, err
	}
	siteCrawler, err := a.Coordinator(hub)
	if err != nil {
		return nil, err
	}
	blobs, err := a.BlobStore(ctx)
	if err != nil {
		return nil, err
	}
	stores, err := a.ResultStores(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := a.Publisher(ctx)
	if err != nil {
		return nil, err
	}
	extractor, err := a.Extractor()
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithExtractor(extractor),
		pipeline.WithProgress(hub),
		pipeline.WithLogger(a.logger),
	}
	for _, s := range stores {
		opts = append(opts, pipeline.WithResultStore(s))
	}
	if pub != nil {
		opts = append(opts, pipeline.WithPublisher(pub))
	}
	return pipeline.New(pipeline.Config{
		Workers:       a.cfg.Run.Workers,
		QueueDepth:    a.cfg.Run.QueueDepth,
		MaxSites:      a.cfg.Run.MaxSites,
		ReportPrefix:  a.cfg.Output.ReportPrefix,
		StoreContent:  a.cfg.Output.StoreContent,
		InlineContent: a.cfg.Output.InlineContent,
		Topic:         a.cfg.PubSub.Topic,
	}, source, siteCrawler, blobs, opts...)
}

// OpsServer builds the health, metrics and run-status server. status may be nil.
func (a *App) OpsServer(status api.RunStatusProvider, checks map[string]api.ReadinessCheck) *api.Server {
	opts := make([]api.Option, 0, len(checks)+1)
	if status != nil {
		opts = append(opts, api.WithRunStatus(status))
	}
	for name, check := range checks {
		opts = append(opts, api.WithReadinessCheck(name, check))
	}
	return api.NewServer(a.logger, opts...)
}
