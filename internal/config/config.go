// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/org-contact-crawler/internal/scorer"
)

// EnvPrefix prefixes every environment override, e.g. ORGCRAWLER_CRAWL_TOP_K.
const EnvPrefix = "ORGCRAWLER"

// Config captures every configuration knob.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Output     OutputConfig     `mapstructure:"output"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
}

// RunConfig sizes the site worker pool.
type RunConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
	// SiteBudgetSeconds is the wall-clock limit per site; 0 disables it.
	SiteBudgetSeconds int `mapstructure:"site_budget_seconds"`
	// GlobalMaxFetchBudget caps fetches across the whole run; 0 is unlimited.
	GlobalMaxFetchBudget int `mapstructure:"global_max_fetch_budget"`
	// MaxSites truncates the seed list; 0 keeps every seed.
	MaxSites int `mapstructure:"max_sites"`
}

// CrawlConfig bounds frontier expansion and selection.
type CrawlConfig struct {
	MaxDepth           int `mapstructure:"max_depth"`
	MaxDiscoveredPages int `mapstructure:"max_discovered_pages"`
	TopK               int `mapstructure:"top_k"`
	MinThreshold       int `mapstructure:"min_threshold"`
	FanOut             int `mapstructure:"fan_out"`
}

// FetchConfig configures the fast path and retries.
type FetchConfig struct {
	PerFetchTimeoutMs int     `mapstructure:"per_fetch_timeout_ms"`
	RetryCount        int     `mapstructure:"retry_count"`
	BackoffMs         int     `mapstructure:"backoff_ms"`
	UserAgent         string  `mapstructure:"user_agent"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
	PerHostRPS        float64 `mapstructure:"per_host_rps"`
	PerHostBurst      int     `mapstructure:"per_host_burst"`
}

// HeadlessConfig configures the rendering fallback.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs     int  `mapstructure:"settle_delay_ms"`
	DisableReveal     bool `mapstructure:"disable_reveal"`
	// PromoteBelowEmails promotes a page with fewer emails than this and no
	// matching heading.
	PromoteBelowEmails int `mapstructure:"promote_below_emails"`
}

// ScoringConfig overrides the built-in rubric.
type ScoringConfig struct {
	// Rubric starts from scorer.DefaultRubric; any table present in the config
	// file replaces the built-in one.
	Rubric              scorer.Rubric `mapstructure:"rubric"`
	ExtraExcludeTokens  []string      `mapstructure:"extra_exclude_tokens"`
	ExtraExcludeDomains []string      `mapstructure:"extra_exclude_domains"`
}

// DiscoveryConfig chooses where seeds come from.
type DiscoveryConfig struct {
	// Source is "csv" or "places".
	Source  string       `mapstructure:"source"`
	CSVPath string       `mapstructure:"csv_path"`
	Places  PlacesConfig `mapstructure:"places"`
}

// PlacesConfig configures place text search.
type PlacesConfig struct {
	Endpoint         string   `mapstructure:"endpoint"`
	APIKey           string   `mapstructure:"api_key"`
	Queries          []string `mapstructure:"queries"`
	MaxCalls         int      `mapstructure:"max_calls"`
	MaxPagesPerQuery int      `mapstructure:"max_pages_per_query"`
	IntervalMs       int      `mapstructure:"interval_ms"`
}

// ExtractionConfig points at the contact extraction service. An empty
// endpoint disables extraction.
type ExtractionConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	APIKey          string `mapstructure:"api_key"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxContentBytes int    `mapstructure:"max_content_bytes"`
}

// OutputConfig selects the blob store for page content and reports.
type OutputConfig struct {
	// Blob is "local", "gcs" or "memory".
	Blob         string `mapstructure:"blob"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	GCSPrefix    string `mapstructure:"gcs_prefix"`
	ReportPrefix string `mapstructure:"report_prefix"`
	// StoreContent writes each fetched page to the blob store.
	StoreContent bool `mapstructure:"store_content"`
	// InlineContent keeps page content in the JSON report.
	InlineContent bool `mapstructure:"inline_content"`
}

// DBConfig selects an optional result store.
type DBConfig struct {
	// Driver is "", "postgres" or "sqlite".
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int32  `mapstructure:"max_conns"`
	Migrate     bool   `mapstructure:"migrate"`
}

// PubSubConfig enables per-site notifications when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	Bar            bool `mapstructure:"bar"`
}

// LoggingConfig configures zap and optional file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Enabled serves /metrics alongside a run.
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{Scoring: ScoringConfig{Rubric: scorer.DefaultRubric()}}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.queue_depth", 64)
	v.SetDefault("run.site_budget_seconds", 300)
	v.SetDefault("run.global_max_fetch_budget", 0)
	v.SetDefault("run.max_sites", 0)

	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.max_discovered_pages", 50)
	v.SetDefault("crawl.top_k", 3)
	v.SetDefault("crawl.min_threshold", 20)
	v.SetDefault("crawl.fan_out", 4)

	v.SetDefault("fetch.per_fetch_timeout_ms", 15000)
	v.SetDefault("fetch.retry_count", 1)
	v.SetDefault("fetch.backoff_ms", 250)
	v.SetDefault("fetch.user_agent", "org-contact-crawler/0.1")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.per_host_rps", 1.0)
	v.SetDefault("fetch.per_host_burst", 2)

	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("headless.disable_reveal", false)
	v.SetDefault("headless.promote_below_emails", 1)

	v.SetDefault("scoring.extra_exclude_tokens", []string{})
	v.SetDefault("scoring.extra_exclude_domains", []string{})

	v.SetDefault("discovery.source", "csv")
	v.SetDefault("discovery.csv_path", "")
	v.SetDefault("discovery.places.endpoint", "")
	v.SetDefault("discovery.places.api_key", "")
	v.SetDefault("discovery.places.max_calls", 100)
	v.SetDefault("discovery.places.max_pages_per_query", 3)
	v.SetDefault("discovery.places.interval_ms", 500)

	v.SetDefault("extraction.endpoint", "")
	v.SetDefault("extraction.api_key", "")
	v.SetDefault("extraction.timeout_seconds", 60)
	v.SetDefault("extraction.max_content_bytes", 200000)

	v.SetDefault("output.blob", "local")
	v.SetDefault("output.local_dir", "out")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_prefix", "")
	v.SetDefault("output.report_prefix", "reports")
	v.SetDefault("output.store_content", true)
	v.SetDefault("output.inline_content", false)

	v.SetDefault("db.driver", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.sqlite_path", "harvest.db")
	v.SetDefault("db.table_prefix", "harvest")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.bar", false)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("server.port", 9090)
	v.SetDefault("server.enabled", false)
}

// Validate enforces required values. Any error here is fatal at startup.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Run.Workers > 0, "run.workers must be > 0")
	check(c.Run.QueueDepth > 0, "run.queue_depth must be > 0")
	check(c.Run.SiteBudgetSeconds >= 0, "run.site_budget_seconds must be >= 0")
	check(c.Run.GlobalMaxFetchBudget >= 0, "run.global_max_fetch_budget must be >= 0")

	check(c.Crawl.MaxDepth >= 0, "crawl.max_depth must be >= 0")
	check(c.Crawl.MaxDiscoveredPages > 0, "crawl.max_discovered_pages must be > 0")
	check(c.Crawl.TopK > 0, "crawl.top_k must be > 0")
	check(c.Crawl.FanOut > 0, "crawl.fan_out must be > 0")

	check(c.Fetch.PerFetchTimeoutMs > 0, "fetch.per_fetch_timeout_ms must be > 0")
	check(c.Fetch.RetryCount == 1, "fetch.retry_count must be 1, got %d", c.Fetch.RetryCount)
	check(c.Fetch.BackoffMs >= 0, "fetch.backoff_ms must be >= 0")
	check(c.Fetch.PerHostRPS >= 0, "fetch.per_host_rps must be >= 0")

	if c.Headless.Enabled {
		check(c.Headless.MaxParallel > 0, "headless.max_parallel must be > 0 when headless is enabled")
	}

	switch c.Discovery.Source {
	case "csv", "":
	case "places":
		check(c.Discovery.Places.APIKey != "", "discovery.places.api_key is required for the places source")
		check(len(c.Discovery.Places.Queries) > 0, "discovery.places.queries is required for the places source")
	default:
		errs = append(errs, fmt.Errorf("discovery.source %q is not one of csv, places", c.Discovery.Source))
	}

	switch c.Output.Blob {
	case "local":
		check(c.Output.LocalDir != "", "output.local_dir is required for the local blob store")
	case "gcs":
		check(c.Output.GCSBucket != "", "output.gcs_bucket is required for the gcs blob store")
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("output.blob %q is not one of local, gcs, memory", c.Output.Blob))
	}

	switch c.DB.Driver {
	case "":
	case "postgres":
		check(c.DB.DSN != "", "db.dsn is required for postgres")
	case "sqlite":
		check(c.DB.SQLitePath != "", "db.sqlite_path is required for sqlite")
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not one of postgres, sqlite", c.DB.Driver))
	}

	if c.PubSub.Topic != "" {
		check(c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub.topic is set")
	}
	check(c.Server.Port > 0, "server.port must be > 0")

	return errors.Join(errs...)
}

// RubricWithOverrides returns the configured rubric with the extra exclusions appended.
func (c Config) RubricWithOverrides() scorer.Rubric {
	r := c.Scoring.Rubric
	r.ExcludeTokens = append(append([]string(nil), r.ExcludeTokens...), c.Scoring.ExtraExcludeTokens...)
	r.ExcludeDomains = append(append([]string(nil), r.ExcludeDomains...), c.Scoring.ExtraExcludeDomains...)
	return r
}

// PerFetchTimeout converts fetch.per_fetch_timeout_ms.
func (c Config) PerFetchTimeout() time.Duration {
	return time.Duration(c.Fetch.PerFetchTimeoutMs) * time.Millisecond
}

// Backoff converts fetch.backoff_ms.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.Fetch.BackoffMs) * time.Millisecond
}

// SiteBudget converts run.site_budget_seconds.
func (c Config) SiteBudget() time.Duration {
	return time.Duration(c.Run.SiteBudgetSeconds) * time.Second
}

// NavTimeout converts headless.nav_timeout_seconds.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}

// SettleDelay converts headless.settle_delay_ms.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleDelayMs) * time.Millisecond
}

// ExtractionTimeout converts extraction.timeout_seconds.
func (c Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}

// PlacesInterval converts discovery.places.interval_ms.
func (c Config) PlacesInterval() time.Duration {
	return time.Duration(c.Discovery.Places.IntervalMs) * time.Millisecond
}

// MaxBatchWait converts progress.max_batch_wait_ms.
func (c Config) MaxBatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
