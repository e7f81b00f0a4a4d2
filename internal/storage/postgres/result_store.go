// Package postgres persists site results in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

var validPrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultPrefix = "harvest"

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ResultStore writes one row per site and one row per selected page. Page
// content lives in the blob store; rows carry its hash and URI.
type ResultStore struct {
	pool  pool
	sites string
	pages string
}

// NewResultStore connects a pool using cfg.
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	store, err := NewResultStoreWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewResultStoreWithPool builds a store on an existing pool.
func NewResultStoreWithPool(p pool, prefix string) (*ResultStore, error) {
	if p == nil {
		return nil, errors.New("postgres: pool is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("postgres: invalid table prefix %q", prefix)
	}
	return &ResultStore{pool: p, sites: prefix + "_sites", pages: prefix + "_pages"}, nil
}

// Close releases the pool.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables when they do not exist.
func (s *ResultStore) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id         TEXT NOT NULL,
	site_id        TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	root_url       TEXT NOT NULL,
	status         TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	stats          JSONB NOT NULL,
	started_at     TIMESTAMPTZ,
	finished_at    TIMESTAMPTZ,
	PRIMARY KEY (run_id, site_id)
)`, s.sites),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id          TEXT NOT NULL,
	site_id         TEXT NOT NULL,
	rank            INT NOT NULL,
	url             TEXT NOT NULL,
	depth           INT NOT NULL,
	score           INT NOT NULL,
	path_score      INT NOT NULL,
	content_score   INT NOT NULL,
	score_breakdown JSONB NOT NULL,
	fetch_status    TEXT NOT NULL,
	content_hash    TEXT NOT NULL DEFAULT '',
	blob_uri        TEXT NOT NULL DEFAULT '',
	attempts        JSONB NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	error_class     TEXT NOT NULL DEFAULT '',
	contacts        JSONB NOT NULL,
	PRIMARY KEY (run_id, site_id, rank)
)`, s.pages),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// SaveSite upserts the site row and replaces its page rows in one transaction.
func (s *ResultStore) SaveSite(ctx context.Context, result crawler.SiteCrawlResult) error {
	if result.RunID == "" || result.SiteID == "" {
		return errors.New("postgres: run id and site id are required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	if err := s.write(ctx, tx, result); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *ResultStore) write(ctx context.Context, tx pgx.Tx, result crawler.SiteCrawlResult) error {
	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("postgres: marshal stats: %w", err)
	}
	siteSQL := fmt.Sprintf(`INSERT INTO %s (
	run_id, site_id, name, root_url, status, failure_reason, stats, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (run_id, site_id) DO UPDATE SET
	name = EXCLUDED.name,
	root_url = EXCLUDED.root_url,
	status = EXCLUDED.status,
	failure_reason = EXCLUDED.failure_reason,
	stats = EXCLUDED.stats,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at`, s.sites)
	if _, err := tx.Exec(ctx, siteSQL,
		result.RunID, result.SiteID, result.Name, result.RootURL,
		string(result.Status), result.FailureReason, stats,
		result.StartedAt, result.FinishedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert site: %w", err)
	}

	deleteSQL := fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1 AND site_id = $2`, s.pages)
	if _, err := tx.Exec(ctx, deleteSQL, result.RunID, result.SiteID); err != nil {
		return fmt.Errorf("postgres: clear pages: %w", err)
	}

	pageSQL := fmt.Sprintf(`INSERT INTO %s (
	run_id, site_id, rank, url, depth, score, path_score, content_score, score_breakdown,
	fetch_status, content_hash, blob_uri, attempts, error, error_class, contacts
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`, s.pages)
	for rank, page := range result.Pages {
		breakdown, attempts, contacts, err := pageJSON(page)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, pageSQL,
			result.RunID, result.SiteID, rank, page.URL, page.Depth,
			page.Score, page.PathScore, page.ContentScore, breakdown,
			string(page.FetchStatus), page.ContentHash, page.BlobURI, attempts,
			page.Error, string(page.ErrorClass), contacts,
		); err != nil {
			return fmt.Errorf("postgres: insert page %s: %w", page.URL, err)
		}
	}
	return nil
}

func pageJSON(page crawler.PageOutcome) (breakdown, attempts, contacts []byte, err error) {
	if breakdown, err = json.Marshal(nonNil(page.ScoreBreakdown)); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal breakdown: %w", err)
	}
	if attempts, err = json.Marshal(nonNil(page.Attempts)); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal attempts: %w", err)
	}
	if contacts, err = json.Marshal(nonNil(page.Contacts)); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal contacts: %w", err)
	}
	return breakdown, attempts, contacts, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
