// Package sqlite keeps site results in a local SQLite file for single-node runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	run_id         TEXT NOT NULL,
	site_id        TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	root_url       TEXT NOT NULL,
	status         TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	stats          TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	finished_at    TEXT NOT NULL,
	PRIMARY KEY (run_id, site_id)
);

CREATE TABLE IF NOT EXISTS pages (
	run_id  TEXT NOT NULL,
	site_id TEXT NOT NULL,
	rank    INTEGER NOT NULL,
	url     TEXT NOT NULL,
	score   INTEGER NOT NULL,
	status  TEXT NOT NULL,
	outcome TEXT NOT NULL,
	PRIMARY KEY (run_id, site_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_pages_site ON pages(run_id, site_id);
`

// ResultStore writes site results to SQLite.
type ResultStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*ResultStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &ResultStore{db: db}, nil
}

// Close closes the database.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// SaveSite replaces the stored rows for the site.
func (s *ResultStore) SaveSite(ctx context.Context, result crawler.SiteCrawlResult) error {
	if result.RunID == "" || result.SiteID == "" {
		return errors.New("sqlite: run id and site id are required")
	}
	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("sqlite: marshal stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO sites
		(run_id, site_id, name, root_url, status, failure_reason, stats, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.SiteID, result.Name, result.RootURL, string(result.Status),
		result.FailureReason, string(stats),
		result.StartedAt.UTC().Format(time.RFC3339Nano), result.FinishedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("sqlite: upsert site: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE run_id = ? AND site_id = ?`,
		result.RunID, result.SiteID); err != nil {
		return fmt.Errorf("sqlite: clear pages: %w", err)
	}
	for rank, page := range result.Pages {
		page.Content = ""
		outcome, err := json.Marshal(page)
		if err != nil {
			return fmt.Errorf("sqlite: marshal page: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO pages
			(run_id, site_id, rank, url, score, status, outcome) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, result.SiteID, rank, page.URL, page.Score, string(page.FetchStatus), string(outcome),
		); err != nil {
			return fmt.Errorf("sqlite: insert page %s: %w", page.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Sites loads every site of a run ordered by site id, with pages in rank order.
// Page content is not stored, only its hash and blob URI.
func (s *ResultStore) Sites(ctx context.Context, runID string) ([]crawler.SiteCrawlResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT site_id, name, root_url, status, failure_reason,
		stats, started_at, finished_at FROM sites WHERE run_id = ? ORDER BY site_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query sites: %w", err)
	}
	var sites []crawler.SiteCrawlResult
	for rows.Next() {
		site := crawler.SiteCrawlResult{RunID: runID}
		var status, stats, started, finished string
		if err := rows.Scan(&site.SiteID, &site.Name, &site.RootURL, &status, &site.FailureReason,
			&stats, &started, &finished); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan site: %w", err)
		}
		site.Status = crawler.SiteStatus(status)
		if err := json.Unmarshal([]byte(stats), &site.Stats); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: decode stats: %w", err)
		}
		site.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		site.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		sites = append(sites, site)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate sites: %w", err)
	}

	for i := range sites {
		pages, err := s.pages(ctx, runID, sites[i].SiteID)
		if err != nil {
			return nil, err
		}
		sites[i].Pages = pages
	}
	return sites, nil
}

func (s *ResultStore) pages(ctx context.Context, runID, siteID string) ([]crawler.PageOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome FROM pages
		WHERE run_id = ? AND site_id = ? ORDER BY rank`, runID, siteID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query pages: %w", err)
	}
	defer rows.Close()

	pages := []crawler.PageOutcome{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan page: %w", err)
		}
		var page crawler.PageOutcome
		if err := json.Unmarshal([]byte(raw), &page); err != nil {
			return nil, fmt.Errorf("sqlite: decode page: %w", err)
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}
