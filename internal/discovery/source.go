// Package discovery produces the list of sites to crawl.
package discovery

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

// Source yields crawl seeds.
type Source interface {
	Seeds(ctx context.Context) ([]crawler.SiteSeed, error)
}

// CSVSource reads seeds from a CSV file with a header row.
type CSVSource struct {
	Path string
}

var columnAliases = map[string][]string{
	"id":      {"site_id", "place_id", "id"},
	"name":    {"name"},
	"website": {"website", "root_url", "url"},
	"address": {"address"},
}

// Seeds opens Path and parses it.
func (s CSVSource) Seeds(ctx context.Context) ([]crawler.SiteSeed, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("discovery: open %s: %w", s.Path, err)
	}
	defer f.Close()
	return ReadCSV(ctx, f)
}

// ReadCSV parses seeds. Rows without a website are skipped and duplicate ids
// keep their first occurrence. A missing id falls back to the website host.
func ReadCSV(ctx context.Context, r io.Reader) ([]crawler.SiteSeed, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("discovery: csv is empty")
		}
		return nil, fmt.Errorf("discovery: read header: %w", err)
	}
	cols := indexColumns(header)
	if _, ok := cols["website"]; !ok {
		return nil, errors.New("discovery: csv needs a website column")
	}

	seen := make(map[string]struct{})
	var seeds []crawler.SiteSeed
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("discovery: line %d: %w", line, err)
		}
		seed := crawler.SiteSeed{
			SiteID:  field(record, cols, "id"),
			Name:    field(record, cols, "name"),
			RootURL: field(record, cols, "website"),
			Address: field(record, cols, "address"),
		}
		if seed.RootURL == "" {
			continue
		}
		if seed.SiteID == "" {
			seed.SiteID = hostID(seed.RootURL)
		}
		if _, dup := seen[seed.SiteID]; dup {
			continue
		}
		seen[seed.SiteID] = struct{}{}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

// WriteCSV writes seeds in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, seeds []crawler.SiteSeed) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"site_id", "name", "website", "address"}); err != nil {
		return err
	}
	for _, s := range seeds {
		if err := writer.Write([]string{s.SiteID, s.Name, s.RootURL, s.Address}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for key, aliases := range columnAliases {
		for _, alias := range aliases {
			found := false
			for i, h := range header {
				if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), alias) {
					cols[key] = i
					found = true
					break
				}
			}
			if found {
				break
			}
		}
	}
	return cols
}

func field(record []string, cols map[string]int, key string) string {
	i, ok := cols[key]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func hostID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
