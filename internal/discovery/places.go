package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
)

// DefaultPlacesEndpoint is the Places API (New) text search method.
const DefaultPlacesEndpoint = "https://places.googleapis.com/v1/places:searchText"

const placesFieldMask = "places.id,places.displayName,places.formattedAddress,places.websiteUri,nextPageToken"

// PlacesConfig controls text-search discovery.
type PlacesConfig struct {
	Endpoint string
	APIKey   string
	Queries  []string
	PageSize int
	// MaxPagesPerQuery bounds nextPageToken follow-ups for one query.
	MaxPagesPerQuery int
	// MaxCalls caps API calls across all queries. Zero means unlimited.
	MaxCalls int
	// Interval is the minimum spacing between calls.
	Interval time.Duration
	Timeout  time.Duration
}

// PlacesSource discovers organizations through place text search.
type PlacesSource struct {
	cfg     PlacesConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewPlacesSource validates cfg and applies defaults.
func NewPlacesSource(cfg PlacesConfig, client *http.Client, logger *zap.Logger) (*PlacesSource, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("discovery: places api key is required")
	}
	if len(cfg.Queries) == 0 {
		return nil, errors.New("discovery: at least one places query is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultPlacesEndpoint
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 20 {
		cfg.PageSize = 20
	}
	if cfg.MaxPagesPerQuery <= 0 {
		cfg.MaxPagesPerQuery = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &PlacesSource{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("places"),
	}, nil
}

type searchRequest struct {
	TextQuery string `json:"textQuery"`
	PageSize  int    `json:"pageSize"`
	PageToken string `json:"pageToken,omitempty"`
}

type searchResponse struct {
	Places []struct {
		ID          string `json:"id"`
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress string `json:"formattedAddress"`
		WebsiteURI       string `json:"websiteUri"`
	} `json:"places"`
	NextPageToken string `json:"nextPageToken"`
}

// Seeds runs every query in order. A failing query is logged and skipped;
// the call cap stops discovery early and returns what was found.
func (s *PlacesSource) Seeds(ctx context.Context) ([]crawler.SiteSeed, error) {
	seen := make(map[string]struct{})
	var seeds []crawler.SiteSeed
	calls := 0
	withoutSite := 0

	for _, query := range s.cfg.Queries {
		token := ""
		for page := 0; page < s.cfg.MaxPagesPerQuery; page++ {
			if s.cfg.MaxCalls > 0 && calls >= s.cfg.MaxCalls {
				s.logger.Info("api call cap reached", zap.Int("calls", calls))
				return seeds, nil
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return seeds, err
			}
			calls++
			resp, err := s.search(ctx, searchRequest{TextQuery: query, PageSize: s.cfg.PageSize, PageToken: token})
			if err != nil {
				metrics.ObserveDiscoveryCall("error")
				if ctx.Err() != nil {
					return seeds, ctx.Err()
				}
				s.logger.Warn("places query failed", zap.String("query", query), zap.Error(err))
				break
			}
			metrics.ObserveDiscoveryCall("ok")
			for _, p := range resp.Places {
				if p.ID == "" {
					continue
				}
				if _, dup := seen[p.ID]; dup {
					continue
				}
				seen[p.ID] = struct{}{}
				if p.WebsiteURI == "" {
					withoutSite++
					continue
				}
				seeds = append(seeds, crawler.SiteSeed{
					SiteID:  p.ID,
					Name:    p.DisplayName.Text,
					RootURL: p.WebsiteURI,
					Address: p.FormattedAddress,
				})
			}
			if resp.NextPageToken == "" {
				break
			}
			token = resp.NextPageToken
		}
	}
	s.logger.Info("places discovery complete",
		zap.Int("calls", calls),
		zap.Int("seeds", len(seeds)),
		zap.Int("without_website", withoutSite))
	return seeds, nil
}

func (s *PlacesSource) search(ctx context.Context, body searchRequest) (searchResponse, error) {
	var out searchResponse
	payload, err := json.Marshal(body)
	if err != nil {
		return out, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", s.cfg.APIKey)
	req.Header.Set("X-Goog-FieldMask", placesFieldMask)

	resp, err := s.client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return out, fmt.Errorf("places search: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("places search: decode: %w", err)
	}
	return out, nil
}
