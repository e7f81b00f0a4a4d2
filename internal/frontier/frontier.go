// Package frontier discovers, scores and selects the pages worth harvesting
// for one site.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
	"github.com/JakeFAU/org-contact-crawler/internal/scorer"
)

var (
	// ErrRootUnreachable wraps the classified failure of the site root fetch.
	ErrRootUnreachable = errors.New("root unreachable")
	// ErrSealed is returned when links are offered after scoring began.
	ErrSealed = errors.New("frontier is sealed")
)

// LinkFetcher returns the outbound links of a page.
type LinkFetcher interface {
	FetchLinks(ctx context.Context, url string) ([]string, error)
}

// Config bounds one site's discovery and selection.
type Config struct {
	MaxDepth           int
	MaxDiscoveredPages int
	TopK               int
	MinThreshold       int
	FanOut             int
}

// Validate rejects configurations that could never produce a bounded crawl.
func (c Config) Validate() error {
	switch {
	case c.MaxDepth < 0:
		return fmt.Errorf("frontier: max depth must be >= 0, got %d", c.MaxDepth)
	case c.MaxDiscoveredPages <= 0:
		return fmt.Errorf("frontier: max discovered pages must be > 0, got %d", c.MaxDiscoveredPages)
	case c.TopK <= 0:
		return fmt.Errorf("frontier: top k must be > 0, got %d", c.TopK)
	case c.FanOut < 0:
		return fmt.Errorf("frontier: fan out must be >= 0, got %d", c.FanOut)
	}
	return nil
}

// Stats counts what discovery and scoring observed.
type Stats struct {
	Discovered     int
	Visited        int
	Excluded       int
	BelowThreshold int
	Selected       int
}

// Frontier is the per-site discovery state. It is driven by a single goroutine;
// only link fetches inside Expand run concurrently.
type Frontier struct {
	cfg    Config
	scorer *scorer.Scorer
	links  LinkFetcher
	logger *zap.Logger

	state    State
	root     *url.URL
	site     string
	seen     map[string]struct{}
	expanded map[string]struct{}

	candidates []crawler.Candidate
	qualifying []crawler.ScoredPage
	selection  []crawler.ScoredPage
	stats      Stats
}

// New creates an empty frontier.
func New(cfg Config, s *scorer.Scorer, links LinkFetcher, logger *zap.Logger) (*Frontier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("frontier: scorer is required")
	}
	if cfg.FanOut == 0 {
		cfg.FanOut = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		cfg:      cfg,
		scorer:   s,
		links:    links,
		logger:   logger,
		seen:     make(map[string]struct{}),
		expanded: make(map[string]struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (f *Frontier) State() State { return f.state }

// Stats returns the discovery counters gathered so far.
func (f *Frontier) Stats() Stats { return f.stats }

// Candidates returns a copy of every admitted candidate in discovery order.
func (f *Frontier) Candidates() []crawler.Candidate {
	return append([]crawler.Candidate(nil), f.candidates...)
}

// Run seeds, expands, scores and selects in one call.
func (f *Frontier) Run(ctx context.Context, root string) ([]crawler.ScoredPage, error) {
	if err := f.Seed(root); err != nil {
		return nil, err
	}
	if err := f.Expand(ctx); err != nil {
		return nil, err
	}
	return f.Select(), nil
}

// Seed admits the site root as the depth-zero candidate.
func (f *Frontier) Seed(root string) error {
	if f.state != StateNew {
		return fmt.Errorf("frontier: seed in state %s", f.state)
	}
	u, err := url.Parse(strings.TrimSpace(root))
	if err != nil {
		return fmt.Errorf("frontier: parse root %q: %w", root, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return fmt.Errorf("frontier: root %q is not an absolute http(s) url", root)
	}
	f.root = u
	f.site = siteKey(u.Hostname())
	f.state = StateSeeded
	f.admit(u, 0, "")
	return nil
}

// AddDiscovered admits links found on parent at the given depth and reports
// how many became new candidates. It is the only admission point, may be
// called any number of times, and never lets the candidate set grow past
// MaxDiscoveredPages.
func (f *Frontier) AddDiscovered(parent string, depth int, links []string) (int, error) {
	if f.state != StateSeeded && f.state != StateExpanding {
		return 0, fmt.Errorf("frontier: add in state %s: %w", f.state, ErrSealed)
	}
	base, err := url.Parse(parent)
	if err != nil {
		base = f.root
	}
	added := 0
	for _, raw := range links {
		if f.full() {
			break
		}
		target, err := base.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if f.admit(target, depth, parent) {
			added++
		}
	}
	return added, nil
}

func (f *Frontier) full() bool {
	return len(f.candidates) >= f.cfg.MaxDiscoveredPages
}

func (f *Frontier) admit(u *url.URL, depth int, source string) bool {
	if f.full() {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if siteKey(u.Hostname()) != f.site {
		return false
	}
	if skipPath(u.Path) {
		return false
	}
	key := dedupKey(u, f.scorer.SignificantFragment(u.Fragment))
	if _, dup := f.seen[key]; dup {
		return false
	}
	f.seen[key] = struct{}{}
	f.candidates = append(f.candidates, crawler.Candidate{
		URL:    u.String(),
		Depth:  depth,
		Source: source,
		Order:  len(f.candidates),
	})
	f.stats.Discovered = len(f.candidates)
	return true
}

// Expand walks the site breadth-first. Each depth level's link fetches run
// concurrently up to FanOut and are merged in parent order, so discovery
// order does not depend on scheduling. Excluded pages are never expanded;
// the root always is. A failed root fetch returns ErrRootUnreachable; a
// canceled context stops expansion and keeps what was discovered.
func (f *Frontier) Expand(ctx context.Context) error {
	if f.state != StateSeeded {
		return fmt.Errorf("frontier: expand in state %s", f.state)
	}
	f.state = StateExpanding
	if f.links == nil {
		return nil
	}

	for depth := 0; depth < f.cfg.MaxDepth && !f.full(); depth++ {
		parents := f.expandable(depth)
		if len(parents) == 0 {
			break
		}
		if ctx.Err() != nil {
			if depth == 0 {
				return fmt.Errorf("%w: %w", ErrRootUnreachable, ctx.Err())
			}
			f.logger.Debug("expansion stopped by context", zap.Int("depth", depth))
			return nil
		}

		found := make([][]string, len(parents))
		errs := make([]error, len(parents))
		var g errgroup.Group
		g.SetLimit(f.cfg.FanOut)
		for i, parent := range parents {
			g.Go(func() error {
				found[i], errs[i] = f.links.FetchLinks(ctx, parent)
				return nil
			})
		}
		_ = g.Wait()
		f.stats.Visited += len(parents)

		for i, parent := range parents {
			if errs[i] != nil {
				if depth == 0 {
					return fmt.Errorf("%w: %w", ErrRootUnreachable, errs[i])
				}
				f.logger.Debug("link fetch failed",
					zap.String("url", parent),
					zap.String("class", string(crawler.ClassOf(errs[i]))),
					zap.Error(errs[i]),
				)
				continue
			}
			if _, err := f.AddDiscovered(parent, depth+1, found[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandable returns the fetch URLs for candidates at depth that have not been
// expanded yet. Fragments are dropped so /staff and /staff#team share a fetch.
func (f *Frontier) expandable(depth int) []string {
	var out []string
	for _, c := range f.candidates {
		if c.Depth != depth {
			continue
		}
		if depth > 0 && f.scorer.Excluded(c.URL) {
			continue
		}
		u, err := url.Parse(c.URL)
		if err != nil {
			continue
		}
		key := dedupKey(u, false)
		if _, done := f.expanded[key]; done {
			continue
		}
		f.expanded[key] = struct{}{}
		fetch := *u
		fetch.Fragment = ""
		fetch.RawFragment = ""
		out = append(out, fetch.String())
	}
	return out
}

// Score applies the path rubric to every candidate and keeps the ones that
// are not excluded and reach MinThreshold. Result order is discovery order.
func (f *Frontier) Score() []crawler.ScoredPage {
	if f.state == StateScoring || f.state == StateSelected || f.state == StateDone {
		return append([]crawler.ScoredPage(nil), f.qualifying...)
	}
	f.state = StateScoring
	f.qualifying = f.qualifying[:0]
	for _, c := range f.candidates {
		res := f.scorer.ScorePath(c.URL)
		if res.Excluded {
			f.stats.Excluded++
			continue
		}
		if res.Score < f.cfg.MinThreshold {
			f.stats.BelowThreshold++
			continue
		}
		f.qualifying = append(f.qualifying, crawler.ScoredPage{
			Candidate: c,
			PathScore: res.PathScore,
			Score:     res.Score,
			Breakdown: res.Breakdown,
		})
	}
	return append([]crawler.ScoredPage(nil), f.qualifying...)
}

// Select ranks qualifying pages by score (discovery order breaks ties) and
// keeps the top K. The truncation happens once; later calls return the same
// selection.
func (f *Frontier) Select() []crawler.ScoredPage {
	if f.state == StateSelected || f.state == StateDone {
		return append([]crawler.ScoredPage(nil), f.selection...)
	}
	if f.state == StateNew {
		return nil
	}
	ranked := f.Score()
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Order < ranked[j].Order
	})
	if len(ranked) > f.cfg.TopK {
		ranked = ranked[:f.cfg.TopK]
	}
	f.selection = ranked
	f.stats.Selected = len(ranked)
	f.state = StateSelected
	metrics.ObserveSelection(f.stats.Selected, f.stats.Excluded)
	f.logger.Debug("selection complete",
		zap.Int("discovered", f.stats.Discovered),
		zap.Int("excluded", f.stats.Excluded),
		zap.Int("below_threshold", f.stats.BelowThreshold),
		zap.Int("selected", f.stats.Selected),
	)
	return append([]crawler.ScoredPage(nil), f.selection...)
}

// MarkDone records that the selected pages have been handed off.
func (f *Frontier) MarkDone() {
	if f.state == StateSelected {
		f.state = StateDone
	}
}
