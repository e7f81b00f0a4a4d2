package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

// ResultStore records saved sites in arrival order.
type ResultStore struct {
	mu    sync.RWMutex
	sites []crawler.SiteCrawlResult
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// SaveSite appends result.
func (s *ResultStore) SaveSite(_ context.Context, result crawler.SiteCrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites = append(s.sites, result)
	return nil
}

// Sites returns a copy of every saved result.
func (s *ResultStore) Sites() []crawler.SiteCrawlResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.SiteCrawlResult(nil), s.sites...)
}
