// Package budget implements the process-wide fetch budget shared by every site.
package budget

import (
	"sync/atomic"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
)

// Counter is an atomic fetch budget. A limit <= 0 means unlimited.
// The zero value is an unlimited counter.
type Counter struct {
	limit int64
	used  atomic.Int64
}

// New returns a Counter allowing at most limit acquisitions.
func New(limit int) *Counter {
	return &Counter{limit: int64(limit)}
}

// Acquire consumes one unit or returns crawler.ErrBudgetExhausted.
// A nil Counter never runs out.
func (c *Counter) Acquire() error {
	if c == nil {
		return nil
	}
	if c.limit <= 0 {
		c.used.Add(1)
		return nil
	}
	for {
		used := c.used.Load()
		if used >= c.limit {
			metrics.ObserveBudgetRejection()
			return crawler.ErrBudgetExhausted
		}
		if c.used.CompareAndSwap(used, used+1) {
			return nil
		}
	}
}

// Used returns how many units have been consumed.
func (c *Counter) Used() int {
	if c == nil {
		return 0
	}
	return int(c.used.Load())
}

// Remaining returns the units left, or -1 when unlimited.
func (c *Counter) Remaining() int {
	if c == nil || c.limit <= 0 {
		return -1
	}
	left := c.limit - c.used.Load()
	if left < 0 {
		return 0
	}
	return int(left)
}
