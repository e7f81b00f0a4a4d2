// Package detector decides when a fast-path page is too thin and should be
// re-fetched through the rendering fallback.
package detector

import (
	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/scorer"
)

// Heuristic promotes pages that show no contact signal: fewer than MinEmails
// addresses and no heading naming a staff-like section.
type Heuristic struct {
	MinEmails int
	scorer    *scorer.Scorer
}

// NewHeuristic creates a detector. The scorer supplies the heading keywords.
func NewHeuristic(s *scorer.Scorer, minEmails int) *Heuristic {
	if minEmails <= 0 {
		minEmails = 1
	}
	if s == nil {
		s = scorer.New(scorer.DefaultRubric())
	}
	return &Heuristic{MinEmails: minEmails, scorer: s}
}

// ShouldPromote reports whether a successful fast-path response has too
// little signal to be worth keeping without rendering.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	signals := scorer.ExtractSignals(resp.Body)
	if len(signals.Emails) >= h.MinEmails {
		return false
	}
	if _, ok := h.scorer.HeadingMatch(signals.Headings); ok {
		return false
	}
	return true
}
