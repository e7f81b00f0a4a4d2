package pipeline

import (
	"strconv"
	"time"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

// Report is the JSON document written to <report_prefix>/<run_id>.json.
type Report struct {
	RunID      string                    `json:"runId"`
	StartedAt  time.Time                 `json:"startedAt"`
	FinishedAt time.Time                 `json:"finishedAt"`
	Summary    Summary                   `json:"summary"`
	Sites      []crawler.SiteCrawlResult `json:"sites"`
	// URI is where the report was stored; it is not part of the stored document.
	URI string `json:"-"`
}

// Summary totals a run.
type Summary struct {
	Sites                int `json:"sites"`
	SitesOK              int `json:"sitesOk"`
	SitesEmpty           int `json:"sitesEmpty"`
	SitesFailed          int `json:"sitesFailed"`
	PagesSelected        int `json:"pagesSelected"`
	PagesFetchedFast     int `json:"pagesFetchedFast"`
	PagesFetchedFallback int `json:"pagesFetchedFallback"`
	PagesFailed          int `json:"pagesFailed"`
	FetchAttempts        int `json:"fetchAttempts"`
	Contacts             int `json:"contacts"`
	ExtractionFailures   int `json:"extractionFailures"`
}

// Summarize counts sites and pages by outcome.
func Summarize(results []crawler.SiteCrawlResult) Summary {
	s := Summary{Sites: len(results)}
	for _, r := range results {
		switch r.Status {
		case crawler.SiteStatusOK:
			s.SitesOK++
		case crawler.SiteStatusEmpty:
			s.SitesEmpty++
		default:
			s.SitesFailed++
		}
		s.PagesSelected += len(r.Pages)
		s.FetchAttempts += r.Stats.FetchAttempts
		for _, page := range r.Pages {
			switch page.FetchStatus {
			case crawler.SourceFastPath:
				s.PagesFetchedFast++
			case crawler.SourceFallback:
				s.PagesFetchedFallback++
			default:
				s.PagesFailed++
			}
			s.Contacts += len(page.Contacts)
		}
	}
	return s
}

// SiteNotice is the per-site completion message.
type SiteNotice struct {
	RunID         string             `json:"runId"`
	SiteID        string             `json:"siteId"`
	Name          string             `json:"name"`
	RootURL       string             `json:"rootUrl"`
	Status        crawler.SiteStatus `json:"status"`
	FailureReason string             `json:"failureReason,omitempty"`
	Pages         []NoticePage       `json:"pages"`
	Contacts      int                `json:"contacts"`
	FinishedAt    time.Time          `json:"finishedAt"`
}

// NoticePage is a page reference inside a SiteNotice.
type NoticePage struct {
	URL         string                `json:"url"`
	Score       int                   `json:"score"`
	FetchStatus crawler.ContentSource `json:"fetchStatus"`
	BlobURI     string                `json:"blobUri,omitempty"`
}

// NewSiteNotice summarizes result without page content.
func NewSiteNotice(result crawler.SiteCrawlResult) SiteNotice {
	n := SiteNotice{
		RunID:         result.RunID,
		SiteID:        result.SiteID,
		Name:          result.Name,
		RootURL:       result.RootURL,
		Status:        result.Status,
		FailureReason: result.FailureReason,
		Pages:         make([]NoticePage, 0, len(result.Pages)),
		FinishedAt:    result.FinishedAt,
	}
	for _, p := range result.Pages {
		n.Pages = append(n.Pages, NoticePage{URL: p.URL, Score: p.Score, FetchStatus: p.FetchStatus, BlobURI: p.BlobURI})
		n.Contacts += len(p.Contacts)
	}
	return n
}

// Attributes lets subscriptions filter on run and status.
func (n SiteNotice) Attributes() map[string]string {
	return map[string]string{
		"run_id":   n.RunID,
		"site_id":  n.SiteID,
		"status":   string(n.Status),
		"contacts": strconv.Itoa(n.Contacts),
	}
}
