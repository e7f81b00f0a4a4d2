package crawler

import (
	"net/http"
	"time"
)

// ContentSource records which retrieval path produced a page's content.
type ContentSource string

// Content sources reported on every fetched page.
const (
	SourceFastPath ContentSource = "fast-path"
	SourceFallback ContentSource = "fallback-path"
	SourceFailed   ContentSource = "failed"
)

// FetchPath names one of the two retrieval paths.
type FetchPath string

// Retrieval paths recorded on attempts.
const (
	PathFast     FetchPath = "fast"
	PathFallback FetchPath = "fallback"
)

// SiteStatus distinguishes a crawled site with no qualifying pages from one
// that could not be crawled at all.
type SiteStatus string

// Site outcomes.
const (
	SiteStatusOK     SiteStatus = "ok"
	SiteStatusEmpty  SiteStatus = "empty"
	SiteStatusFailed SiteStatus = "failed"
)

// Candidate is a URL found during frontier expansion.
type Candidate struct {
	URL    string `json:"url"`
	Depth  int    `json:"depth"`
	Source string `json:"source,omitempty"`
	// Order is the discovery sequence number within the site and breaks score ties.
	Order int `json:"order"`
}

// RuleHit is one rubric rule that fired and its contribution.
type RuleHit struct {
	Rule  string `json:"rule"`
	Delta int    `json:"delta"`
}

// ScoredPage is a candidate annotated with its rubric score.
type ScoredPage struct {
	Candidate
	PathScore    int       `json:"pathScore"`
	ContentScore int       `json:"contentScore"`
	Score        int       `json:"score"`
	Breakdown    []RuleHit `json:"scoreBreakdown"`
	Excluded     bool      `json:"excluded"`
}

// FetchRequest captures everything a path fetcher needs for one attempt.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the raw result of one successful path attempt.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Attempt records a single retrieval try. Retries append new records.
type Attempt struct {
	Path       FetchPath  `json:"path"`
	Number     int        `json:"number"`
	StatusCode int        `json:"statusCode,omitempty"`
	DurationMs int64      `json:"durationMs"`
	Error      string     `json:"error,omitempty"`
	Class      ErrorClass `json:"class,omitempty"`
}

// Failed reports whether the attempt ended in an error.
func (a Attempt) Failed() bool {
	return a.Class != ""
}

// FetchResult is the outcome of retrieving one selected page.
type FetchResult struct {
	URL         string
	FinalURL    string
	Content     []byte
	ContentType string
	StatusCode  int
	Source      ContentSource
	Attempts    []Attempt
	Err         error
	ErrClass    ErrorClass
}

// OK reports whether content was retrieved by either path.
func (r FetchResult) OK() bool {
	return r.Source == SourceFastPath || r.Source == SourceFallback
}

// SiteSeed identifies one organization to crawl.
type SiteSeed struct {
	SiteID  string `json:"siteId"`
	Name    string `json:"name"`
	RootURL string `json:"rootUrl"`
	Address string `json:"address,omitempty"`
}

// Contact is an opaque record returned by the extraction collaborator.
type Contact struct {
	Name      string `json:"name,omitempty"`
	Title     string `json:"title,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// PageOutcome is the produced record for one selected page.
type PageOutcome struct {
	URL            string        `json:"url"`
	Depth          int           `json:"depth"`
	Score          int           `json:"score"`
	PathScore      int           `json:"pathScore"`
	ContentScore   int           `json:"contentScore"`
	ScoreBreakdown []RuleHit     `json:"scoreBreakdown"`
	FetchStatus    ContentSource `json:"fetchStatus"`
	Content        string        `json:"content,omitempty"`
	ContentHash    string        `json:"contentHash,omitempty"`
	BlobURI        string        `json:"blobUri,omitempty"`
	Attempts       []Attempt     `json:"attempts"`
	Error          string        `json:"error,omitempty"`
	ErrorClass     ErrorClass    `json:"errorClass,omitempty"`
	Contacts       []Contact     `json:"contacts,omitempty"`
}

// SiteStats counts what happened while crawling one site.
type SiteStats struct {
	PagesDiscovered     int `json:"pagesDiscovered"`
	PagesVisited        int `json:"pagesVisited"`
	PagesExcluded       int `json:"pagesExcluded"`
	PagesBelowThreshold int `json:"pagesBelowThreshold"`
	PagesSelected       int `json:"pagesSelected"`
	PagesFetched        int `json:"pagesFetched"`
	PagesFailed         int `json:"pagesFailed"`
	FallbackUsed        int `json:"fallbackUsed"`
	FetchAttempts       int `json:"fetchAttempts"`
}

// SiteCrawlResult is the per-site output of the engine.
type SiteCrawlResult struct {
	RunID         string        `json:"runId"`
	SiteID        string        `json:"siteId"`
	Name          string        `json:"name"`
	RootURL       string        `json:"rootUrl"`
	Status        SiteStatus    `json:"status"`
	FailureReason string        `json:"failureReason,omitempty"`
	Pages         []PageOutcome `json:"pages"`
	Stats         SiteStats     `json:"stats"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt"`
}

// QueueItem wraps one site ready to crawl.
type QueueItem struct {
	RunID     string
	Index     int
	Seed      SiteSeed
	Submitted int64
}

// ExtractionRequest is the payload handed to the contact extraction collaborator.
type ExtractionRequest struct {
	PageURL    string `json:"page_url"`
	RawContent string `json:"raw_content"`
}
