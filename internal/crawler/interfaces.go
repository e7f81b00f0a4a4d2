package crawler

import (
	"context"
	"io"
	"time"
)

// Fetching.

// Fetcher makes one attempt at one URL on one path (static or rendered).
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector reports whether a successful static response is too thin
// to extract contacts from and should be rendered instead.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// PageFetcher is what a site crawl needs: links for frontier expansion and
// content for the selected pages, with retries and fallback already applied.
type PageFetcher interface {
	FetchLinks(ctx context.Context, url string) ([]string, error)
	FetchPage(ctx context.Context, url string) FetchResult
}

// Run plumbing.

// Queue hands site crawls to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// ContactExtractor turns one page's content into contact records.
type ContactExtractor interface {
	Extract(ctx context.Context, request ExtractionRequest) ([]Contact, error)
}

// Outputs.

// BlobStore writes page bodies and run reports and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ResultStore persists one finished site, replacing any earlier copy of the
// same run and site.
type ResultStore interface {
	SaveSite(ctx context.Context, result SiteCrawlResult) error
}

// Publisher announces a finished site on a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Utilities.

// Hasher returns the hex digest of page content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}
