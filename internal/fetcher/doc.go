// Package fetcher combines the static fast path and the rendering fallback
// into one bounded-retry retrieval layer.
//
// Each path gets at most one retry after a fixed backoff, and only for
// transient failures. Every try is recorded as an immutable crawler.Attempt.
// The fallback runs only when the fast path succeeded but its content shows
// no contact signal.
package fetcher
