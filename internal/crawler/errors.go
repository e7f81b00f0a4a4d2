package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass is the coarse category recorded for a failed attempt.
type ErrorClass string

// Error classes recorded on attempts and pages.
const (
	ErrClassTimeout      ErrorClass = "timeout"
	ErrClassDNS          ErrorClass = "dns"
	ErrClassHTTPStatus   ErrorClass = "http_status"
	ErrClassTLS          ErrorClass = "tls"
	ErrClassConnection   ErrorClass = "connection"
	ErrClassRender       ErrorClass = "render"
	ErrClassRobots       ErrorClass = "robots"
	ErrClassContentType  ErrorClass = "content_type"
	ErrClassBudget       ErrorClass = "budget"
	ErrClassCanceled     ErrorClass = "canceled"
	ErrClassSiteDeadline ErrorClass = "site_deadline"
	ErrClassUnknown      ErrorClass = "unknown"
)

var (
	// ErrBudgetExhausted is returned when the process-wide fetch budget is spent.
	ErrBudgetExhausted = errors.New("global fetch budget exhausted")
	// ErrQueueClosed is returned by Dequeue once a closed queue is drained.
	ErrQueueClosed = errors.New("queue closed")
)

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// FetchError carries the classified cause of a failed retrieval.
type FetchError struct {
	URL   string
	Class ErrorClass
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Class, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassOf returns the error class carried by err, falling back to a coarse
// guess from context errors.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Class != "" {
		return fe.Class
	}
	switch {
	case errors.Is(err, ErrBudgetExhausted):
		return ErrClassBudget
	case errors.Is(err, context.Canceled):
		return ErrClassCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrClassTimeout
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return ErrClassHTTPStatus
	}
	return ErrClassUnknown
}
