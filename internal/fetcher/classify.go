package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

// ErrUnrenderable is returned when a response is not a text document.
var ErrUnrenderable = errors.New("unrenderable content type")

// Classify maps an attempt error to its error class. Unknown failures on the
// rendering path are reported as render errors.
func Classify(path crawler.FetchPath, err error) crawler.ErrorClass {
	if err == nil {
		return ""
	}
	var (
		statusErr *crawler.HTTPStatusError
		dnsErr    *net.DNSError
		certErr   *tls.CertificateVerificationError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		invalid   x509.CertificateInvalidError
		recordErr tls.RecordHeaderError
		netErr    net.Error
	)
	switch {
	case errors.Is(err, crawler.ErrBudgetExhausted):
		return crawler.ErrClassBudget
	case errors.Is(err, ErrUnrenderable):
		return crawler.ErrClassContentType
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return crawler.ErrClassRobots
	case errors.As(err, &statusErr):
		return crawler.ErrClassHTTPStatus
	case errors.Is(err, context.Canceled):
		return crawler.ErrClassCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return crawler.ErrClassTimeout
	case errors.As(err, &dnsErr):
		return crawler.ErrClassDNS
	case errors.As(err, &certErr), errors.As(err, &unknownCA), errors.As(err, &hostErr),
		errors.As(err, &invalid), errors.As(err, &recordErr):
		return crawler.ErrClassTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return crawler.ErrClassTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return crawler.ErrClassConnection
	}
	return classifyMessage(path, strings.ToLower(err.Error()))
}

func classifyMessage(path crawler.FetchPath, msg string) crawler.ErrorClass {
	switch {
	case strings.Contains(msg, "net::err_name_not_resolved"), strings.Contains(msg, "no such host"):
		return crawler.ErrClassDNS
	case strings.Contains(msg, "net::err_cert"), strings.Contains(msg, "net::err_ssl"),
		strings.Contains(msg, "x509:"), strings.Contains(msg, "tls:"):
		return crawler.ErrClassTLS
	case strings.Contains(msg, "net::err_timed_out"), strings.Contains(msg, "timeout"):
		return crawler.ErrClassTimeout
	case strings.Contains(msg, "net::err_connection"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"), strings.Contains(msg, "broken pipe"):
		return crawler.ErrClassConnection
	}
	if path == crawler.PathFallback {
		return crawler.ErrClassRender
	}
	return crawler.ErrClassUnknown
}

// Retryable reports whether a failed attempt of the given class may be retried.
// Timeouts, connection resets and 5xx/429 responses are transient; everything
// else fails immediately.
func Retryable(class crawler.ErrorClass, err error) bool {
	switch class {
	case crawler.ErrClassTimeout:
		return true
	case crawler.ErrClassConnection:
		return !errors.Is(err, syscall.ECONNREFUSED) &&
			!strings.Contains(strings.ToLower(err.Error()), "connection refused")
	case crawler.ErrClassHTTPStatus:
		var statusErr *crawler.HTTPStatusError
		if !errors.As(err, &statusErr) {
			return false
		}
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
