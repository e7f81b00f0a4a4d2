package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path crawler.FetchPath
		err  error
		want crawler.ErrorClass
	}{
		{"nil", crawler.PathFast, nil, ""},
		{"budget", crawler.PathFast, crawler.ErrBudgetExhausted, crawler.ErrClassBudget},
		{"robots", crawler.PathFast, colly.ErrRobotsTxtBlocked, crawler.ErrClassRobots},
		{"status", crawler.PathFast, &crawler.HTTPStatusError{StatusCode: 500}, crawler.ErrClassHTTPStatus},
		{"deadline", crawler.PathFast, fmt.Errorf("get: %w", context.DeadlineExceeded), crawler.ErrClassTimeout},
		{"dns", crawler.PathFast, &net.DNSError{Err: "no such host", Name: "x.invalid"}, crawler.ErrClassDNS},
		{"reset", crawler.PathFast, syscall.ECONNRESET, crawler.ErrClassConnection},
		{"content type", crawler.PathFast, fmt.Errorf("%w: image/png", ErrUnrenderable), crawler.ErrClassContentType},
		{"chrome dns", crawler.PathFallback, errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), crawler.ErrClassDNS},
		{"chrome cert", crawler.PathFallback, errors.New("net::ERR_CERT_AUTHORITY_INVALID"), crawler.ErrClassTLS},
		{"render", crawler.PathFallback, errors.New("websocket closed"), crawler.ErrClassRender},
		{"unknown", crawler.PathFast, errors.New("mystery"), crawler.ErrClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Classify(tc.path, tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	require.True(t, Retryable(crawler.ErrClassTimeout, context.DeadlineExceeded))
	require.True(t, Retryable(crawler.ErrClassConnection, syscall.ECONNRESET))
	require.False(t, Retryable(crawler.ErrClassConnection, syscall.ECONNREFUSED))
	require.True(t, Retryable(crawler.ErrClassHTTPStatus, &crawler.HTTPStatusError{StatusCode: http.StatusBadGateway}))
	require.True(t, Retryable(crawler.ErrClassHTTPStatus, &crawler.HTTPStatusError{StatusCode: http.StatusTooManyRequests}))
	require.False(t, Retryable(crawler.ErrClassHTTPStatus, &crawler.HTTPStatusError{StatusCode: http.StatusNotFound}))
	require.False(t, Retryable(crawler.ErrClassDNS, &net.DNSError{}))
	require.False(t, Retryable(crawler.ErrClassRender, errors.New("boom")))
}

func TestRenderable(t *testing.T) {
	t.Parallel()

	require.True(t, renderable(""))
	require.True(t, renderable("text/html; charset=utf-8"))
	require.True(t, renderable("application/xhtml+xml"))
	require.True(t, renderable("text/plain"))
	require.False(t, renderable("application/pdf"))
	require.False(t, renderable("image/png"))
}
