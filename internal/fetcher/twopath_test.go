package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/policy/budget"
)

type step struct {
	resp crawler.FetchResponse
	err  error
}

// scriptedFetcher replays canned results in order and repeats the last one.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[idx]
	if st.resp.URL == "" && st.err == nil {
		st.resp.URL = req.URL
	}
	return st.resp, st.err
}

func (s *scriptedFetcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type staticDetector bool

func (d staticDetector) ShouldPromote(crawler.FetchResponse) bool { return bool(d) }

func htmlResponse(body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func newTestFetcher(t *testing.T, fast crawler.Fetcher, opts ...Option) *TwoPath {
	t.Helper()
	tp, err := New(Config{RetryCount: 1, Backoff: time.Millisecond, PerAttemptTimeout: time.Second}, fast, opts...)
	require.NoError(t, err)
	return tp
}

func TestFetchPage_FastPathSuccess(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{{resp: htmlResponse("<p>jane@example.org</p>")}}}
	fallback := &scriptedFetcher{steps: []step{{resp: htmlResponse("rendered")}}}
	tp := newTestFetcher(t, fast, WithFallback(fallback, staticDetector(false)))

	res := tp.FetchPage(context.Background(), "https://example.org/staff")
	require.True(t, res.OK())
	require.Equal(t, crawler.SourceFastPath, res.Source)
	require.Len(t, res.Attempts, 1)
	require.Equal(t, crawler.PathFast, res.Attempts[0].Path)
	require.Zero(t, fallback.Calls())
}

func TestFetchPage_RetriesTransientOnce(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{
		{err: &crawler.HTTPStatusError{StatusCode: http.StatusServiceUnavailable}},
		{resp: htmlResponse("ok")},
	}}
	tp := newTestFetcher(t, fast)

	res := tp.FetchPage(context.Background(), "https://example.org/staff")
	require.True(t, res.OK())
	require.Len(t, res.Attempts, 2)
	require.Equal(t, crawler.ErrClassHTTPStatus, res.Attempts[0].Class)
	require.Equal(t, http.StatusServiceUnavailable, res.Attempts[0].StatusCode)
	require.False(t, res.Attempts[1].Failed())
	require.Equal(t, 2, res.Attempts[1].Number)
}

func TestFetchPage_NoMoreThanTwoAttemptsPerPath(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{{err: syscall.ECONNRESET}}}
	fallback := &scriptedFetcher{steps: []step{{resp: htmlResponse("rendered")}}}
	tp := newTestFetcher(t, fast, WithFallback(fallback, staticDetector(true)))

	res := tp.FetchPage(context.Background(), "https://example.org/staff")
	require.False(t, res.OK())
	require.Equal(t, crawler.SourceFailed, res.Source)
	require.Equal(t, crawler.ErrClassConnection, res.ErrClass)
	require.Equal(t, 2, fast.Calls())
	require.Zero(t, fallback.Calls(), "fallback never runs after a fast-path failure")
}

func TestFetchPage_NonTransientFailsImmediately(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{{err: &crawler.HTTPStatusError{StatusCode: http.StatusNotFound}}}}
	tp := newTestFetcher(t, fast)

	res := tp.FetchPage(context.Background(), "https://example.org/missing")
	require.Equal(t, crawler.SourceFailed, res.Source)
	require.Len(t, res.Attempts, 1)
	require.Equal(t, crawler.ErrClassHTTPStatus, res.ErrClass)
	require.Equal(t, 1, fast.Calls())
}

func TestFetchPage_FallbackUsedWhenThin(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{{resp: htmlResponse("<div id=app></div>")}}}
	fallback := &scriptedFetcher{steps: []step{{resp: htmlResponse("<p>jane@example.org</p>")}}}
	tp := newTestFetcher(t, fast, WithFallback(fallback, staticDetector(true)))

	res := tp.FetchPage(context.Background(), "https://example.org/staff")
	require.Equal(t, crawler.SourceFallback, res.Source)
	require.Contains(t, string(res.Content), "jane@example.org")
	require.Len(t, res.Attempts, 2)
	require.Equal(t, crawler.PathFallback, res.Attempts[1].Path)
}

func TestFetchPage_FallbackFailureKeepsFastContent(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{{resp: htmlResponse("<div id=app></div>")}}}
	fallback := &scriptedFetcher{steps: []step{{err: errors.New("chrome crashed")}}}
	tp := newTestFetcher(t, fast, WithFallback(fallback, staticDetector(true)))

	res := tp.FetchPage(context.Background(), "https://example.org/staff")
	require.Equal(t, crawler.SourceFastPath, res.Source)
	require.Equal(t, "<div id=app></div>", string(res.Content))
	require.Len(t, res.Attempts, 2)
	require.Equal(t, crawler.ErrClassRender, res.Attempts[1].Class)
	require.Equal(t, 1, fallback.Calls(), "render errors are not retried")
}

func TestFetchPage_UnrenderableContentType(t *testing.T) {
	t.Parallel()

	pdf := crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/pdf"}},
		Body:       []byte("%PDF"),
	}
	fast := &scriptedFetcher{steps: []step{{resp: pdf}}}
	tp := newTestFetcher(t, fast)

	res := tp.FetchPage(context.Background(), "https://example.org/doc.pdf")
	require.Equal(t, crawler.SourceFailed, res.Source)
	require.Equal(t, crawler.ErrClassContentType, res.ErrClass)
	require.Len(t, res.Attempts, 1)
}

func TestFetchPage_BudgetExhausted(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{{resp: htmlResponse("ok")}}}
	tp := newTestFetcher(t, fast, WithBudget(budget.New(1)))

	first := tp.FetchPage(context.Background(), "https://example.org/a")
	require.True(t, first.OK())

	second := tp.FetchPage(context.Background(), "https://example.org/b")
	require.Equal(t, crawler.SourceFailed, second.Source)
	require.Equal(t, crawler.ErrClassBudget, second.ErrClass)
	require.Equal(t, 1, fast.Calls())
}

func TestFetchPage_SiteDeadline(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{{err: context.DeadlineExceeded}}}
	tp := newTestFetcher(t, fast)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res := tp.FetchPage(ctx, "https://example.org/staff")
	require.Equal(t, crawler.ErrClassSiteDeadline, res.ErrClass)
	require.Len(t, res.Attempts, 1)
}

func TestFetchLinks_ResolvesAgainstFinalURL(t *testing.T) {
	t.Parallel()

	resp := htmlResponse(`<a href="staff">Staff</a><a href="/about#team">Team</a>
		<a href="mailto:x@example.org">mail</a><a href="javascript:void(0)">js</a>
		<a href="https://other.example.com/">ext</a>`)
	resp.URL = "https://example.org/people/"
	fast := &scriptedFetcher{steps: []step{{resp: resp}}}
	tp := newTestFetcher(t, fast)

	links, err := tp.FetchLinks(context.Background(), "https://example.org/people")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.org/people/staff",
		"https://example.org/about#team",
		"https://other.example.com/",
	}, links)
}

func TestFetchLinks_ErrorIsClassified(t *testing.T) {
	t.Parallel()

	fast := &scriptedFetcher{steps: []step{{err: &crawler.HTTPStatusError{StatusCode: http.StatusForbidden}}}}
	tp := newTestFetcher(t, fast)

	_, err := tp.FetchLinks(context.Background(), "https://example.org/")
	require.Error(t, err)
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawler.ErrClassHTTPStatus, fe.Class)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
	_, err = New(Config{RetryCount: -1}, &scriptedFetcher{})
	require.Error(t, err)
}
