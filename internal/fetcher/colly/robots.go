package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsTransport keeps a flaky robots.txt from failing a whole site. Probes
// that time out are retried once per backoff step and then read as allow-all.
// A 5xx answer also reads as allow-all; the robots parser would otherwise
// treat it as disallow-all and every page of the site would be skipped.
type robotsTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

func newRobotsTransport(base http.RoundTripper) *robotsTransport {
	return &robotsTransport{base: base, backoff: []time.Duration{250 * time.Millisecond}}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("collyfetcher: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("collyfetcher: %w", err)
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil && resp.StatusCode >= http.StatusInternalServerError:
			_ = resp.Body.Close()
			return allowAll(req), nil
		case err == nil:
			return resp, nil
		case !transient(err):
			return nil, fmt.Errorf("robots.txt: %w", err)
		case attempt >= len(t.backoff):
			return allowAll(req), nil
		}

		timer := time.NewTimer(t.backoff[attempt])
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, fmt.Errorf("robots.txt: %w", req.Context().Err())
		case <-timer.C:
		}
	}
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

// transient reports timeouts, including a stalled TLS handshake.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
