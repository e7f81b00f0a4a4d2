package fetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
)

const (
	defaultBackoff    = 250 * time.Millisecond
	defaultPerAttempt = 15 * time.Second
)

// Budget hands out process-wide fetch units.
type Budget interface {
	Acquire() error
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config tunes retry and timeout behaviour.
type Config struct {
	// RetryCount is the number of retries allowed per path after the first try.
	RetryCount        int
	Backoff           time.Duration
	PerAttemptTimeout time.Duration
}

// TwoPath retrieves pages with a static fast path and a rendering fallback.
type TwoPath struct {
	cfg      Config
	fast     crawler.Fetcher
	fallback crawler.Fetcher
	detector crawler.HeadlessDetector
	budget   Budget
	limiter  Limiter
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

var _ crawler.PageFetcher = (*TwoPath)(nil)

// Option customizes a TwoPath.
type Option func(*TwoPath)

// WithFallback installs the rendering path and the detector deciding when to use it.
func WithFallback(fallback crawler.Fetcher, detector crawler.HeadlessDetector) Option {
	return func(t *TwoPath) {
		t.fallback = fallback
		t.detector = detector
	}
}

// WithBudget makes every attempt draw a unit from the shared budget.
func WithBudget(b Budget) Option {
	return func(t *TwoPath) { t.budget = b }
}

// WithLimiter paces every attempt through the per-host limiter.
func WithLimiter(l Limiter) Option {
	return func(t *TwoPath) { t.limiter = l }
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(t *TwoPath) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New builds a TwoPath around the fast-path fetcher.
func New(cfg Config, fast crawler.Fetcher, opts ...Option) (*TwoPath, error) {
	if fast == nil {
		return nil, errors.New("fetcher: fast path is required")
	}
	if cfg.RetryCount < 0 {
		return nil, fmt.Errorf("fetcher: retry count must be >= 0, got %d", cfg.RetryCount)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.PerAttemptTimeout <= 0 {
		cfg.PerAttemptTimeout = defaultPerAttempt
	}
	t := &TwoPath{
		cfg:    cfg,
		fast:   fast,
		logger: zap.NewNop(),
		sleep:  sleepWithContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// FetchPage retrieves one selected page. The fast path runs first; the
// fallback runs only when the fast path succeeded and the detector finds the
// content thin. A failed fallback keeps the fast-path content.
func (t *TwoPath) FetchPage(ctx context.Context, url string) crawler.FetchResult {
	result := crawler.FetchResult{URL: url}

	resp, attempts, err := t.runPath(ctx, crawler.PathFast, t.fast, url)
	result.Attempts = append(result.Attempts, attempts...)
	if err != nil {
		result.Source = crawler.SourceFailed
		result.Err = err
		result.ErrClass = crawler.ClassOf(err)
		return result
	}
	fill(&result, resp, crawler.SourceFastPath)

	if t.fallback == nil || t.detector == nil || !t.detector.ShouldPromote(resp) {
		return result
	}

	metrics.ObserveFallback()
	t.logger.Debug("promoting to fallback path", zap.String("url", url))
	rendered, fallbackAttempts, err := t.runPath(ctx, crawler.PathFallback, t.fallback, url)
	result.Attempts = append(result.Attempts, fallbackAttempts...)
	if err != nil {
		t.logger.Info("fallback path failed, keeping fast-path content",
			zap.String("url", url),
			zap.String("class", string(crawler.ClassOf(err))),
			zap.Error(err),
		)
		return result
	}
	fill(&result, rendered, crawler.SourceFallback)
	return result
}

// FetchLinks retrieves a page on the fast path and returns its outbound links.
func (t *TwoPath) FetchLinks(ctx context.Context, url string) ([]string, error) {
	resp, _, err := t.runPath(ctx, crawler.PathFast, t.fast, url)
	if err != nil {
		return nil, err
	}
	base := resp.URL
	if base == "" {
		base = url
	}
	return ExtractLinks(base, resp.Body), nil
}

func fill(result *crawler.FetchResult, resp crawler.FetchResponse, source crawler.ContentSource) {
	result.Source = source
	result.Content = resp.Body
	result.StatusCode = resp.StatusCode
	result.FinalURL = resp.URL
	if result.FinalURL == "" {
		result.FinalURL = result.URL
	}
	result.ContentType = resp.Headers.Get("Content-Type")
}

// runPath makes up to RetryCount+1 attempts on one path. The returned attempts
// slice is freshly allocated and never mutated afterwards.
func (t *TwoPath) runPath(
	ctx context.Context,
	path crawler.FetchPath,
	f crawler.Fetcher,
	url string,
) (crawler.FetchResponse, []crawler.Attempt, error) {
	maxAttempts := t.cfg.RetryCount + 1
	attempts := make([]crawler.Attempt, 0, maxAttempts)
	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			if err := t.sleep(ctx, t.cfg.Backoff); err != nil {
				break
			}
		}
		start := time.Now()
		resp, err := t.attempt(ctx, path, f, url)
		elapsed := time.Since(start)

		record := crawler.Attempt{
			Path:       path,
			Number:     n,
			StatusCode: resp.StatusCode,
			DurationMs: elapsed.Milliseconds(),
		}
		if err == nil {
			attempts = append(attempts, record)
			metrics.ObserveFetchAttempt(string(path), "", elapsed)
			return resp, attempts, nil
		}

		class := t.classify(ctx, path, err)
		var statusErr *crawler.HTTPStatusError
		if errors.As(err, &statusErr) {
			record.StatusCode = statusErr.StatusCode
		}
		record.Error = err.Error()
		record.Class = class
		attempts = append(attempts, record)
		metrics.ObserveFetchAttempt(string(path), string(class), elapsed)
		lastErr = &crawler.FetchError{URL: url, Class: class, Err: err}

		t.logger.Debug("fetch attempt failed",
			zap.String("url", url),
			zap.String("path", string(path)),
			zap.Int("attempt", n),
			zap.String("class", string(class)),
			zap.Error(err),
		)
		if ctx.Err() != nil || !Retryable(class, err) {
			break
		}
	}
	if lastErr == nil {
		lastErr = &crawler.FetchError{URL: url, Class: t.classify(ctx, path, ctx.Err()), Err: ctx.Err()}
	}
	return crawler.FetchResponse{}, attempts, lastErr
}

func (t *TwoPath) attempt(
	ctx context.Context,
	path crawler.FetchPath,
	f crawler.Fetcher,
	url string,
) (crawler.FetchResponse, error) {
	if t.budget != nil {
		if err := t.budget.Acquire(); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, url); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.PerAttemptTimeout)
	defer cancel()

	resp, err := f.Fetch(attemptCtx, crawler.FetchRequest{URL: url})
	if err != nil {
		return resp, err
	}
	if path == crawler.PathFast && !renderable(resp.Headers.Get("Content-Type")) {
		return resp, fmt.Errorf("%w: %s", ErrUnrenderable, resp.Headers.Get("Content-Type"))
	}
	return resp, nil
}

// classify distinguishes an expired site deadline or caller cancellation from
// an attempt's own timeout.
func (t *TwoPath) classify(ctx context.Context, path crawler.FetchPath, err error) crawler.ErrorClass {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return crawler.ErrClassSiteDeadline
	case errors.Is(ctx.Err(), context.Canceled):
		return crawler.ErrClassCanceled
	}
	return Classify(path, err)
}

func renderable(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml", "text/plain":
		return true
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
