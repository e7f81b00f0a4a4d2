// Package pipeline runs a full harvest: seeds in, one crawl per site through
// the worker pool, then content storage, extraction, persistence and a JSON
// run report.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/org-contact-crawler/internal/clock/system"
	"github.com/JakeFAU/org-contact-crawler/internal/coordinator"
	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/discovery"
	"github.com/JakeFAU/org-contact-crawler/internal/dispatcher"
	"github.com/JakeFAU/org-contact-crawler/internal/hash/sha256"
	"github.com/JakeFAU/org-contact-crawler/internal/id/uuid"
	"github.com/JakeFAU/org-contact-crawler/internal/progress"
	queueMemory "github.com/JakeFAU/org-contact-crawler/internal/queue/memory"
	"github.com/JakeFAU/org-contact-crawler/internal/worker"
)

// Config sizes the run and chooses what is written.
type Config struct {
	Workers    int
	QueueDepth int
	// MaxSites truncates the seed list; 0 keeps all.
	MaxSites     int
	ReportPrefix string
	// StoreContent writes each fetched page to the blob store.
	StoreContent bool
	// InlineContent keeps page content in the report and result stores.
	InlineContent bool
	// Topic receives one message per finished site when a publisher is set.
	Topic string
}

// Pipeline owns the collaborators for a run. It is reusable across runs.
type Pipeline struct {
	cfg       Config
	source    discovery.Source
	crawler   worker.SiteCrawler
	blobs     crawler.BlobStore
	extractor crawler.ContactExtractor
	stores    []crawler.ResultStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	progress  progress.Emitter
	logger    *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithExtractor sends every fetched page to e.
func WithExtractor(e crawler.ContactExtractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithResultStore adds a store that receives every finished site.
func WithResultStore(s crawler.ResultStore) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.stores = append(p.stores, s)
		}
	}
}

// WithPublisher announces finished sites on cfg.Topic.
func WithPublisher(pub crawler.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithProgress emits RUN_START and RUN_DONE to e.
func WithProgress(e progress.Emitter) Option {
	return func(p *Pipeline) { p.progress = e }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(p *Pipeline) {
		if g != nil {
			p.ids = g
		}
	}
}

// WithClock overrides the clock.
func WithClock(c crawler.Clock) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a Pipeline. blobs receives page content and the run report.
func New(cfg Config, source discovery.Source, siteCrawler worker.SiteCrawler, blobs crawler.BlobStore, opts ...Option) (*Pipeline, error) {
	if siteCrawler == nil {
		return nil, errors.New("pipeline: site crawler is required")
	}
	if blobs == nil {
		return nil, errors.New("pipeline: blob store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers
	}
	if cfg.ReportPrefix == "" {
		cfg.ReportPrefix = "reports"
	}
	p := &Pipeline{
		cfg:     cfg,
		source:  source,
		crawler: siteCrawler,
		blobs:   blobs,
		hasher:  sha256.New(),
		ids:     uuid.New(),
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")
	return p, nil
}

// Run pulls seeds from the source and crawls them.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	if p.source == nil {
		return Report{}, errors.New("pipeline: no seed source configured")
	}
	seeds, err := p.source.Seeds(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: load seeds: %w", err)
	}
	if p.cfg.MaxSites > 0 && len(seeds) > p.cfg.MaxSites {
		seeds = seeds[:p.cfg.MaxSites]
	}
	runID, err := p.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: %w", err)
	}
	return p.RunSeeds(ctx, runID, seeds)
}

// RunSeeds crawls seeds under runID. Results keep seed order. A canceled run
// still writes a report; unprocessed sites are recorded as failed and the
// context error is returned alongside the report.
func (p *Pipeline) RunSeeds(ctx context.Context, runID string, seeds []crawler.SiteSeed) (Report, error) {
	logger := p.logger.With(zap.String("run_id", runID))
	report := Report{RunID: runID, StartedAt: p.clock.Now()}
	p.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, Pages: len(seeds)})
	logger.Info("run started", zap.Int("sites", len(seeds)), zap.Int("workers", p.cfg.Workers))

	results := make([]crawler.SiteCrawlResult, len(seeds))
	handled := make([]bool, len(seeds))
	var extractionFailures atomic.Int64

	handler := worker.HandlerFunc(func(ctx context.Context, item crawler.QueueItem, result crawler.SiteCrawlResult) {
		extractionFailures.Add(int64(p.handleSite(ctx, &result, logger)))
		results[item.Index] = result
		handled[item.Index] = true
	})

	queue := queueMemory.NewQueue(p.cfg.QueueDepth)
	runners := make([]dispatcher.Runner, p.cfg.Workers)
	for i := range runners {
		runners[i] = worker.New(i, queue, p.crawler, handler, p.clock, logger)
	}
	d := dispatcher.New(queue, runners)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	for i, seed := range seeds {
		item := crawler.QueueItem{RunID: runID, Index: i, Seed: seed, Submitted: p.clock.Now().Unix()}
		if err := d.Enqueue(ctx, item); err != nil {
			logger.Warn("stopped enqueuing sites", zap.Int("enqueued", i), zap.Error(err))
			break
		}
	}
	queue.Close()
	<-done

	for i, ok := range handled {
		if !ok {
			results[i] = p.unprocessed(runID, seeds[i], ctx.Err())
		}
	}

	report.FinishedAt = p.clock.Now()
	report.Sites = results
	report.Summary = Summarize(results)
	report.Summary.ExtractionFailures = int(extractionFailures.Load())

	// The report is written even when ctx is canceled so partial runs are kept.
	uri, err := p.writeReport(context.WithoutCancel(ctx), report)
	if err != nil {
		logger.Error("write report failed", zap.Error(err))
	} else {
		report.URI = uri
	}

	p.emit(progress.Event{
		RunID: runID,
		Stage: progress.StageRunDone,
		Pages: len(seeds),
		Dur:   report.FinishedAt.Sub(report.StartedAt),
	})
	logger.Info("run finished",
		zap.Int("ok", report.Summary.SitesOK),
		zap.Int("empty", report.Summary.SitesEmpty),
		zap.Int("failed", report.Summary.SitesFailed),
		zap.Int("contacts", report.Summary.Contacts),
		zap.String("report", report.URI),
	)

	if err != nil {
		return report, fmt.Errorf("pipeline: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, ctxErr
	}
	return report, nil
}

// handleSite finishes one site: content blobs, contact extraction,
// persistence and notification. Failures are logged and never fail the site.
// It returns the number of extraction failures.
func (p *Pipeline) handleSite(ctx context.Context, result *crawler.SiteCrawlResult, logger *zap.Logger) int {
	logger = logger.With(zap.String("site_id", result.SiteID))
	failures := 0
	for i := range result.Pages {
		page := &result.Pages[i]
		if page.FetchStatus == crawler.SourceFailed {
			continue
		}
		content := []byte(page.Content)
		if digest, err := p.hasher.Hash(content); err == nil {
			page.ContentHash = digest
		}
		if p.cfg.StoreContent && page.ContentHash != "" {
			key := sha256.ObjectPath(result.RunID, result.SiteID, page.ContentHash, ".html")
			uri, err := p.blobs.PutObject(ctx, key, "text/html; charset=utf-8", bytes.NewReader(content))
			if err != nil {
				logger.Warn("store page content failed", zap.String("url", page.URL), zap.Error(err))
			} else {
				page.BlobURI = uri
			}
		}
		if p.extractor != nil {
			contacts, err := p.extractor.Extract(ctx, crawler.ExtractionRequest{PageURL: page.URL, RawContent: page.Content})
			if err != nil {
				failures++
				logger.Warn("contact extraction failed", zap.String("url", page.URL), zap.Error(err))
			} else {
				page.Contacts = contacts
			}
		}
		if !p.cfg.InlineContent {
			page.Content = ""
		}
	}

	for _, store := range p.stores {
		if err := store.SaveSite(ctx, *result); err != nil {
			logger.Warn("save site failed", zap.Error(err))
		}
	}
	if p.publisher != nil {
		if _, err := p.publisher.Publish(ctx, p.cfg.Topic, NewSiteNotice(*result)); err != nil {
			logger.Warn("publish site notice failed", zap.Error(err))
		}
	}
	return failures
}

func (p *Pipeline) unprocessed(runID string, seed crawler.SiteSeed, cause error) crawler.SiteCrawlResult {
	now := p.clock.Now()
	reason := coordinator.ReasonCanceled
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = coordinator.ReasonCanceled + ":" + string(crawler.ErrClassSiteDeadline)
	}
	return crawler.SiteCrawlResult{
		RunID:         runID,
		SiteID:        seed.SiteID,
		Name:          seed.Name,
		RootURL:       seed.RootURL,
		Status:        crawler.SiteStatusFailed,
		FailureReason: reason,
		Pages:         []crawler.PageOutcome{},
		StartedAt:     now,
		FinishedAt:    now,
	}
}

func (p *Pipeline) writeReport(ctx context.Context, report Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	key := path.Join(strings.Trim(p.cfg.ReportPrefix, "/"), report.RunID+".json")
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	uri, err := p.blobs.PutObject(ctx, key, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return uri, nil
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.progress == nil {
		return
	}
	evt.TS = p.clock.Now()
	p.progress.Emit(evt)
}
