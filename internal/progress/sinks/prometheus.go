package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/org-contact-crawler/internal/progress"
)

// PrometheusSink derives run and site gauges from the progress stream.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	sitesStarted  prometheus.Counter
	sitesFinished *prometheus.CounterVec
	sitesRunning  prometheus.Gauge
	siteRuntime   *prometheus.HistogramVec

	pagesFetched *prometheus.CounterVec
	pageBytes    prometheus.Counter
	pageDuration *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the sink's collectors with reg, or with the
// default registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_progress_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		sitesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_progress_sites_started_total",
			Help: "Site crawls started.",
		}),
		sitesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_sites_finished_total",
			Help: "Site crawls finished partitioned by status.",
		}, []string{"status"}),
		sitesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_progress_sites_running",
			Help: "Site crawls currently in flight.",
		}),
		siteRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_progress_site_runtime_seconds",
			Help:    "Wall time per site crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_pages_total",
			Help: "Selected page fetches partitioned by content source and status class.",
		}, []string{"source", "status_class"}),
		pageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_progress_page_bytes_total",
			Help: "Bytes of harvested page content.",
		}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_progress_page_duration_seconds",
			Help:    "End-to-end page fetch time including retries and fallback.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source"}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted, s.sitesStarted, s.sitesFinished, s.sitesRunning,
		s.siteRuntime, s.pagesFetched, s.pageBytes, s.pageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
		case progress.StageSiteStart:
			s.sitesStarted.Inc()
			if s.track(evt, true) {
				s.sitesRunning.Inc()
			}
		case progress.StageSiteDone, progress.StageSiteError:
			status := evt.Source
			if evt.Stage == progress.StageSiteError || status == "" {
				status = "failed"
			}
			s.sitesFinished.WithLabelValues(status).Inc()
			if evt.Dur > 0 {
				s.siteRuntime.WithLabelValues(status).Observe(evt.Dur.Seconds())
			}
			if s.track(evt, false) {
				s.sitesRunning.Dec()
			}
		case progress.StageFetchDone:
			source := evt.Source
			if source == "" {
				source = "unknown"
			}
			s.pagesFetched.WithLabelValues(source, string(evt.StatusClass)).Inc()
			if evt.Bytes > 0 {
				s.pageBytes.Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.pageDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// track records a site as running (start) or finished and reports whether
// the running set changed, so duplicate events never skew the gauge.
func (s *PrometheusSink) track(evt progress.Event, start bool) bool {
	key := evt.RunID + "/" + evt.SiteID + "/" + evt.Site
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[key]
	if start {
		if ok {
			return false
		}
		s.running[key] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, key)
	return true
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
