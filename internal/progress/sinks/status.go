package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/progress"
)

// RunStatus is the live view of one run built from its progress events.
type RunStatus struct {
	RunID        string    `json:"runId"`
	StartedAt    time.Time `json:"startedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Sites        int       `json:"sites"`
	SitesRunning int       `json:"sitesRunning"`
	SitesOK      int       `json:"sitesOk"`
	SitesEmpty   int       `json:"sitesEmpty"`
	SitesFailed  int       `json:"sitesFailed"`
	PagesFetched int       `json:"pagesFetched"`
	PagesFailed  int       `json:"pagesFailed"`
	Done         bool      `json:"done"`
}

// StatusSink aggregates events per run for the ops server.
type StatusSink struct {
	mu   sync.RWMutex
	runs map[string]*RunStatus
	// keep bounds how many finished runs are retained.
	keep int
}

// NewStatusSink retains at most keep runs (minimum 1).
func NewStatusSink(keep int) *StatusSink {
	if keep < 1 {
		keep = 1
	}
	return &StatusSink{runs: make(map[string]*RunStatus), keep: keep}
}

// Consume folds the batch into the per-run counters.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		run, ok := s.runs[evt.RunID]
		if !ok {
			run = &RunStatus{RunID: evt.RunID, StartedAt: evt.TS}
			s.runs[evt.RunID] = run
		}
		run.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StageRunStart:
			run.StartedAt = evt.TS
			run.Sites = evt.Pages
		case progress.StageSiteStart:
			run.SitesRunning++
		case progress.StageFetchDone:
			if evt.Source == string(crawler.SourceFailed) {
				run.PagesFailed++
			} else {
				run.PagesFetched++
			}
		case progress.StageSiteDone:
			run.SitesRunning--
			if evt.Source == string(crawler.SiteStatusEmpty) {
				run.SitesEmpty++
			} else {
				run.SitesOK++
			}
		case progress.StageSiteError:
			run.SitesRunning--
			run.SitesFailed++
		case progress.StageRunDone:
			run.Done = true
			run.SitesRunning = 0
		}
	}
	s.evict()
	return nil
}

func (s *StatusSink) evict() {
	for len(s.runs) > s.keep {
		var oldest *RunStatus
		for _, r := range s.runs {
			if r.Done && (oldest == nil || r.StartedAt.Before(oldest.StartedAt)) {
				oldest = r
			}
		}
		if oldest == nil {
			return
		}
		delete(s.runs, oldest.RunID)
	}
}

// Snapshot returns every retained run, newest first.
func (s *StatusSink) Snapshot() []RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunStatus, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Run returns one run's status.
func (s *StatusSink) Run(runID string) (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return RunStatus{}, false
	}
	return *r, true
}

// Close is a no-op; snapshots stay readable after the hub shuts down.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
