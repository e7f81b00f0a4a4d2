// Package progress carries crawl milestones from workers to pluggable sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageSiteStart Stage = "SITE_START"
	StageFetchDone Stage = "FETCH_DONE"
	StageSiteDone  Stage = "SITE_DONE"
	StageSiteError Stage = "SITE_ERROR"
	StageRunDone   Stage = "RUN_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes tracked on fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress milestone.
type Event struct {
	RunID string
	TS    time.Time
	Stage Stage
	// SiteID and Site scope site and fetch events; Site is a host label.
	SiteID string
	Site   string
	URL    string
	// Source is the content source of a FETCH_DONE page or the status of a SITE_DONE.
	Source      string
	StatusClass StatusClass
	Bytes       int64
	Attempts    int
	// Pages counts selected pages on SITE_DONE and sites on RUN_DONE.
	Pages int
	Dur   time.Duration
	// Note holds low-volume context such as an error class.
	Note string
}

// Validate rejects events that sinks could not attribute.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageSiteStart, StageSiteDone, StageSiteError:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	case StageFetchDone:
		if e.Site == "" || e.URL == "" {
			return errors.New("fetch done requires site and url")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// Emitter accepts events without blocking. *Hub implements it.
type Emitter interface {
	Emit(evt Event)
}
