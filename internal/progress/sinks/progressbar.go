package sinks

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/org-contact-crawler/internal/progress"
)

// BarSink renders a terminal progress bar advanced once per finished site.
// RUN_START carries the number of seeds in Pages and sizes the bar.
type BarSink struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewBarSink writes the bar to out, or stderr when out is nil.
func NewBarSink(out io.Writer) *BarSink {
	if out == nil {
		out = os.Stderr
	}
	return &BarSink{out: out}
}

func (s *BarSink) newBar(total int) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionSetDescription("sites"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("sites"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Consume advances the bar.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.bar = s.newBar(evt.Pages)
		case progress.StageSiteDone, progress.StageSiteError:
			if s.bar == nil {
				s.bar = s.newBar(-1)
			}
			s.bar.Describe(evt.Site)
			if err := s.bar.Add(1); err != nil {
				return err
			}
		case progress.StageRunDone:
			if s.bar != nil {
				if err := s.bar.Finish(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Current returns the number of sites counted so far.
func (s *BarSink) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return 0
	}
	return s.bar.State().CurrentNum
}

// Close finishes the bar if the run never reported RUN_DONE.
func (s *BarSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil || s.bar.IsFinished() {
		return nil
	}
	return s.bar.Finish()
}
