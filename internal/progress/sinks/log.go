package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/org-contact-crawler/internal/progress"
)

// LogSink writes every event as a structured log line. Fetch completions are
// logged at debug level; run and site milestones at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Site != "" {
			fields = append(fields, zap.String("site_id", evt.SiteID), zap.String("site", evt.Site))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		fields = append(fields, zap.Int("pages", evt.Pages), zap.Duration("dur", evt.Dur))

		if evt.Stage == progress.StageFetchDone {
			fields = append(fields,
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Int("attempts", evt.Attempts),
			)
			s.logger.Debug("progress", fields...)
			continue
		}
		if evt.Stage == progress.StageSiteError {
			s.logger.Warn("progress", fields...)
			continue
		}
		s.logger.Info("progress", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
