package report

import (
	"context"
	"log/slog"
)

// LogSink writes one structured line per round.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Report(ctx context.Context, r Round) error {
	s.logger.InfoContext(ctx, "scope usage",
		"run_id", r.RunID,
		"round", r.Round,
		"usage", r.Usage.String(),
		"total", r.Usage.Total,
		"not_disposed", r.Usage.NotDisposed,
		"released", r.Usage.Released,
		"unknown", r.Usage.Unknown,
		"leak_ratio", r.Usage.LeakRatio(),
		"batch_failed", r.Batch.Failed,
		"batch_release_failures", r.Batch.ReleaseFailures,
	)
	return nil
}
