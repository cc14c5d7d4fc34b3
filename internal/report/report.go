// Package report delivers per-round usage records to their destinations:
// the log, Prometheus, Kafka and the on-disk history.
package report

import (
	"context"
	"errors"
	"time"

	"scopeleak/internal/tracker"
)

// Round is what gets reported after a round of the driver loop.
type Round struct {
	RunID      string        `json:"run_id"`
	Round      int           `json:"round"`
	Usage      tracker.Usage `json:"usage"`
	Batch      BatchStats    `json:"batch"`
	ReportedAt time.Time     `json:"reported_at"`
}

// BatchStats summarises the batch that preceded the report.
type BatchStats struct {
	Scopes          int   `json:"scopes"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	ReleaseFailures int   `json:"release_failures"`
	DurationMS      int64 `json:"duration_ms"`
}

// Sink accepts one Round at a time.
type Sink interface {
	Report(ctx context.Context, r Round) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Round) error

func (f SinkFunc) Report(ctx context.Context, r Round) error {
	return f(ctx, r)
}

// Multi reports to every sink in order. A failing sink does not stop the
// others; all failures are joined.
type Multi []Sink

func (m Multi) Report(ctx context.Context, r Round) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
