// Package tracker records every resource handle the harness creates and
// counts how many of them are still usable.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scopeleak/internal/resource"
)

var tracer = otel.Tracer("scopeleak/internal/tracker")

// Tracker pairs the registry with the probe and remembers the last snapshot.
type Tracker struct {
	registry *Registry
	probe    *Probe
	logger   *slog.Logger
	clock    func() time.Time
	last     atomic.Pointer[Usage]
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used to stamp snapshots.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// New builds a Tracker around an explicitly owned registry and probe.
func New(registry *Registry, probe *Probe, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		registry: registry,
		probe:    probe,
		logger:   logger,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Track records h. Called once per handle, right after its scope is created.
func (t *Tracker) Track(h resource.Handle) {
	t.registry.Add(h)
}

// Registry exposes the underlying registry.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Usage probes every registered handle, one after another, and returns the
// counts. Probe failures are counted as Unknown and joined into the returned
// error; the Usage is valid either way.
func (t *Tracker) Usage(ctx context.Context) (Usage, error) {
	handles := t.registry.Snapshot()
	ctx, span := tracer.Start(ctx, "tracker.usage",
		trace.WithAttributes(attribute.Int("registry.len", len(handles))))
	defer span.End()

	usage := Usage{}
	var errs []error
	for _, h := range handles {
		l := t.probe.Check(ctx, h)
		usage.add(l)
		if l.State == StateFailed {
			t.logger.DebugContext(ctx, "probe failed", "handle_id", h.ID(), "error", l.Err)
			errs = append(errs, l.Err)
		}
	}
	usage.TakenAt = t.clock()
	t.last.Store(&usage)

	span.SetAttributes(
		attribute.Int("usage.total", usage.Total),
		attribute.Int("usage.not_disposed", usage.NotDisposed),
		attribute.Int("usage.unknown", usage.Unknown),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, "probe failures")
	}
	return usage, err
}

// Last returns the most recent snapshot taken by Usage.
func (t *Tracker) Last() (Usage, bool) {
	u := t.last.Load()
	if u == nil {
		return Usage{}, false
	}
	return *u, true
}
