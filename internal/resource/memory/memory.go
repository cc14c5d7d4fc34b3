// Package memory is an in-process resource backend. It behaves like a real
// session factory (released handles reject further work) and can simulate the
// defects the harness is built to observe: scopes whose release leaves the
// handle usable, handles whose operations fail, and backend outages.
package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"scopeleak/internal/resource"
)

var (
	errOutage   = errors.New("simulated outage")
	errInjected = errors.New("injected failure")
)

// Factory hands out in-memory scopes. It is safe for concurrent use.
type Factory struct {
	seq         atomic.Int64
	unavailable atomic.Bool
	created     atomic.Int64
	released    atomic.Int64
	leaked      atomic.Int64

	leak      func(seq int) bool
	transient func(seq int) bool
	latency   time.Duration
}

// Option configures a Factory.
type Option func(*Factory)

// WithLeakEvery makes every nth scope leak: its release succeeds but the handle
// stays usable. n <= 0 disables the leak.
func WithLeakEvery(n int) Option {
	return func(f *Factory) {
		if n <= 0 {
			f.leak = nil
			return
		}
		f.leak = func(seq int) bool { return seq%n == 0 }
	}
}

// WithLeakFunc decides per scope sequence number (starting at 1) whether release leaks.
func WithLeakFunc(fn func(seq int) bool) Option {
	return func(f *Factory) {
		f.leak = fn
	}
}

// WithTransient decides per scope sequence number whether the handle's
// operations fail with resource.ErrTransient while it is live.
func WithTransient(fn func(seq int) bool) Option {
	return func(f *Factory) {
		f.transient = fn
	}
}

// WithLatency delays every operation by d, honouring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(f *Factory) {
		f.latency = d
	}
}

// New constructs a Factory.
func New(opts ...Option) *Factory {
	f := &Factory{}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// SetUnavailable simulates the backend going away (or coming back).
func (f *Factory) SetUnavailable(down bool) {
	f.unavailable.Store(down)
}

// Stats counts scopes by what happened to them.
type Stats struct {
	Created  int
	Released int
	Leaked   int
}

// Stats returns the factory's counters.
func (f *Factory) Stats() Stats {
	return Stats{
		Created:  int(f.created.Load()),
		Released: int(f.released.Load()),
		Leaked:   int(f.leaked.Load()),
	}
}

// CreateScope opens a new scope with one live handle.
func (f *Factory) CreateScope(ctx context.Context) (resource.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.unavailable.Load() {
		return nil, resource.Unavailable("create scope", errOutage)
	}

	seq := int(f.seq.Add(1))
	h := &Handle{
		id:      resource.NewID(),
		latency: f.latency,
	}
	if f.transient != nil && f.transient(seq) {
		h.failing.Store(true)
	}
	f.created.Add(1)

	return &Scope{
		factory: f,
		handle:  h,
		leaks:   f.leak != nil && f.leak(seq),
	}, nil
}

// Handle is an in-memory session.
type Handle struct {
	id       string
	latency  time.Duration
	released atomic.Bool
	failing  atomic.Bool
	execs    atomic.Int64
}

func (h *Handle) ID() string { return h.id }

// ExecNoOp succeeds while the handle is live, fails with
// resource.ErrAlreadyReleased after release and with resource.ErrTransient
// when failure injection is on.
func (h *Handle) ExecNoOp(ctx context.Context) error {
	if h.latency > 0 {
		timer := time.NewTimer(h.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return resource.Transient("exec no-op", ctx.Err())
		case <-timer.C:
		}
	}
	if h.released.Load() {
		return resource.Released("exec no-op", nil)
	}
	if h.failing.Load() {
		return resource.Transient("exec no-op", errInjected)
	}
	h.execs.Add(1)
	return nil
}

// SetFailing turns failure injection on or off for this handle.
func (h *Handle) SetFailing(failing bool) {
	h.failing.Store(failing)
}

// Released reports the handle's true state, bypassing the probe.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// Execs counts successful operations.
func (h *Handle) Execs() int {
	return int(h.execs.Load())
}

// Scope owns one Handle.
type Scope struct {
	factory *Factory
	handle  *Handle
	leaks   bool
	done    atomic.Bool
}

func (s *Scope) ID() string { return s.handle.id }

func (s *Scope) Handle() resource.Handle { return s.handle }

// Release invalidates the handle unless the scope was created leaking, in
// which case it reports success and leaves the handle live. A second release
// returns resource.ErrAlreadyReleased.
func (s *Scope) Release(ctx context.Context) error {
	if !s.done.CompareAndSwap(false, true) {
		return resource.Released("release scope", nil)
	}
	if s.leaks {
		s.factory.leaked.Add(1)
		return nil
	}
	s.handle.released.Store(true)
	s.factory.released.Add(1)
	return nil
}
