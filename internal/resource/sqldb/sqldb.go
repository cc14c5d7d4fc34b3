// Package sqldb backs scopes with dedicated connections checked out of a
// database/sql pool. A scope is the Go analogue of a scoped ORM context: it
// owns one session for its lifetime and hands it back on release.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"scopeleak/internal/resource"
)

const noOpQuery = "SELECT 1"

// DefaultCheckoutTimeout bounds how long CreateScope waits for a pooled connection.
const DefaultCheckoutTimeout = 15 * time.Second

// Factory opens scopes on a shared *sql.DB.
type Factory struct {
	db              *sql.DB
	leakEvery       int
	checkoutTimeout time.Duration
	seq             atomic.Int64
}

// Option configures a Factory.
type Option func(*Factory)

// WithLeakEvery skips closing the connection of every nth scope, reproducing
// the defect: release reports success while the session stays checked out.
func WithLeakEvery(n int) Option {
	return func(f *Factory) {
		f.leakEvery = n
	}
}

// WithCheckoutTimeout bounds the wait for a free connection. Leaked scopes keep
// their connections, so a capped pool eventually runs dry and the wait would
// otherwise never end. d <= 0 keeps the default.
func WithCheckoutTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.checkoutTimeout = d
		}
	}
}

// New constructs a Factory. The caller owns db.
func New(db *sql.DB, opts ...Option) *Factory {
	f := &Factory{db: db, checkoutTimeout: DefaultCheckoutTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// CreateScope checks out a dedicated connection. Failing to get one within the
// checkout timeout, including an exhausted pool, means the backend is unusable.
func (f *Factory) CreateScope(ctx context.Context) (resource.Scope, error) {
	checkoutCtx, cancel := context.WithTimeout(ctx, f.checkoutTimeout)
	defer cancel()
	conn, err := f.db.Conn(checkoutCtx)
	if err != nil {
		return nil, resource.Unavailable("checkout connection", err)
	}
	seq := int(f.seq.Add(1))
	return &Scope{
		handle: &Handle{id: resource.NewID(), conn: conn},
		leaks:  f.leakEvery > 0 && seq%f.leakEvery == 0,
	}, nil
}

// Handle is one checked-out connection.
type Handle struct {
	id   string
	conn *sql.Conn
}

func (h *Handle) ID() string { return h.id }

// ExecNoOp runs SELECT 1 on the connection. database/sql reports a closed
// connection as sql.ErrConnDone, which maps to resource.ErrAlreadyReleased.
func (h *Handle) ExecNoOp(ctx context.Context) error {
	_, err := h.conn.ExecContext(ctx, noOpQuery)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrConnDone):
		return resource.Released("exec no-op", err)
	default:
		return resource.Transient("exec no-op", err)
	}
}

// Scope owns one Handle.
type Scope struct {
	handle *Handle
	leaks  bool
	done   atomic.Bool
}

func (s *Scope) ID() string { return s.handle.id }

func (s *Scope) Handle() resource.Handle { return s.handle }

// Release returns the connection to the pool. Closing an already closed
// connection yields resource.ErrAlreadyReleased.
func (s *Scope) Release(ctx context.Context) error {
	if !s.done.CompareAndSwap(false, true) {
		return resource.Released("release scope", nil)
	}
	if s.leaks {
		return nil
	}
	if err := s.handle.conn.Close(); err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return resource.Released("release scope", err)
		}
		return resource.Transient("release scope", err)
	}
	return nil
}
