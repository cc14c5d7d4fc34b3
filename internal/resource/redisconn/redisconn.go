// Package redisconn backs scopes with dedicated redis connections taken from
// a go-redis pool.
package redisconn

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"scopeleak/internal/resource"
)

// Factory opens scopes on a shared client.
type Factory struct {
	client    *redis.Client
	leakEvery int
	seq       atomic.Int64
}

// Option configures a Factory.
type Option func(*Factory)

// WithLeakEvery skips closing the connection of every nth scope.
func WithLeakEvery(n int) Option {
	return func(f *Factory) {
		f.leakEvery = n
	}
}

// New constructs a Factory. The caller owns client.
func New(client *redis.Client, opts ...Option) *Factory {
	f := &Factory{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// CreateScope pins a connection and pings it so an unreachable server is
// reported at creation rather than on the first operation.
func (f *Factory) CreateScope(ctx context.Context) (resource.Scope, error) {
	conn := f.client.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, resource.Unavailable("pin redis connection", err)
	}
	seq := int(f.seq.Add(1))
	return &Scope{
		handle: &Handle{id: resource.NewID(), conn: conn},
		leaks:  f.leakEvery > 0 && seq%f.leakEvery == 0,
	}, nil
}

// Handle is one pinned connection.
type Handle struct {
	id   string
	conn *redis.Conn
}

func (h *Handle) ID() string { return h.id }

// ExecNoOp sends PING. A closed connection answers redis.ErrClosed.
func (h *Handle) ExecNoOp(ctx context.Context) error {
	err := h.conn.Ping(ctx).Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.ErrClosed):
		return resource.Released("ping", err)
	default:
		return resource.Transient("ping", err)
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

// Release closes the pinned connection, handing it back to the pool.
func (s *Scope) Release(ctx context.Context) error {
	if !s.done.CompareAndSwap(false, true) {
		return resource.Released("release scope", nil)
	}
	if s.leaks {
		return nil
	}
	if err := s.handle.conn.Close(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return resource.Released("release scope", err)
		}
		return resource.Transient("release scope", err)
	}
	return nil
}
