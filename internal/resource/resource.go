// Package resource defines the capabilities the harness needs from a backend:
// a factory that opens scopes, the scope that owns exactly one handle, and the
// handle that can run a trivial operation against the backend.
package resource

//go:generate mockgen -source=resource.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"scopeleak/pkg/platform/sentinel"
)

// Error kinds returned (wrapped) by backends. Match them with errors.Is.
var (
	// ErrBackendUnavailable means the factory cannot reach its backend. It is
	// the only error allowed to abort a whole run.
	ErrBackendUnavailable = fmt.Errorf("backend %w", sentinel.ErrUnavailable)

	// ErrAlreadyReleased is returned by a handle whose scope has been released.
	ErrAlreadyReleased = fmt.Errorf("handle already released: %w", sentinel.ErrInvalidState)

	// ErrTransient covers every other operation failure (network, timeout, server error).
	ErrTransient = errors.New("transient failure")
)

// Handle is one unit of backing resource, e.g. a database session.
// No two goroutines call ExecNoOp on the same handle at the same time.
type Handle interface {
	ID() string
	// ExecNoOp runs a trivial operation (SELECT 1, PING) against the backend.
	ExecNoOp(ctx context.Context) error
}

// Scope owns exactly one Handle and releases it. Releasing twice returns nil
// or an error; it never panics.
type Scope interface {
	ID() string
	Handle() Handle
	Release(ctx context.Context) error
}

// Factory opens new, independently releasable scopes.
type Factory interface {
	CreateScope(ctx context.Context) (Scope, error)
}

var idCounter atomic.Uint64

// NewID returns an identifier for a scope and its handle: a process-wide
// counter that is easy to follow in logs, then a UUID.
func NewID() string {
	return fmt.Sprintf("#%d %s", idCounter.Add(1), uuid.NewString())
}

// Unavailable wraps err as ErrBackendUnavailable, keeping err in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

// Transient wraps err as ErrTransient, keeping err in the chain.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// Released wraps err as ErrAlreadyReleased, keeping err in the chain.
func Released(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrAlreadyReleased)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrAlreadyReleased, err)
}
