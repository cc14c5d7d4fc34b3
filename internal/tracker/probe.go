package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scopeleak/internal/resource"
)

// State is the outcome of probing one handle.
type State int

const (
	StateLive State = iota
	StateReleased
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateReleased:
		return "released"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Liveness is a tagged probe result. Err is set only for StateFailed.
type Liveness struct {
	State State
	Err   error
}

// Probe checks whether a handle is still usable by running its no-op.
//
// The answer is a point-in-time estimate: a handle may be released while or
// right after it is probed.
type Probe struct {
	timeout time.Duration
}

// NewProbe returns a Probe that bounds each check by timeout (0 = no bound).
func NewProbe(timeout time.Duration) *Probe {
	return &Probe{timeout: timeout}
}

// Check runs the handle's no-op and classifies the outcome. Only
// resource.ErrAlreadyReleased counts as released; every other failure is
// StateFailed so it can't be mistaken for either live or released.
func (p *Probe) Check(ctx context.Context, h resource.Handle) (result Liveness) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			result = Liveness{State: StateFailed, Err: fmt.Errorf("probe %s: panic: %v", h.ID(), r)}
		}
	}()

	err := h.ExecNoOp(ctx)
	switch {
	case err == nil:
		return Liveness{State: StateLive}
	case errors.Is(err, resource.ErrAlreadyReleased):
		return Liveness{State: StateReleased}
	default:
		return Liveness{State: StateFailed, Err: fmt.Errorf("probe %s: %w", h.ID(), err)}
	}
}

// IsReleased reports whether h has been released. Failures other than
// resource.ErrAlreadyReleased are returned as errors.
func (p *Probe) IsReleased(ctx context.Context, h resource.Handle) (bool, error) {
	l := p.Check(ctx, h)
	if l.State == StateFailed {
		return false, l.Err
	}
	return l.State == StateReleased, nil
}
