package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Backends and platform packages return
// these (optionally wrapped) so the harness can classify them with errors.Is.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: nothing recorded yet for the requested key
// - ErrInvalidState: resource in wrong state for requested operation
// - ErrUnavailable: service or resource temporarily unavailable
// - ErrInvalidConfig: configuration value rejected at startup
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
	ErrInvalidConfig = errors.New("invalid config")
)
