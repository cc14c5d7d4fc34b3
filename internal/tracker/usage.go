package tracker

import (
	"fmt"
	"time"
)

// Usage is a point-in-time count over the registry. NotDisposed counts handles
// that still answered the probe, i.e. sessions that should have been released
// but are still usable. Released counts handles that rejected the probe as
// released; read it for "how many were disposed correctly".
// NotDisposed+Released+Unknown == Total.
type Usage struct {
	Total       int       `json:"total"`
	NotDisposed int       `json:"not_disposed"`
	Released    int       `json:"released"`
	Unknown     int       `json:"unknown"`
	TakenAt     time.Time `json:"taken_at"`
}

func (u Usage) String() string {
	return fmt.Sprintf("Total: %d, NotDisposed: %d", u.Total, u.NotDisposed)
}

// LeakRatio is NotDisposed/Total, 0 for an empty registry. A ratio that keeps
// rising across rounds is the leak under study.
func (u Usage) LeakRatio() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.NotDisposed) / float64(u.Total)
}

func (u *Usage) add(l Liveness) {
	u.Total++
	switch l.State {
	case StateLive:
		u.NotDisposed++
	case StateReleased:
		u.Released++
	default:
		u.Unknown++
	}
}
