package tracking

import (
	"time"

	"towing/internal/domain"
	"towing/internal/geo"
)

// ThrottleConfig holds the persistence gate thresholds.
type ThrottleConfig struct {
	MinInterval  time.Duration
	MaxInterval  time.Duration
	MinDistanceM float64
}

// DefaultThrottleConfig returns the reference thresholds.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MinInterval:  15 * time.Second,
		MaxInterval:  60 * time.Second,
		MinDistanceM: 25,
	}
}

// Throttle decides whether a fix should be written upstream. A fix passes
// when nothing was sent yet, when MaxInterval elapsed since the last send,
// or when MinInterval elapsed and the provider moved MinDistanceM.
type Throttle struct {
	cfg  ThrottleConfig
	last *domain.Fix
}

// NewThrottle creates a Throttle.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	return &Throttle{cfg: cfg}
}

// ShouldSend evaluates fix against the last recorded send.
func (t *Throttle) ShouldSend(fix domain.Fix) bool {
	if t.last == nil {
		return true
	}
	dt := fix.At.Sub(t.last.At)
	if dt >= t.cfg.MaxInterval {
		return true
	}
	if dt >= t.cfg.MinInterval {
		return geo.DistanceMeters(t.last.Lat, t.last.Lng, fix.Lat, fix.Lng) >= t.cfg.MinDistanceM
	}
	return false
}

// MarkSent records fix as the last persisted position.
func (t *Throttle) MarkSent(fix domain.Fix) {
	f := fix
	t.last = &f
}

// Offer is ShouldSend followed by MarkSent when the fix passes.
func (t *Throttle) Offer(fix domain.Fix) bool {
	if !t.ShouldSend(fix) {
		return false
	}
	t.MarkSent(fix)
	return true
}
