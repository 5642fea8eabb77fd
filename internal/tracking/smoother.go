package tracking

import (
	"sync"
	"time"

	"towing/internal/domain"
)

// Smoother interpolates a displayed position between discrete fixes.
// The first fix is shown immediately; each later fix starts a linear glide
// of fixed duration from the currently displayed position, replacing any
// glide in progress.
type Smoother struct {
	mu       sync.Mutex
	duration time.Duration
	from     domain.Coordinates
	to       domain.Coordinates
	start    time.Time
	has      bool
}

// NewSmoother creates a Smoother gliding over d.
func NewSmoother(d time.Duration) *Smoother {
	return &Smoother{duration: d}
}

// Push sets a new target observed at now.
func (s *Smoother) Push(p domain.Coordinates, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.has {
		s.from, s.to = p, p
		s.start = now
		s.has = true
		return
	}
	s.from = s.positionLocked(now)
	s.to = p
	s.start = now
}

// Position returns the displayed position at now. ok is false before the
// first fix.
func (s *Smoother) Position(now time.Time) (domain.Coordinates, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.has {
		return domain.Coordinates{}, false
	}
	return s.positionLocked(now), true
}

// Animating reports whether a glide is still in progress at now.
func (s *Smoother) Animating(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.has && s.progressLocked(now) < 1
}

func (s *Smoother) progressLocked(now time.Time) float64 {
	if s.duration <= 0 {
		return 1
	}
	p := float64(now.Sub(s.start)) / float64(s.duration)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func (s *Smoother) positionLocked(now time.Time) domain.Coordinates {
	p := s.progressLocked(now)
	return domain.Coordinates{
		Lat: s.from.Lat + (s.to.Lat-s.from.Lat)*p,
		Lng: s.from.Lng + (s.to.Lng-s.from.Lng)*p,
	}
}
