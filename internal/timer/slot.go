// Package timer provides a single-slot timer: scheduling always replaces the
// previous timer, and a replaced or cancelled timer never fires.
package timer

import (
	"sync"
	"time"
)

// Slot holds at most one outstanding timer. The zero value is ready to use.
type Slot struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Schedule cancels any pending timer and arranges for fn to run once after d.
func (s *Slot) Schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.gen++
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops the pending timer. It reports whether a timer was pending.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		return false
	}
	s.stopLocked()
	s.gen++
	return true
}

// Pending reports whether a timer is scheduled and has not fired.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Slot) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
