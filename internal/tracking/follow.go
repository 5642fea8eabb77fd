package tracking

import (
	"sync"
	"time"

	"towing/internal/timer"
)

// Follow tracks whether a map view should auto-center on new positions.
// Manual interaction suspends following; it resumes after a cooldown that
// restarts on every interaction.
type Follow struct {
	mu        sync.Mutex
	cooldown  time.Duration
	slot      timer.Slot
	suspended bool
}

// NewFollow creates a Follow with the given cooldown.
func NewFollow(cooldown time.Duration) *Follow {
	return &Follow{cooldown: cooldown}
}

// InteractionStarted suspends following until the interaction ends.
func (f *Follow) InteractionStarted() {
	f.slot.Cancel()
	f.mu.Lock()
	f.suspended = true
	f.mu.Unlock()
}

// InteractionEnded starts the cooldown, replacing any running one.
func (f *Follow) InteractionEnded() {
	f.mu.Lock()
	f.suspended = true
	f.mu.Unlock()
	f.slot.Schedule(f.cooldown, func() {
		f.mu.Lock()
		f.suspended = false
		f.mu.Unlock()
	})
}

// Recenter resumes following immediately.
func (f *Follow) Recenter() {
	f.slot.Cancel()
	f.mu.Lock()
	f.suspended = false
	f.mu.Unlock()
}

// Following reports whether new positions should move the camera.
func (f *Follow) Following() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.suspended
}

// Stop cancels a running cooldown. The view is being torn down.
func (f *Follow) Stop() {
	f.slot.Cancel()
}
