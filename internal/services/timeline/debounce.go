package timeline

import (
	"sync"
	"time"
)

// DefaultDebounce is the rebuild coalescing window.
const DefaultDebounce = 2 * time.Second

// Recomputer coalesces bursts of schedule change events into a single
// timeline rebuild. Start-time edits, duration writes, and mapping
// changes often arrive as several events within a second.
type Recomputer struct {
	window time.Duration
	build  func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewRecomputer wraps a rebuild callback with a debounce window.
func NewRecomputer(window time.Duration, build func()) *Recomputer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Recomputer{window: window, build: build}
}

// Trigger schedules a rebuild, absorbing any trigger that arrives
// before the window elapses.
func (r *Recomputer) Trigger() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.window, r.build)
}

// Stop cancels any pending rebuild.
func (r *Recomputer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
