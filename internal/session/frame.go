package session

import (
	"sync"
	"time"
)

// FrameScheduler runs fn once, on the next frame.
type FrameScheduler interface {
	Schedule(fn func())
}

// TimerScheduler approximates animation frames with a fixed interval.
type TimerScheduler struct {
	Interval time.Duration
}

func (s TimerScheduler) Schedule(fn func()) {
	d := s.Interval
	if d <= 0 {
		d = 16 * time.Millisecond
	}
	time.AfterFunc(d, fn)
}

// coalescer collapses bursts of one event class into a single run per frame.
// The latest payload wins; earlier ones are dropped.
type coalescer struct {
	mu      sync.Mutex
	sched   FrameScheduler
	pending map[string]bool
}

func newCoalescer(sched FrameScheduler) *coalescer {
	return &coalescer{sched: sched, pending: make(map[string]bool)}
}

// Request schedules fn for class unless a run is already pending.
// It reports whether a new run was scheduled.
func (c *coalescer) Request(class string, fn func()) bool {
	c.mu.Lock()
	if c.pending[class] {
		c.mu.Unlock()
		return false
	}
	c.pending[class] = true
	c.mu.Unlock()

	c.sched.Schedule(func() {
		c.mu.Lock()
		c.pending[class] = false
		c.mu.Unlock()
		fn()
	})
	return true
}
