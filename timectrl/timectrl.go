package timectrl

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Clock is the time source used by freshness windows and the event
// scheduler. Components depend on it rather than calling time.Now so tests
// can drive time explicitly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set moves the clock to t if t is not in the past.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// TimeController ticks at a fixed interval and notifies registered listeners
// on every tick. It implements Clock; Now reports the time of the last tick.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller starting at start.
func NewTimeController(start time.Time, tick time.Duration) *TimeController {
	if tick <= 0 {
		tick = time.Second
	}
	return &TimeController{
		Tick:        tick,
		currentTime: start,
	}
}

// Now implements Clock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked on every tick. Listeners must be
// registered before Start.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the tick loop until ctx is cancelled. The returned channel is
// closed when the loop exits.
func (tc *TimeController) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				tc.mu.Lock()
				tc.currentTime = now
				listeners := slices.Clone(tc.listeners)
				tc.mu.Unlock()

				for _, fn := range listeners {
					fn(now)
				}
			}
		}
	}()
	return done
}
