package sbi

import (
	"time"

	"github.com/signalsfoundry/fabric-controller/timectrl"
)

// FakeEventScheduler is an EventScheduler over a manual clock. Tests move time
// with AdvanceTo, which also runs everything that became due.
type FakeEventScheduler struct {
	clock *timectrl.ManualClock
	*eventScheduler
}

// NewFakeEventScheduler creates a fake scheduler starting at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	clock := timectrl.NewManualClock(start)
	return &FakeEventScheduler{
		clock:          clock,
		eventScheduler: newEventScheduler(clock, "fake-ev"),
	}
}

// Clock returns the manual clock driving the scheduler.
func (s *FakeEventScheduler) Clock() *timectrl.ManualClock { return s.clock }

// AdvanceTo moves time forward to t (never backwards) and runs due events.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.clock.Set(t)
	s.RunDue()
}

// Advance moves time forward by d and runs due events.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.clock.Advance(d)
	s.RunDue()
}

// Pending returns the number of scheduled, not yet run, not cancelled events.
func (s *FakeEventScheduler) Pending() int {
	return s.pending()
}
