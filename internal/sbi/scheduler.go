package sbi

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/fabric-controller/timectrl"
)

// EventScheduler runs callbacks at points in controller time. The controller
// uses it for periodic port-statistics polling; the process drives it by
// calling RunDue from a timectrl.TimeController listener, tests drive it with
// FakeEventScheduler.AdvanceTo.
type EventScheduler interface {
	// Schedule registers f to run at 'at' and returns an id usable with Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a pending callback. Unknown or already-run ids are ignored.
	Cancel(id string)

	// Now returns the scheduler's notion of current time.
	Now() time.Time

	// RunDue executes every pending callback whose time is <= Now(). Each
	// callback runs at most once.
	RunDue()
}

type scheduledEvent struct {
	id        string
	when      time.Time
	seq       uint64
	f         func()
	cancelled bool
}

// eventQueue orders by time, then by insertion so equal times run FIFO.
type eventQueue []*scheduledEvent

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].when.Equal(q[j].when) {
		return q[i].seq < q[j].seq
	}
	return q[i].when.Before(q[j].when)
}
func (q eventQueue) Swap(i, j int)  { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)    { *q = append(*q, x.(*scheduledEvent)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

type eventScheduler struct {
	clock  timectrl.Clock
	prefix string

	mu      sync.Mutex
	counter uint64
	queue   eventQueue
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler reading time from clock.
func NewEventScheduler(clock timectrl.Clock) EventScheduler {
	return newEventScheduler(clock, "ev")
}

func newEventScheduler(clock timectrl.Clock, prefix string) *eventScheduler {
	return &eventScheduler{
		clock:  clock,
		prefix: prefix,
		index:  make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ev := &scheduledEvent{
		id:   fmt.Sprintf("%s-%d", s.prefix, s.counter),
		when: at,
		seq:  s.counter,
		f:    f,
	}
	heap.Push(&s.queue, ev)
	s.index[ev.id] = ev
	return ev.id
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.index[id]; ok {
		// Removal from the heap is lazy; RunDue skips cancelled entries.
		ev.cancelled = true
		delete(s.index, id)
	}
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// popDue removes and returns the next runnable event, or nil.
func (s *eventScheduler) popDue(now time.Time) *scheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.cancelled {
			heap.Pop(&s.queue)
			continue
		}
		if next.when.After(now) {
			return nil
		}
		heap.Pop(&s.queue)
		delete(s.index, next.id)
		return next
	}
	return nil
}

func (s *eventScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *eventScheduler) RunDue() {
	now := s.clock.Now()
	for {
		ev := s.popDue(now)
		if ev == nil {
			return
		}
		// Callbacks run outside the lock so they may reschedule themselves.
		if ev.f != nil {
			ev.f()
		}
	}
}
