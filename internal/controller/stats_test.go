package controller

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/statsstore"
	"github.com/signalsfoundry/fabric-controller/model"
)

type portStatsSpy struct {
	seen      []model.SwitchID
	forgotten []model.SwitchID
}

func (s *portStatsSpy) ForgetSwitch(sw model.SwitchID) {
	s.forgotten = append(s.forgotten, sw)
}

func (s *portStatsSpy) ObservePortStats(sw model.SwitchID, _ []model.PortCounters) {
	s.seen = append(s.seen, sw)
}

func newPoller(t *testing.T) (*StatsPoller, *sbi.FakeEventScheduler, *sbi.RecordingCommander, *statsstore.Memory) {
	t.Helper()
	sched := sbi.NewFakeEventScheduler(time.Unix(0, 0))
	rec := sbi.NewRecordingCommander()
	mem := statsstore.NewMemory(8)
	return NewStatsPoller(rec, sched, mem, 10*time.Second, nil), sched, rec, mem
}

func TestStatsPollerPollsRegisteredSwitches(t *testing.T) {
	p, sched, rec, _ := newPoller(t)
	p.Register(2)
	p.Register(1)
	p.Start(context.Background())

	sched.Advance(9 * time.Second)
	if len(rec.StatsRequests()) != 0 {
		t.Fatalf("polled before the interval elapsed")
	}

	sched.Advance(time.Second)
	if got := rec.StatsRequests(); !slices.Equal(got, []model.SwitchID{1, 2}) {
		t.Fatalf("first poll = %v, want [1 2]", got)
	}

	p.Unregister(2)
	sched.Advance(10 * time.Second)
	if got := rec.StatsRequests(); !slices.Equal(got, []model.SwitchID{1, 2, 1}) {
		t.Fatalf("after unregister = %v", got)
	}

	// A late tick catches up on the fixed cadence.
	sched.Advance(25 * time.Second)
	if got := len(rec.StatsRequests()); got != 5 {
		t.Fatalf("requests after catch-up = %d, want 5", got)
	}

	p.Stop()
	sched.Advance(time.Minute)
	if got := len(rec.StatsRequests()); got != 5 {
		t.Fatalf("polled after Stop: %d", got)
	}
}

func TestStatsPollerStopsWithContext(t *testing.T) {
	p, sched, rec, _ := newPoller(t)
	p.Register(1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	sched.Advance(time.Minute)
	if len(rec.StatsRequests()) != 0 {
		t.Fatalf("polled after context cancellation")
	}
	if sched.Pending() != 0 {
		t.Fatalf("poll rescheduled after cancellation")
	}
}

func TestStatsPollerIgnoresStaleReplies(t *testing.T) {
	p, sched, _, mem := newPoller(t)
	spy := &portStatsSpy{}
	p.Observer = spy
	p.Register(1)

	ctx := context.Background()
	ok := p.Accept(ctx, model.PortStatsReply{Switch: 1, Ports: []model.PortCounters{{Port: 1, RxPackets: 5}}})
	if !ok {
		t.Fatalf("reply from registered switch rejected")
	}
	latest, found := mem.Latest(1)
	if !found || latest.Ports[0].RxPackets != 5 || !latest.At.Equal(sched.Now()) {
		t.Fatalf("stored sample = %+v, %v", latest, found)
	}

	p.Unregister(1)
	if len(spy.forgotten) != 1 || spy.forgotten[0] != 1 {
		t.Fatalf("observer not told to forget switch 1: %v", spy.forgotten)
	}
	if p.Accept(ctx, model.PortStatsReply{Switch: 1}) {
		t.Fatalf("stale reply accepted")
	}
	if len(mem.History(1)) != 1 || len(spy.seen) != 1 {
		t.Fatalf("stale reply reached the sink or observer")
	}
}

func TestEngineRoutesStatsThroughPoller(t *testing.T) {
	f := newFixture(t, false)
	p, _, _, mem := newPoller(t)
	f.eng.stats = p

	f.handle(t, model.SwitchJoined{Switch: 5})
	if !p.Registered(5) {
		t.Fatalf("join did not register the switch")
	}
	f.handle(t, model.PortStatsReply{Switch: 5, Ports: []model.PortCounters{{Port: 1}}})
	if _, ok := mem.Latest(5); !ok {
		t.Fatalf("reply not stored")
	}

	f.handle(t, model.SwitchLeft{Switch: 5})
	f.handle(t, model.PortStatsReply{Switch: 5, Ports: []model.PortCounters{{Port: 1}}})
	if len(mem.History(5)) != 1 {
		t.Fatalf("reply after leave stored")
	}
}
