package controller

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/statsstore"
	"github.com/signalsfoundry/fabric-controller/model"
)

// DefaultStatsInterval is the port statistics polling period.
const DefaultStatsInterval = 10 * time.Second

// PortStatsObserver receives accepted port counters.
type PortStatsObserver interface {
	ObservePortStats(sw model.SwitchID, ports []model.PortCounters)
}

// StatsPoller asks every registered switch for port counters on a fixed
// interval. Registration follows switch join and leave events and may change
// while a poll is running. Replies from switches that are no longer
// registered are ignored.
type StatsPoller struct {
	Commander sbi.Commander
	Scheduler sbi.EventScheduler
	Sink      statsstore.Sink
	Interval  time.Duration
	Observer  PortStatsObserver
	log       logging.Logger

	mu       sync.Mutex
	switches map[model.SwitchID]struct{}
	ctx      context.Context
	timerID  string
	next     time.Time
	running  bool
}

// NewStatsPoller creates a stopped poller. A zero interval means
// DefaultStatsInterval; a nil sink discards replies.
func NewStatsPoller(cmd sbi.Commander, sched sbi.EventScheduler, sink statsstore.Sink, interval time.Duration, log logging.Logger) *StatsPoller {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	if log == nil {
		log = logging.Noop()
	}
	return &StatsPoller{
		Commander: cmd,
		Scheduler: sched,
		Sink:      sink,
		Interval:  interval,
		log:       log,
		switches:  make(map[model.SwitchID]struct{}),
	}
}

// Register adds sw to the polling set.
func (p *StatsPoller) Register(sw model.SwitchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.switches[sw] = struct{}{}
}

// Unregister removes sw. A reply already in flight is dropped on arrival.
// An observer that also implements ForgetSwitch drops the switch's series.
func (p *StatsPoller) Unregister(sw model.SwitchID) {
	p.mu.Lock()
	delete(p.switches, sw)
	p.mu.Unlock()

	if f, ok := p.Observer.(interface{ ForgetSwitch(model.SwitchID) }); ok {
		f.ForgetSwitch(sw)
	}
}

// Registered reports whether sw is being polled.
func (p *StatsPoller) Registered(sw model.SwitchID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.switches[sw]
	return ok
}

// Switches returns the polled switches, ascending.
func (p *StatsPoller) Switches() []model.SwitchID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.SwitchID, 0, len(p.switches))
	for sw := range p.switches {
		out = append(out, sw)
	}
	slices.Sort(out)
	return out
}

// Start schedules the first poll one interval from now. Polls reschedule
// themselves until Stop or until ctx is done.
func (p *StatsPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.ctx = ctx
	p.next = p.Scheduler.Now()
	p.scheduleLocked()
}

// Stop cancels the pending poll.
func (p *StatsPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.Scheduler.Cancel(p.timerID)
	p.timerID = ""
}

// scheduleLocked keeps a fixed cadence from the start time, so a late tick
// does not push later polls back.
func (p *StatsPoller) scheduleLocked() {
	p.next = p.next.Add(p.Interval)
	p.timerID = p.Scheduler.Schedule(p.next, p.tick)
}

func (p *StatsPoller) tick() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	if ctx.Err() != nil {
		p.running = false
		p.mu.Unlock()
		return
	}
	p.scheduleLocked()
	p.mu.Unlock()

	p.Poll(ctx)
}

// Poll requests port statistics from every registered switch once.
func (p *StatsPoller) Poll(ctx context.Context) {
	for _, sw := range p.Switches() {
		if err := p.Commander.RequestPortStats(ctx, sw); err != nil {
			p.log.Warn(ctx, "port stats request failed", logging.Switch(sw), logging.Err(err))
		}
	}
}

// Accept stores reply if its switch is still registered and reports whether
// it did.
func (p *StatsPoller) Accept(ctx context.Context, reply model.PortStatsReply) bool {
	if !p.Registered(reply.Switch) {
		p.log.Debug(ctx, "stale port stats reply ignored", logging.Switch(reply.Switch))
		return false
	}
	if reply.ReceivedAt.IsZero() {
		reply.ReceivedAt = p.Scheduler.Now()
	}
	if p.Observer != nil {
		p.Observer.ObservePortStats(reply.Switch, reply.Ports)
	}
	if p.Sink != nil {
		if err := p.Sink.Write(ctx, reply); err != nil {
			p.log.Warn(ctx, "port stats not stored", logging.Switch(reply.Switch), logging.Err(err))
		}
	}
	return true
}
