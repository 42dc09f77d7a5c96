// Package controller is the decision engine. It consumes southbound events,
// keeps the topology, learning tables and ARP tracker current, and turns
// packet-ins into forwarding decisions.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/signalsfoundry/fabric-controller/internal/arp"
	"github.com/signalsfoundry/fabric-controller/internal/learning"
	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/pathing"
	"github.com/signalsfoundry/fabric-controller/internal/rules"
	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/model"
)

// Event outcomes reported to the Observer.
const (
	OutcomeOK      = "ok"
	OutcomeDropped = "dropped"
	OutcomeError   = "error"
)

// ErrUnknownEvent is returned for event types the engine does not handle.
var ErrUnknownEvent = errors.New("unknown event")

// ErrMalformedFrame is returned for packet-ins whose decoded frame cannot
// identify a host.
var ErrMalformedFrame = errors.New("malformed frame")

// Observer receives engine measurements. observability.ControllerCollector
// implements it.
type Observer interface {
	ObserveEvent(kind model.EventKind, outcome string, d time.Duration)
	SetTopologySize(switches, links, hosts int)
	SetARPEntries(n int)
}

type noopObserver struct{}

func (noopObserver) ObserveEvent(model.EventKind, string, time.Duration) {}
func (noopObserver) SetTopologySize(int, int, int)                       {}
func (noopObserver) SetARPEntries(int)                                   {}

// Deps is the state the engine works on. Graph, Learning, Tracker and
// Installer are required; the rest is optional.
type Deps struct {
	Graph     *topology.Graph
	Learning  *learning.Registry
	Tracker   *arp.Tracker
	Resolver  *pathing.Resolver
	Installer *rules.Installer
	Stats     *StatsPoller
	Observer  Observer
	Log       logging.Logger

	// PathRouting sends IPv4 traffic for hosts attached elsewhere in the
	// fabric over resolved multi-path sets instead of flooding.
	PathRouting bool
}

// Engine handles one event at a time per switch. It is safe for concurrent
// use by several dispatcher workers; shared structures lock themselves.
type Engine struct {
	graph     *topology.Graph
	learning  *learning.Registry
	tracker   *arp.Tracker
	resolver  *pathing.Resolver
	installer *rules.Installer
	stats     *StatsPoller
	observer  Observer
	log       logging.Logger

	pathRouting bool

	// sizeMu serializes gauge updates so the last report reflects the newest
	// snapshot.
	sizeMu sync.Mutex
}

// NewEngine validates deps and builds an engine.
func NewEngine(d Deps) (*Engine, error) {
	switch {
	case d.Graph == nil:
		return nil, errors.New("controller: graph is required")
	case d.Learning == nil:
		return nil, errors.New("controller: learning registry is required")
	case d.Tracker == nil:
		return nil, errors.New("controller: arp tracker is required")
	case d.Installer == nil:
		return nil, errors.New("controller: rule installer is required")
	case d.PathRouting && d.Resolver == nil:
		return nil, errors.New("controller: path routing needs a resolver")
	}
	if d.Observer == nil {
		d.Observer = noopObserver{}
	}
	if d.Log == nil {
		d.Log = logging.Noop()
	}
	return &Engine{
		graph:       d.Graph,
		learning:    d.Learning,
		tracker:     d.Tracker,
		resolver:    d.Resolver,
		installer:   d.Installer,
		stats:       d.Stats,
		observer:    d.Observer,
		log:         d.Log,
		pathRouting: d.PathRouting,
	}, nil
}

// Graph returns the topology the engine maintains.
func (e *Engine) Graph() *topology.Graph { return e.graph }

// Learning returns the per-switch learning tables.
func (e *Engine) Learning() *learning.Registry { return e.learning }

// Tracker returns the controller-wide ARP tracker.
func (e *Engine) Tracker() *arp.Tracker { return e.tracker }

// Resolver returns the path resolver, nil when path routing is off.
func (e *Engine) Resolver() *pathing.Resolver { return e.resolver }

// Handle processes one event. Data-structure errors come back to the
// caller; the dispatcher logs them and carries on.
func (e *Engine) Handle(ctx context.Context, ev model.Event) error {
	start := time.Now()

	var err error
	switch ev := ev.(type) {
	case model.SwitchJoined:
		err = e.switchJoined(ctx, ev)
	case model.SwitchLeft:
		err = e.switchLeft(ctx, ev)
	case model.LinkAdded:
		err = e.linkAdded(ctx, ev)
	case model.LinkRemoved:
		err = e.linkRemoved(ctx, ev)
	case model.PacketIn:
		err = e.packetIn(ctx, ev)
	case model.PortStatsReply:
		err = e.portStats(ctx, ev)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	kind := model.EventKind("unknown")
	if ev != nil {
		kind = ev.Kind()
	}
	e.observer.ObserveEvent(kind, Outcome(err), time.Since(start))
	return err
}

// Outcome classifies a Handle error for metrics and log levels. Transients
// the engine is expected to see (unknown hosts, missing routes, topology
// races) are drops; anything else is an error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, model.ErrTopologyInconsistent),
		errors.Is(err, model.ErrUnknownHost),
		errors.Is(err, model.ErrNoRoute),
		errors.Is(err, ErrUnknownEvent),
		errors.Is(err, ErrMalformedFrame):
		return OutcomeDropped
	default:
		return OutcomeError
	}
}

func (e *Engine) switchJoined(ctx context.Context, ev model.SwitchJoined) error {
	if e.graph.AddSwitch(ev.Switch) {
		e.log.Info(ctx, "switch joined", logging.Switch(ev.Switch))
	}
	if e.stats != nil {
		e.stats.Register(ev.Switch)
	}
	e.topologyChanged()
	return nil
}

func (e *Engine) switchLeft(ctx context.Context, ev model.SwitchLeft) error {
	if e.stats != nil {
		e.stats.Unregister(ev.Switch)
	}
	e.graph.RemoveSwitch(ev.Switch)
	e.learning.Drop(ev.Switch)
	e.installer.Groups().ForgetSwitch(ev.Switch)
	e.log.Info(ctx, "switch left", logging.Switch(ev.Switch))
	e.topologyChanged()
	return nil
}

func (e *Engine) linkAdded(ctx context.Context, ev model.LinkAdded) error {
	if err := e.graph.AddLink(ev.Src, ev.SrcPort, ev.Dst, ev.DstPort); err != nil {
		return fmt.Errorf("link add %s:%s-%s:%s: %w", ev.Src, ev.SrcPort, ev.Dst, ev.DstPort, err)
	}
	e.log.Debug(ctx, "link added",
		logging.Switch(ev.Src),
		logging.Port(ev.SrcPort),
		logging.Uint64("peer_dpid", uint64(ev.Dst)),
		logging.String("peer_port", ev.DstPort.String()),
	)
	e.topologyChanged()
	return nil
}

func (e *Engine) linkRemoved(ctx context.Context, ev model.LinkRemoved) error {
	if err := e.graph.RemoveLink(ev.Src, ev.SrcPort, ev.Dst, ev.DstPort); err != nil {
		return fmt.Errorf("link remove %s:%s-%s:%s: %w", ev.Src, ev.SrcPort, ev.Dst, ev.DstPort, err)
	}
	e.log.Debug(ctx, "link removed",
		logging.Switch(ev.Src),
		logging.Port(ev.SrcPort),
		logging.Uint64("peer_dpid", uint64(ev.Dst)),
	)
	e.topologyChanged()
	return nil
}

func (e *Engine) portStats(ctx context.Context, ev model.PortStatsReply) error {
	if e.stats == nil {
		return nil
	}
	e.stats.Accept(ctx, ev)
	return nil
}

func (e *Engine) packetIn(ctx context.Context, pin model.PacketIn) error {
	f := pin.Frame
	switch {
	case f.IsDiscovery():
		return nil
	case f.EtherType == model.EtherTypeARP && f.ARP != nil:
		return e.handleARP(ctx, pin)
	default:
		return e.handleData(ctx, pin)
	}
}

// attach places a host seen first-hand at sw in the topology graph. Ports
// that lead to other switches never carry attachments.
func (e *Engine) attach(ctx context.Context, mac net.HardwareAddr, sw model.SwitchID, port model.PortNo) {
	if e.graph.IsInterSwitchPort(sw, port) {
		return
	}
	before := e.graph.Version()
	if err := e.graph.AttachHost(mac, sw, port); err != nil {
		e.log.Debug(ctx, "host not attached", logging.MAC("mac", mac), logging.Switch(sw), logging.Err(err))
		return
	}
	if e.graph.Version() != before {
		e.topologyChanged()
	}
}

func (e *Engine) topologyChanged() {
	e.sizeMu.Lock()
	defer e.sizeMu.Unlock()
	snap := e.graph.Snapshot()
	e.observer.SetTopologySize(len(snap.Switches()), len(snap.Links())/2, len(snap.Hosts()))
}
