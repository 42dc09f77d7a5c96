package controller

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/fabric-controller/internal/arp"
	"github.com/signalsfoundry/fabric-controller/internal/learning"
	"github.com/signalsfoundry/fabric-controller/internal/pathing"
	"github.com/signalsfoundry/fabric-controller/internal/rules"
	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/sbi/frames"
	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/model"
	"github.com/signalsfoundry/fabric-controller/timectrl"
)

var (
	macH1 = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	macH3 = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x03}
	ipH1  = netip.MustParseAddr("10.0.0.1")
	ipH3  = netip.MustParseAddr("10.0.0.3")
)

type fixture struct {
	eng      *Engine
	rec      *sbi.RecordingCommander
	graph    *topology.Graph
	learning *learning.Registry
	tracker  *arp.Tracker
	clock    *timectrl.ManualClock
	observer *countingObserver
}

type countingObserver struct {
	events   map[string]int
	switches int
	hosts    int
	arp      int
}

func (o *countingObserver) ObserveEvent(kind model.EventKind, outcome string, _ time.Duration) {
	o.events[string(kind)+"/"+outcome]++
}

func (o *countingObserver) SetTopologySize(switches, _, hosts int) {
	o.switches, o.hosts = switches, hosts
}

func (o *countingObserver) SetARPEntries(n int) { o.arp = n }

func newFixture(t *testing.T, pathRouting bool) *fixture {
	t.Helper()
	clock := timectrl.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	graph := topology.NewGraph()
	reg := learning.NewRegistry(learning.WithClock(clock), learning.WithSeed(1))
	tracker := arp.NewTracker(0)
	rec := sbi.NewRecordingCommander()
	obs := &countingObserver{events: make(map[string]int)}

	eng, err := NewEngine(Deps{
		Graph:       graph,
		Learning:    reg,
		Tracker:     tracker,
		Resolver:    pathing.NewResolver(graph),
		Installer:   rules.NewInstaller(rec, nil, nil),
		Observer:    obs,
		PathRouting: pathRouting,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &fixture{eng: eng, rec: rec, graph: graph, learning: reg, tracker: tracker, clock: clock, observer: obs}
}

func (f *fixture) handle(t *testing.T, ev model.Event) {
	t.Helper()
	if err := f.eng.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle(%T): %v", ev, err)
	}
}

// ring builds S1-S2-S3 in a ring:
// S1:2 <-> S2:3, S2:2 <-> S3:3, S3:2 <-> S1:3. Port 1 of every switch is
// left for hosts.
func (f *fixture) ring(t *testing.T) {
	t.Helper()
	for sw := model.SwitchID(1); sw <= 3; sw++ {
		f.handle(t, model.SwitchJoined{Switch: sw})
	}
	f.handle(t, model.LinkAdded{Src: 1, SrcPort: 2, Dst: 2, DstPort: 3})
	f.handle(t, model.LinkAdded{Src: 2, SrcPort: 2, Dst: 3, DstPort: 3})
	f.handle(t, model.LinkAdded{Src: 3, SrcPort: 2, Dst: 1, DstPort: 3})
}

func arpIn(t *testing.T, sw model.SwitchID, port model.PortNo, op model.ARPOp, sMAC net.HardwareAddr, sIP netip.Addr, tMAC net.HardwareAddr, tIP netip.Addr) model.PacketIn {
	t.Helper()
	data, err := frames.BuildARP(uint16(op), sMAC, sIP, tMAC, tIP)
	if err != nil {
		t.Fatalf("BuildARP: %v", err)
	}
	return packetIn(t, sw, port, data)
}

func ipIn(t *testing.T, sw model.SwitchID, port model.PortNo, sMAC, dMAC net.HardwareAddr, sIP, dIP netip.Addr) model.PacketIn {
	t.Helper()
	data, err := frames.BuildIPv4(frames.IPv4Spec{
		SrcMAC: sMAC, DstMAC: dMAC,
		SrcIP: sIP, DstIP: dIP,
		SrcPort: 40000, DstPort: 5001,
	})
	if err != nil {
		t.Fatalf("BuildIPv4: %v", err)
	}
	return packetIn(t, sw, port, data)
}

func packetIn(t *testing.T, sw model.SwitchID, port model.PortNo, data []byte) model.PacketIn {
	t.Helper()
	frame, err := frames.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return model.PacketIn{Switch: sw, InPort: port, BufferID: model.NoBuffer, Data: data, Frame: frame}
}

func TestNewEngineRequiresState(t *testing.T) {
	if _, err := NewEngine(Deps{}); err == nil {
		t.Fatalf("expected error for empty deps")
	}
	g := topology.NewGraph()
	_, err := NewEngine(Deps{
		Graph:       g,
		Learning:    learning.NewRegistry(),
		Tracker:     arp.NewTracker(0),
		Installer:   rules.NewInstaller(sbi.NewRecordingCommander(), nil, nil),
		PathRouting: true,
	})
	if err == nil {
		t.Fatalf("path routing without a resolver should be rejected")
	}
}

func TestARPRequestFromNewHostFloods(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)

	f.handle(t, arpIn(t, 3, 1, model.ARPRequest, macH1, ipH1, nil, ipH3))

	tbl := f.learning.Table(3)
	if !tbl.IsKnown(macH1) {
		t.Fatalf("H1 not learned at S3")
	}
	if lm, _ := tbl.IsLastMile(macH1); !lm {
		t.Fatalf("H1 should be last-mile at S3")
	}
	if f.tracker.HasNewInformation(macH1, ipH1) {
		t.Fatalf("tracker did not record H1")
	}
	pkts := f.rec.Packets()
	if len(pkts) != 1 || pkts[0].Switch != 3 || pkts[0].Port != model.PortFlood || pkts[0].InPort != 1 {
		t.Fatalf("packets = %+v, want one flood at S3 excluding port 1", pkts)
	}
	if at, ok := f.graph.HostAttachment(macH1); !ok || at.Switch != 3 || at.Port != 1 {
		t.Fatalf("H1 attachment = %+v, %v", at, ok)
	}
	if f.observer.arp != 1 || f.observer.hosts != 1 {
		t.Fatalf("observer arp=%d hosts=%d", f.observer.arp, f.observer.hosts)
	}
}

func TestARPRequestFloodTerminatesOnRing(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)

	req := func(sw model.SwitchID, port model.PortNo) model.PacketIn {
		return arpIn(t, sw, port, model.ARPRequest, macH1, ipH1, nil, ipH3)
	}
	f.handle(t, req(3, 1))
	f.handle(t, req(2, 2)) // S3:3 -> S2:2
	f.handle(t, req(1, 3)) // S3:2 -> S1:3
	if got := len(f.rec.Packets()); got != 3 {
		t.Fatalf("floods after first wave = %d, want 3", got)
	}
	if lm, _ := f.learning.Table(2).IsLastMile(macH1); lm {
		t.Fatalf("H1 must not be last-mile at transit switch S2")
	}

	// Second copies around the ring are learned but not re-flooded.
	f.handle(t, req(2, 3)) // S1:2 -> S2:3
	f.handle(t, req(1, 2)) // S2:3 -> S1:2
	if got := len(f.rec.Packets()); got != 3 {
		t.Fatalf("floods after second wave = %d, want 3", got)
	}
	ports, _ := f.learning.Table(2).Ports(macH1)
	if len(ports) != 2 {
		t.Fatalf("S2 should know both ports toward H1, got %v", ports)
	}

	// A repeat at the attachment switch is suppressed.
	f.handle(t, req(3, 1))
	if got := len(f.rec.Packets()); got != 3 {
		t.Fatalf("repeat at S3 re-flooded")
	}

	// Once the IP binding is stale the request is flooded again.
	f.clock.Advance(2 * time.Second)
	f.handle(t, req(3, 1))
	if got := len(f.rec.Packets()); got != 4 {
		t.Fatalf("stale binding should flood, packets = %d", got)
	}
}

func TestARPReplyForwardedNotFlooded(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)

	f.handle(t, arpIn(t, 3, 1, model.ARPRequest, macH1, ipH1, nil, ipH3))
	f.handle(t, arpIn(t, 1, 3, model.ARPRequest, macH1, ipH1, nil, ipH3))
	f.rec.Reset()

	f.handle(t, arpIn(t, 1, 1, model.ARPReply, macH3, ipH3, macH1, ipH1))

	pkts := f.rec.Packets()
	if len(pkts) != 1 || pkts[0].Switch != 1 || pkts[0].Port != 3 {
		t.Fatalf("reply packets = %+v, want one out S1 port 3", pkts)
	}
	if lm, _ := f.learning.Table(1).IsLastMile(macH3); !lm {
		t.Fatalf("H3 should be last-mile at S1")
	}
	if at, ok := f.graph.HostAttachment(macH3); !ok || at.Switch != 1 || at.Port != 1 {
		t.Fatalf("H3 attachment = %+v, %v", at, ok)
	}
}

func TestARPReplyUnknownTarget(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)

	err := f.eng.Handle(context.Background(), arpIn(t, 2, 1, model.ARPReply, macH3, ipH3, macH1, ipH1))
	if !errors.Is(err, model.ErrUnknownHost) {
		t.Fatalf("err = %v, want ErrUnknownHost", err)
	}
	if Outcome(err) != OutcomeDropped {
		t.Fatalf("unknown host should count as a drop")
	}
	if len(f.rec.Packets()) != 0 {
		t.Fatalf("reply to unknown target must not be emitted")
	}
	if f.observer.events["packet_in/dropped"] != 1 {
		t.Fatalf("observer events = %v", f.observer.events)
	}
}

func TestDataFrameKnownDestinationTimeouts(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)

	// H1 announces itself; the request reaches S1 over S3:2 -> S1:3 and S2
	// over S3:3 -> S2:2. H3 answers at S1.
	f.handle(t, arpIn(t, 3, 1, model.ARPRequest, macH1, ipH1, nil, ipH3))
	f.handle(t, arpIn(t, 1, 3, model.ARPRequest, macH1, ipH1, nil, ipH3))
	f.handle(t, arpIn(t, 2, 2, model.ARPRequest, macH1, ipH1, nil, ipH3))
	f.handle(t, arpIn(t, 1, 1, model.ARPReply, macH3, ipH3, macH1, ipH1))
	f.rec.Reset()

	// H1 -> H3 at S1: H3 is last-mile there.
	f.handle(t, ipIn(t, 1, 3, macH1, macH3, ipH1, ipH3))
	rs := f.rec.RulesFor(1)
	if len(rs) != 1 {
		t.Fatalf("S1 rules = %+v, want one", rs)
	}
	r := rs[0]
	if r.IdleTimeout != 300 || r.HardTimeout != 600 {
		t.Fatalf("last-mile timeouts = %d/%d, want 300/600", r.IdleTimeout, r.HardTimeout)
	}
	if r.Match.InPort != 3 || r.Match.EthDst.String() != macH3.String() || len(r.Actions) != 1 || r.Actions[0].Port != 1 {
		t.Fatalf("rule = %+v", r)
	}
	if pkts := f.rec.Packets(); len(pkts) != 1 || pkts[0].Port != 1 {
		t.Fatalf("packet-out = %+v", pkts)
	}

	// H3 -> H1 at S2: H1 is known there only as a transit observation.
	f.rec.Reset()
	f.handle(t, ipIn(t, 2, 3, macH3, macH1, ipH3, ipH1))
	rs = f.rec.RulesFor(2)
	if len(rs) != 1 || rs[0].IdleTimeout != 1 || rs[0].HardTimeout != 3 {
		t.Fatalf("transit rule = %+v, want 1/3 timeouts", rs)
	}
	if rs[0].Actions[0].Port != 2 {
		t.Fatalf("transit rule output = %v, want port 2", rs[0].Actions)
	}
}

func TestDataFrameUnknownDestinationFloods(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)

	f.handle(t, ipIn(t, 3, 1, macH1, macH3, ipH1, ipH3))

	if len(f.rec.Rules()) != 0 {
		t.Fatalf("no rule expected for unknown destination")
	}
	pkts := f.rec.Packets()
	if len(pkts) != 1 || pkts[0].Port != model.PortFlood {
		t.Fatalf("packets = %+v, want flood", pkts)
	}
	if !f.learning.Table(3).IsKnown(macH1) {
		t.Fatalf("source not learned")
	}
}

func TestPathRoutingInstallsWeightedGroup(t *testing.T) {
	f := newFixture(t, true)
	f.ring(t)

	// H3 shows up at S1 port 1; only S1 hears it.
	f.handle(t, arpIn(t, 1, 1, model.ARPRequest, macH3, ipH3, nil, ipH1))
	f.rec.Reset()

	f.handle(t, ipIn(t, 3, 1, macH1, macH3, ipH1, ipH3))

	groups := f.rec.Groups()
	if len(groups) != 1 || groups[0].Switch != 3 {
		t.Fatalf("groups = %+v, want one at S3", groups)
	}
	b := groups[0].Buckets
	if len(b) != 2 || b[0].Port != 2 || b[1].Port != 3 || b[0].Weight <= b[1].Weight {
		t.Fatalf("buckets = %+v, want direct link S3:2 weighted above S3:3", b)
	}
	for _, sw := range []model.SwitchID{1, 2, 3} {
		if len(f.rec.RulesFor(sw)) == 0 {
			t.Fatalf("no rules on S%d", sw)
		}
	}
	for _, r := range f.rec.RulesFor(1) {
		if r.Actions[0].Port != 1 || r.IdleTimeout != 300 {
			t.Fatalf("S1 rule = %+v", r)
		}
	}
	pkts := f.rec.Packets()
	if len(pkts) != 1 || pkts[0].Switch != 3 || pkts[0].Port != 2 {
		t.Fatalf("packet-out = %+v, want S3 port 2", pkts)
	}

	// Same flow again modifies the group in place.
	f.handle(t, ipIn(t, 3, 1, macH1, macH3, ipH1, ipH3))
	groups = f.rec.Groups()
	if len(groups) != 2 || groups[1].Command != model.GroupModify || groups[1].ID != groups[0].ID {
		t.Fatalf("reinstall groups = %+v", groups)
	}
}

func TestPathRoutingNoRouteFallsBackToFlood(t *testing.T) {
	f := newFixture(t, true)
	f.ring(t)
	f.handle(t, model.SwitchJoined{Switch: 4})
	f.handle(t, arpIn(t, 4, 1, model.ARPRequest, macH3, ipH3, nil, ipH1))
	f.rec.Reset()

	f.handle(t, ipIn(t, 3, 1, macH1, macH3, ipH1, ipH3))

	if len(f.rec.Rules()) != 0 || len(f.rec.Groups()) != 0 {
		t.Fatalf("no rules expected without a route")
	}
	if pkts := f.rec.Packets(); len(pkts) != 1 || pkts[0].Port != model.PortFlood {
		t.Fatalf("packets = %+v, want flood", pkts)
	}
}

func TestDiscoveryFramesDiscarded(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)

	data, err := frames.BuildRaw(macH1, net.HardwareAddr{0x01, 0x80, 0xc2, 0, 0, 0x0e}, model.EtherTypeLLDP, make([]byte, 46))
	if err != nil {
		t.Fatalf("BuildRaw: %v", err)
	}
	f.handle(t, packetIn(t, 1, 2, data))

	if len(f.rec.Packets()) != 0 || f.learning.Table(1).IsKnown(macH1) {
		t.Fatalf("discovery frame must be discarded without learning")
	}
}

func TestTopologyInconsistencyDropped(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)
	before := f.graph.Version()

	err := f.eng.Handle(context.Background(), model.LinkAdded{Src: 1, SrcPort: 2, Dst: 3, DstPort: 4})
	if !errors.Is(err, model.ErrTopologyInconsistent) {
		t.Fatalf("err = %v, want ErrTopologyInconsistent", err)
	}
	if f.graph.Version() != before {
		t.Fatalf("inconsistent mutation changed the graph")
	}

	// Duplicate adds and unknown removals are no-ops.
	f.handle(t, model.LinkAdded{Src: 1, SrcPort: 2, Dst: 2, DstPort: 3})
	f.handle(t, model.LinkRemoved{Src: 1, SrcPort: 9, Dst: 4, DstPort: 9})
	if f.graph.Version() != before {
		t.Fatalf("idempotent events changed the graph")
	}
}

func TestLinkBeforeJoinTolerated(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, model.LinkAdded{Src: 7, SrcPort: 1, Dst: 8, DstPort: 1})
	f.handle(t, model.SwitchJoined{Switch: 7})
	f.handle(t, model.SwitchJoined{Switch: 8})

	if _, ok := f.graph.Edge(topology.SwitchNode(7), topology.SwitchNode(8)); !ok {
		t.Fatalf("link lost after late join")
	}
	if f.observer.switches != 2 {
		t.Fatalf("observer switches = %d", f.observer.switches)
	}
}

func TestSwitchLeftForgetsState(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)
	f.handle(t, arpIn(t, 3, 1, model.ARPRequest, macH1, ipH1, nil, ipH3))

	f.handle(t, model.SwitchLeft{Switch: 3})

	if _, ok := f.learning.Lookup(3); ok {
		t.Fatalf("learning table of S3 kept after leave")
	}
	if _, ok := f.graph.HostAttachment(macH1); ok {
		t.Fatalf("host attached to a departed switch")
	}
	if f.graph.HasNode(topology.SwitchNode(3)) {
		t.Fatalf("S3 still in graph")
	}
}

func TestUnknownEvent(t *testing.T) {
	f := newFixture(t, false)
	err := f.eng.Handle(context.Background(), nil)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestARPWithoutSenderMACDropped(t *testing.T) {
	f := newFixture(t, false)
	f.ring(t)

	pin := model.PacketIn{
		Switch:   3,
		InPort:   1,
		BufferID: model.NoBuffer,
		Frame: model.Frame{
			EtherType: model.EtherTypeARP,
			Src:       macH1,
			Dst:       frames.BroadcastMAC,
			ARP: &model.ARPHeader{
				Op:       model.ARPRequest,
				SenderIP: ipH1,
				TargetIP: ipH3,
			},
		},
	}
	err := f.eng.Handle(context.Background(), pin)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
	if Outcome(err) != OutcomeDropped {
		t.Fatalf("malformed frame should count as a drop")
	}
	if f.graph.HasNode(topology.NodeID{}) {
		t.Fatalf("root placeholder created by an empty sender mac")
	}
	if n := len(f.graph.Neighbors(topology.SwitchNode(3))); n != 2 {
		t.Fatalf("S3 neighbours = %d, want 2", n)
	}
	if len(f.rec.Packets()) != 0 || f.tracker.Len() != 0 {
		t.Fatalf("malformed frame changed state: packets=%d arp=%d", len(f.rec.Packets()), f.tracker.Len())
	}
}
