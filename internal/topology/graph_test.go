package topology

import (
	"errors"
	"net"
	"slices"
	"sync"
	"testing"

	"github.com/signalsfoundry/fabric-controller/model"
)

var (
	macH1 = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	macH3 = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x03}
)

// ring builds S1-S2-S3 with S1:2-S2:2, S2:3-S3:2, S3:3-S1:3.
func ring(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	g := NewGraph(opts...)
	for _, l := range [][4]uint64{{1, 2, 2, 2}, {2, 3, 3, 2}, {3, 3, 1, 3}} {
		if err := g.AddLink(model.SwitchID(l[0]), model.PortNo(l[1]), model.SwitchID(l[2]), model.PortNo(l[3])); err != nil {
			t.Fatalf("AddLink %v: %v", l, err)
		}
	}
	return g
}

func TestAddLinkStoresBothDirections(t *testing.T) {
	g := NewGraph(WithBandwidth(func(sw model.SwitchID, p model.PortNo) uint64 {
		if sw == 1 {
			return 5_000_000
		}
		return DefaultBandwidth
	}))
	if err := g.AddLink(1, 2, 2, 7); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	fwd, ok := g.Edge(SwitchNode(1), SwitchNode(2))
	if !ok || fwd.Port != 2 || fwd.Bandwidth != 5_000_000 {
		t.Fatalf("forward edge = %+v, %v", fwd, ok)
	}
	rev, ok := g.Edge(SwitchNode(2), SwitchNode(1))
	if !ok || rev.Port != 7 || rev.Bandwidth != DefaultBandwidth {
		t.Fatalf("reverse edge = %+v, %v", rev, ok)
	}
	if !g.IsInterSwitchPort(1, 2) || !g.IsInterSwitchPort(2, 7) {
		t.Fatalf("link ports should be inter-switch")
	}
}

func TestMutationsAreIdempotent(t *testing.T) {
	g := NewGraph()
	if !g.AddSwitch(1) {
		t.Fatalf("first AddSwitch should report new")
	}
	v := g.Version()
	if g.AddSwitch(1) {
		t.Fatalf("second AddSwitch should be a no-op")
	}
	if g.Version() != v {
		t.Fatalf("no-op bumped version")
	}

	_ = g.AddLink(1, 2, 2, 2)
	v = g.Version()
	if err := g.AddLink(1, 2, 2, 2); err != nil {
		t.Fatalf("repeat AddLink: %v", err)
	}
	if g.Version() != v {
		t.Fatalf("repeat AddLink bumped version")
	}
	if err := g.RemoveLink(5, 1, 6, 1); err != nil {
		t.Fatalf("removing absent link should be a no-op, got %v", err)
	}
}

func TestLinkBeforeJoinCreatesSwitches(t *testing.T) {
	g := NewGraph()
	if err := g.AddLink(4, 1, 5, 1); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if got := g.Switches(); !slices.Equal(got, []model.SwitchID{4, 5}) {
		t.Fatalf("Switches = %v", got)
	}
	if g.AddSwitch(4) {
		t.Fatalf("join after link should be a no-op")
	}
}

func TestPortReuseIsInconsistent(t *testing.T) {
	g := NewGraph()
	_ = g.AddLink(1, 2, 2, 2)

	err := g.AddLink(1, 2, 3, 1)
	if !errors.Is(err, model.ErrTopologyInconsistent) {
		t.Fatalf("err = %v, want ErrTopologyInconsistent", err)
	}
	if _, ok := g.Edge(SwitchNode(1), SwitchNode(3)); ok {
		t.Fatalf("inconsistent mutation should be dropped")
	}

	if err := g.AddLink(1, model.PortFlood, 3, 1); !errors.Is(err, model.ErrTopologyInconsistent) {
		t.Fatalf("reserved port err = %v", err)
	}
	if err := g.RemoveLink(1, 9, 2, 2); !errors.Is(err, model.ErrTopologyInconsistent) {
		t.Fatalf("RemoveLink with wrong port err = %v", err)
	}
}

func TestRemoveSwitchDropsEdgesAndHosts(t *testing.T) {
	g := ring(t)
	if err := g.AttachHost(macH1, 3, 1); err != nil {
		t.Fatalf("AttachHost: %v", err)
	}

	g.RemoveSwitch(3)
	if g.HasNode(SwitchNode(3)) {
		t.Fatalf("switch 3 still present")
	}
	if _, ok := g.Edge(SwitchNode(2), SwitchNode(3)); ok {
		t.Fatalf("edge into removed switch remains")
	}
	if _, ok := g.HostAttachment(macH1); ok {
		t.Fatalf("host attached to removed switch remains")
	}
	if g.IsInterSwitchPort(2, 3) {
		t.Fatalf("port binding to removed switch remains")
	}
	// The freed port can now be reused.
	if err := g.AddLink(2, 3, 4, 1); err != nil {
		t.Fatalf("AddLink on freed port: %v", err)
	}
}

func TestAttachHost(t *testing.T) {
	g := ring(t)

	if err := g.AttachHost(macH1, 3, 2); !errors.Is(err, model.ErrTopologyInconsistent) {
		t.Fatalf("attach on inter-switch port err = %v", err)
	}
	if err := g.AttachHost(net.HardwareAddr{}, 3, 1); !errors.Is(err, model.ErrTopologyInconsistent) {
		t.Fatalf("empty mac: err = %v", err)
	}
	if g.HasNode(NodeID{}) {
		t.Fatalf("empty mac must not create a node")
	}
	if err := g.AttachHost(macH1, model.RootSwitch, 1); !errors.Is(err, model.ErrTopologyInconsistent) {
		t.Fatalf("attach on root err = %v", err)
	}
	if err := g.AttachHost(macH1, 3, 1); err != nil {
		t.Fatalf("AttachHost: %v", err)
	}
	at, ok := g.HostAttachment(macH1)
	if !ok || at.Switch != 3 || at.Port != 1 {
		t.Fatalf("attachment = %+v, %v", at, ok)
	}

	// Moving the host drops the old edges.
	if err := g.AttachHost(macH1, 2, 5); err != nil {
		t.Fatalf("AttachHost move: %v", err)
	}
	if _, ok := g.Edge(SwitchNode(3), HostNode(macH1)); ok {
		t.Fatalf("old attachment edge remains")
	}
}

func TestShortestPathAndNextHop(t *testing.T) {
	g := ring(t)
	_ = g.AttachHost(macH1, 3, 1)
	_ = g.AttachHost(macH3, 1, 1)

	path, err := g.ShortestPath(HostNode(macH1), HostNode(macH3))
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	want := []NodeID{HostNode(macH1), SwitchNode(3), SwitchNode(1), HostNode(macH3)}
	if !slices.Equal(path, want) {
		t.Fatalf("path = %v, want %v", path, want)
	}

	port, err := g.NextHop(2, macH3)
	if err != nil {
		t.Fatalf("NextHop: %v", err)
	}
	if port != 2 {
		t.Fatalf("next hop from S2 = %d, want 2 (towards S1)", port)
	}
	port, _ = g.NextHop(1, macH3)
	if port != 1 {
		t.Fatalf("next hop at attachment switch = %d, want host port 1", port)
	}

	if _, err := g.NextHop(1, net.HardwareAddr{0, 0, 0, 0, 0, 9}); !errors.Is(err, model.ErrUnknownHost) {
		t.Fatalf("unknown host err = %v", err)
	}
}

func TestShortestPathNoRoute(t *testing.T) {
	g := NewGraph()
	g.AddSwitch(1)
	g.AddSwitch(2)
	if _, err := g.ShortestPath(SwitchNode(1), SwitchNode(2)); !errors.Is(err, model.ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
	path, err := g.ShortestPath(SwitchNode(1), SwitchNode(1))
	if err != nil || len(path) != 1 {
		t.Fatalf("self path = %v, %v", path, err)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	g := ring(t)
	snap := g.Snapshot()
	if g.Snapshot() != snap {
		t.Fatalf("snapshot should be reused until the next mutation")
	}

	_ = g.RemoveLink(1, 2, 2, 2)
	if _, ok := snap.Edge(SwitchNode(1), SwitchNode(2)); !ok {
		t.Fatalf("old snapshot changed after mutation")
	}
	if g.Snapshot().Version() == snap.Version() {
		t.Fatalf("new snapshot should carry a new version")
	}
	if n := len(snap.Links()); n != 6 {
		t.Fatalf("Links = %d, want 6 directed edges", n)
	}
}

func TestConcurrentMutation(t *testing.T) {
	g := NewGraph()
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sw := model.SwitchID(i)
			g.AddSwitch(sw)
			_ = g.AddLink(sw, 1, sw+100, 1)
			_ = g.Snapshot()
			_, _ = g.ShortestPath(SwitchNode(sw), SwitchNode(sw+100))
		}(i)
	}
	wg.Wait()
	if got := len(g.Switches()); got != 16 {
		t.Fatalf("Switches = %d, want 16", got)
	}
}
