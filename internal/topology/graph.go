package topology

import (
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/signalsfoundry/fabric-controller/model"
)

// DefaultBandwidth applies to a port direction with no configured value.
const DefaultBandwidth uint64 = 10_000_000

// BandwidthFunc returns the capacity of the egress direction of (sw, port).
type BandwidthFunc func(sw model.SwitchID, port model.PortNo) uint64

// Option configures a Graph.
type Option func(*Graph)

// WithBandwidth sets the bandwidth lookup used when links are added.
func WithBandwidth(fn BandwidthFunc) Option {
	return func(g *Graph) {
		if fn != nil {
			g.bandwidth = fn
		}
	}
}

// Attachment is where a host connects to the fabric.
type Attachment struct {
	MAC    string         `json:"mac"`
	Switch model.SwitchID `json:"dpid"`
	Port   model.PortNo   `json:"port"`
}

// Graph is the live topology. Every mutation is idempotent: re-adding a
// present node or edge changes nothing and does not bump the version.
type Graph struct {
	bandwidth BandwidthFunc

	mu      sync.RWMutex
	version uint64
	adj     map[NodeID]map[NodeID]Edge
	// ports maps a switch port to its inter-switch neighbour.
	ports map[model.SwitchID]map[model.PortNo]model.SwitchID
	hosts map[string]Attachment
	snap  *Snapshot
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		bandwidth: func(model.SwitchID, model.PortNo) uint64 { return DefaultBandwidth },
		adj:       make(map[NodeID]map[NodeID]Edge),
		ports:     make(map[model.SwitchID]map[model.PortNo]model.SwitchID),
		hosts:     make(map[string]Attachment),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// bump must be called with g.mu held for writing.
func (g *Graph) bump() {
	g.version++
	g.snap = nil
}

func (g *Graph) addNode(n NodeID) bool {
	if _, ok := g.adj[n]; ok {
		return false
	}
	g.adj[n] = make(map[NodeID]Edge)
	return true
}

// AddSwitch adds sw. It reports whether the switch was new.
func (g *Graph) AddSwitch(sw model.SwitchID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.addNode(SwitchNode(sw)) {
		return false
	}
	g.bump()
	return true
}

// RemoveSwitch drops sw, every edge touching it and every host attached to
// it. Removing an absent switch is a no-op.
func (g *Graph) RemoveSwitch(sw model.SwitchID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := SwitchNode(sw)
	if _, ok := g.adj[n]; !ok {
		return
	}
	for peer := range g.adj[n] {
		delete(g.adj[peer], n)
		if peer.IsHost() {
			delete(g.adj, peer)
			delete(g.hosts, peer.Host)
		}
	}
	delete(g.adj, n)
	for _, peer := range g.ports[sw] {
		for p, s := range g.ports[peer] {
			if s == sw {
				delete(g.ports[peer], p)
			}
		}
	}
	delete(g.ports, sw)
	g.bump()
}

// AddLink records both directions of an inter-switch link, creating either
// switch if it has not joined yet. A port already bound to a different
// neighbour yields model.ErrTopologyInconsistent and leaves the graph as is.
func (g *Graph) AddLink(src model.SwitchID, srcPort model.PortNo, dst model.SwitchID, dstPort model.PortNo) error {
	if src == dst {
		return fmt.Errorf("%w: self link on switch %s", model.ErrTopologyInconsistent, src)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkPort(src, srcPort, dst); err != nil {
		return err
	}
	if err := g.checkPort(dst, dstPort, src); err != nil {
		return err
	}

	a, b := SwitchNode(src), SwitchNode(dst)
	changed := g.addNode(a)
	changed = g.addNode(b) || changed

	fwd := Edge{Port: srcPort, Bandwidth: g.bandwidth(src, srcPort)}
	rev := Edge{Port: dstPort, Bandwidth: g.bandwidth(dst, dstPort)}
	if old, ok := g.adj[a][b]; !ok || old != fwd {
		if ok && old.Port != srcPort {
			delete(g.ports[src], old.Port)
		}
		g.adj[a][b] = fwd
		changed = true
	}
	if old, ok := g.adj[b][a]; !ok || old != rev {
		if ok && old.Port != dstPort {
			delete(g.ports[dst], old.Port)
		}
		g.adj[b][a] = rev
		changed = true
	}
	g.bindPort(src, srcPort, dst)
	g.bindPort(dst, dstPort, src)

	// A host seen on what is now an inter-switch port was a transit sighting.
	for mac, at := range g.hosts {
		if (at.Switch == src && at.Port == srcPort) || (at.Switch == dst && at.Port == dstPort) {
			g.detachLocked(mac)
			changed = true
		}
	}

	if changed {
		g.bump()
	}
	return nil
}

func (g *Graph) checkPort(sw model.SwitchID, port model.PortNo, peer model.SwitchID) error {
	if port.IsReserved() || port == 0 {
		return fmt.Errorf("%w: invalid port %s on switch %s", model.ErrTopologyInconsistent, port, sw)
	}
	if cur, ok := g.ports[sw][port]; ok && cur != peer {
		return fmt.Errorf("%w: switch %s port %s already links to %s, not %s",
			model.ErrTopologyInconsistent, sw, port, cur, peer)
	}
	return nil
}

func (g *Graph) bindPort(sw model.SwitchID, port model.PortNo, peer model.SwitchID) {
	if g.ports[sw] == nil {
		g.ports[sw] = make(map[model.PortNo]model.SwitchID)
	}
	g.ports[sw][port] = peer
}

// RemoveLink drops both directions. An absent link is a no-op; a link present
// on different ports is inconsistent.
func (g *Graph) RemoveLink(src model.SwitchID, srcPort model.PortNo, dst model.SwitchID, dstPort model.PortNo) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, b := SwitchNode(src), SwitchNode(dst)
	fwd, okF := g.adj[a][b]
	rev, okR := g.adj[b][a]
	if !okF && !okR {
		return nil
	}
	if (okF && fwd.Port != srcPort) || (okR && rev.Port != dstPort) {
		return fmt.Errorf("%w: link %s:%s-%s:%s does not match recorded ports",
			model.ErrTopologyInconsistent, src, srcPort, dst, dstPort)
	}
	delete(g.adj[a], b)
	delete(g.adj[b], a)
	delete(g.ports[src], srcPort)
	delete(g.ports[dst], dstPort)
	g.bump()
	return nil
}

// IsInterSwitchPort reports whether port on sw leads to another switch.
func (g *Graph) IsInterSwitchPort(sw model.SwitchID, port model.PortNo) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.ports[sw][port]
	return ok
}

// AttachHost places a host at (sw, port), moving it if it was attached
// elsewhere. Attaching to an inter-switch port is inconsistent.
func (g *Graph) AttachHost(mac net.HardwareAddr, sw model.SwitchID, port model.PortNo) error {
	if sw == model.RootSwitch {
		return fmt.Errorf("%w: hosts cannot attach to the root switch", model.ErrTopologyInconsistent)
	}
	if len(mac) != 6 {
		return fmt.Errorf("%w: host mac %q is not 48-bit", model.ErrTopologyInconsistent, mac)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if peer, ok := g.ports[sw][port]; ok {
		return fmt.Errorf("%w: switch %s port %s links to switch %s", model.ErrTopologyInconsistent, sw, port, peer)
	}

	h := HostNode(mac)
	if at, ok := g.hosts[h.Host]; ok {
		if at.Switch == sw && at.Port == port {
			return nil
		}
		g.detachLocked(h.Host)
	}

	s := SwitchNode(sw)
	g.addNode(s)
	g.addNode(h)
	g.adj[h][s] = Edge{Port: 0, Bandwidth: g.bandwidth(sw, port)}
	g.adj[s][h] = Edge{Port: port, Bandwidth: g.bandwidth(sw, port)}
	g.hosts[h.Host] = Attachment{MAC: h.Host, Switch: sw, Port: port}
	g.bump()
	return nil
}

func (g *Graph) detachLocked(host string) {
	at, ok := g.hosts[host]
	if !ok {
		return
	}
	h := NodeID{Host: host}
	delete(g.adj[SwitchNode(at.Switch)], h)
	delete(g.adj, h)
	delete(g.hosts, host)
}

// HostAttachment returns where mac is attached.
func (g *Graph) HostAttachment(mac net.HardwareAddr) (Attachment, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	at, ok := g.hosts[HostNode(mac).Host]
	return at, ok
}

// Edge returns the directed edge from -> to.
func (g *Graph) Edge(from, to NodeID) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.adj[from][to]
	return e, ok
}

// Neighbors returns the targets of n's outgoing edges in stable order.
func (g *Graph) Neighbors(n NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedNeighbors(g.adj[n])
}

// HasNode reports whether n is in the graph.
func (g *Graph) HasNode(n NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.adj[n]
	return ok
}

// Version increases on every effective mutation.
func (g *Graph) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// Switches returns every switch node id, ascending.
func (g *Graph) Switches() []model.SwitchID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []model.SwitchID
	for n := range g.adj {
		if !n.IsHost() {
			out = append(out, n.Switch)
		}
	}
	slices.Sort(out)
	return out
}

func sortedNeighbors(m map[NodeID]Edge) []NodeID {
	out := make([]NodeID, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	slices.SortFunc(out, NodeID.Compare)
	return out
}
