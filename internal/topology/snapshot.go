package topology

import (
	"fmt"
	"net"
	"slices"

	"github.com/signalsfoundry/fabric-controller/model"
)

// Snapshot is an immutable copy of the graph at one version. Path searches
// run on snapshots so they never hold the graph lock.
type Snapshot struct {
	version uint64
	adj     map[NodeID]map[NodeID]Edge
	hosts   map[string]Attachment
}

// Snapshot returns the current state. Repeated calls between mutations share
// one copy.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	if s := g.snap; s != nil {
		g.mu.RUnlock()
		return s
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snap != nil {
		return g.snap
	}
	s := &Snapshot{
		version: g.version,
		adj:     make(map[NodeID]map[NodeID]Edge, len(g.adj)),
		hosts:   make(map[string]Attachment, len(g.hosts)),
	}
	for n, out := range g.adj {
		cp := make(map[NodeID]Edge, len(out))
		for to, e := range out {
			cp[to] = e
		}
		s.adj[n] = cp
	}
	for k, v := range g.hosts {
		s.hosts[k] = v
	}
	g.snap = s
	return s
}

// Version is the graph version the snapshot was taken at.
func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) Edge(from, to NodeID) (Edge, bool) {
	e, ok := s.adj[from][to]
	return e, ok
}

func (s *Snapshot) Neighbors(n NodeID) []NodeID { return sortedNeighbors(s.adj[n]) }

func (s *Snapshot) HasNode(n NodeID) bool {
	_, ok := s.adj[n]
	return ok
}

// HostAttachment returns where mac is attached.
func (s *Snapshot) HostAttachment(mac net.HardwareAddr) (Attachment, bool) {
	at, ok := s.hosts[HostNode(mac).Host]
	return at, ok
}

// Link is one directed edge, for listings.
type Link struct {
	From      NodeID       `json:"from"`
	To        NodeID       `json:"to"`
	Port      model.PortNo `json:"port"`
	Bandwidth uint64       `json:"bandwidth"`
}

// Switches returns the switch ids, ascending.
func (s *Snapshot) Switches() []model.SwitchID {
	var out []model.SwitchID
	for n := range s.adj {
		if !n.IsHost() {
			out = append(out, n.Switch)
		}
	}
	slices.Sort(out)
	return out
}

// Links returns every switch-to-switch directed edge in stable order.
func (s *Snapshot) Links() []Link {
	var out []Link
	for from, edges := range s.adj {
		if from.IsHost() {
			continue
		}
		for to, e := range edges {
			if to.IsHost() {
				continue
			}
			out = append(out, Link{From: from, To: to, Port: e.Port, Bandwidth: e.Bandwidth})
		}
	}
	slices.SortFunc(out, func(a, b Link) int {
		if c := a.From.Compare(b.From); c != 0 {
			return c
		}
		return a.To.Compare(b.To)
	})
	return out
}

// Hosts returns every host attachment ordered by MAC.
func (s *Snapshot) Hosts() []Attachment {
	out := make([]Attachment, 0, len(s.hosts))
	for _, at := range s.hosts {
		out = append(out, at)
	}
	slices.SortFunc(out, func(a, b Attachment) int {
		switch {
		case a.MAC < b.MAC:
			return -1
		case a.MAC > b.MAC:
			return 1
		}
		return 0
	})
	return out
}

// ShortestPath returns a minimum-hop path from src to dst, or
// model.ErrNoRoute. Hosts are endpoints only, never transit.
func ShortestPath(v View, src, dst NodeID) ([]NodeID, error) {
	if !v.HasNode(src) || !v.HasNode(dst) {
		return nil, fmt.Errorf("%w: %s -> %s: unknown node", model.ErrNoRoute, src, dst)
	}
	if src == dst {
		return []NodeID{src}, nil
	}

	queue := []NodeID{src}
	visited := map[NodeID]bool{src: true}
	prev := make(map[NodeID]NodeID)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == dst {
			path := []NodeID{dst}
			for n := dst; n != src; {
				n = prev[n]
				path = append(path, n)
			}
			slices.Reverse(path)
			return path, nil
		}
		if current.IsHost() && current != src {
			continue
		}

		for _, next := range v.Neighbors(current) {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = current
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", model.ErrNoRoute, src, dst)
}

// NextHop returns the egress port on sw along a shortest path to the host.
func (s *Snapshot) NextHop(sw model.SwitchID, mac net.HardwareAddr) (model.PortNo, error) {
	if _, ok := s.HostAttachment(mac); !ok {
		return 0, fmt.Errorf("%w: %s not attached", model.ErrUnknownHost, mac)
	}
	from := SwitchNode(sw)
	path, err := ShortestPath(s, from, HostNode(mac))
	if err != nil {
		return 0, err
	}
	e, ok := s.Edge(from, path[1])
	if !ok {
		return 0, fmt.Errorf("%w: missing edge %s -> %s", model.ErrTopologyInconsistent, from, path[1])
	}
	return e.Port, nil
}

// ShortestPath runs ShortestPath on the current snapshot.
func (g *Graph) ShortestPath(src, dst NodeID) ([]NodeID, error) {
	return ShortestPath(g.Snapshot(), src, dst)
}

// NextHop runs NextHop on the current snapshot.
func (g *Graph) NextHop(sw model.SwitchID, mac net.HardwareAddr) (model.PortNo, error) {
	return g.Snapshot().NextHop(sw, mac)
}
