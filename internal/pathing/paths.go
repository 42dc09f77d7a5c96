// Package pathing enumerates and ranks switch-level paths over a topology
// snapshot and annotates them with the ports each switch uses.
package pathing

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/model"
)

// Defaults for Params.
const (
	DefaultReferenceBandwidth uint64 = 10_000_000
	DefaultK                         = 2
	DefaultMaxPaths                  = 64
)

// Path is an ordered list of switch nodes from source to destination. When
// both ends attach to the same switch the path has one element.
type Path []topology.NodeID

func (p Path) String() string {
	s := "["
	for i, n := range p {
		if i > 0 {
			s += " "
		}
		s += n.String()
	}
	return s + "]"
}

// Params tunes selection.
type Params struct {
	// K is how many of the cheapest paths to keep.
	K int
	// MaxPaths caps enumeration. Zero means unbounded.
	MaxPaths int
	// Reference is the numerator of the per-edge cost.
	Reference uint64
}

func (p Params) withDefaults() Params {
	if p.K <= 0 {
		p.K = DefaultK
	}
	if p.MaxPaths < 0 {
		p.MaxPaths = 0
	}
	if p.Reference == 0 {
		p.Reference = DefaultReferenceBandwidth
	}
	return p
}

// EnumerateSimplePaths returns cycle-free paths from src to dst by depth
// first search, visiting neighbours in stable order. Hosts are never used as
// transit. Enumeration stops after maxPaths paths when maxPaths > 0.
func EnumerateSimplePaths(v topology.View, src, dst topology.NodeID, maxPaths int) []Path {
	if !v.HasNode(src) || !v.HasNode(dst) {
		return nil
	}
	if src == dst {
		return []Path{{src}}
	}

	var out []Path
	onPath := map[topology.NodeID]bool{src: true}
	current := Path{src}

	var walk func(n topology.NodeID) bool
	walk = func(n topology.NodeID) bool {
		for _, next := range v.Neighbors(n) {
			if onPath[next] {
				continue
			}
			if next == dst {
				out = append(out, slices.Clone(append(current, next)))
				if maxPaths > 0 && len(out) >= maxPaths {
					return false
				}
				continue
			}
			if next.IsHost() {
				continue
			}
			onPath[next] = true
			current = append(current, next)
			more := walk(next)
			current = current[:len(current)-1]
			delete(onPath, next)
			if !more {
				return false
			}
		}
		return true
	}
	walk(src)
	return out
}

// EdgeCost is reference / min(bw(a->b), bw(b->a)).
func EdgeCost(v topology.View, a, b topology.NodeID, reference uint64) (float64, error) {
	fwd, ok := v.Edge(a, b)
	if !ok {
		return 0, fmt.Errorf("%w: no edge %s -> %s", model.ErrTopologyInconsistent, a, b)
	}
	rev, ok := v.Edge(b, a)
	if !ok {
		return 0, fmt.Errorf("%w: no edge %s -> %s", model.ErrTopologyInconsistent, b, a)
	}
	bw := min(fwd.Bandwidth, rev.Bandwidth)
	if bw == 0 {
		return 0, fmt.Errorf("%w: zero bandwidth on %s <-> %s", model.ErrTopologyInconsistent, a, b)
	}
	if reference == 0 {
		reference = DefaultReferenceBandwidth
	}
	return float64(reference) / float64(bw), nil
}

// Cost sums the edge costs along p. A single-node path costs 0.
func Cost(v topology.View, p Path, reference uint64) (float64, error) {
	var total float64
	for i := 0; i+1 < len(p); i++ {
		c, err := EdgeCost(v, p[i], p[i+1], reference)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// RankedPath is a path with its cost.
type RankedPath struct {
	Path Path    `json:"path"`
	Cost float64 `json:"cost"`
}

// SelectPaths returns up to K cheapest simple paths in ascending cost. Ties
// keep the shorter path first, then enumeration order. Fewer than K paths is
// not an error; none is model.ErrNoRoute.
func SelectPaths(v topology.View, src, dst topology.NodeID, params Params) ([]RankedPath, error) {
	params = params.withDefaults()

	paths := EnumerateSimplePaths(v, src, dst, params.MaxPaths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrNoRoute, src, dst)
	}

	ranked := make([]RankedPath, 0, len(paths))
	for _, p := range paths {
		c, err := Cost(v, p, params.Reference)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, RankedPath{Path: p, Cost: c})
	}
	slices.SortStableFunc(ranked, func(a, b RankedPath) int {
		if c := cmp.Compare(a.Cost, b.Cost); c != 0 {
			return c
		}
		return cmp.Compare(len(a.Path), len(b.Path))
	})
	if len(ranked) > params.K {
		ranked = ranked[:params.K]
	}
	return ranked, nil
}

// PortPair is the inbound and outbound port of one switch on a path.
type PortPair struct {
	In  model.PortNo `json:"in"`
	Out model.PortNo `json:"out"`
}

// AnnotatePorts derives, for each switch on p, the port traffic enters on
// and the port it leaves by. The first switch enters on ingress and the last
// leaves on egress.
func AnnotatePorts(v topology.View, p Path, ingress, egress model.PortNo) (map[topology.NodeID]PortPair, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty path", model.ErrNoRoute)
	}
	out := make(map[topology.NodeID]PortPair, len(p))
	in := ingress
	for i := 0; i+1 < len(p); i++ {
		a, b := p[i], p[i+1]
		fwd, ok := v.Edge(a, b)
		if !ok {
			return nil, fmt.Errorf("%w: no edge %s -> %s", model.ErrTopologyInconsistent, a, b)
		}
		rev, ok := v.Edge(b, a)
		if !ok {
			return nil, fmt.Errorf("%w: no edge %s -> %s", model.ErrTopologyInconsistent, b, a)
		}
		out[a] = PortPair{In: in, Out: fwd.Port}
		in = rev.Port
	}
	out[p[len(p)-1]] = PortPair{In: in, Out: egress}
	return out, nil
}
