package rules

import (
	"math"
	"slices"

	"github.com/signalsfoundry/fabric-controller/internal/pathing"
	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/model"
)

// WeightScale is the total weight spread over the buckets of a group.
const WeightScale = 10

// Option is one outbound choice at a switch, with the cost of the path it
// belongs to.
type Option struct {
	Port model.PortNo
	Cost float64
}

// SwitchPlan lists, per inbound port, the outbound options at one switch.
type SwitchPlan struct {
	Switch  model.SwitchID
	InPorts []model.PortNo
	Options map[model.PortNo][]Option
}

// BuildPlan groups the outbound options of every switch on the selected
// paths by inbound port. Switches are ordered destination first so
// downstream rules are in place before upstream ones. An outbound port
// reached by several paths keeps the lowest cost.
func BuildPlan(v topology.View, paths []pathing.RankedPath, ingress, egress model.PortNo) ([]SwitchPlan, error) {
	plans := make(map[model.SwitchID]*SwitchPlan)
	var order []model.SwitchID

	for _, rp := range paths {
		ports, err := pathing.AnnotatePorts(v, rp.Path, ingress, egress)
		if err != nil {
			return nil, err
		}
		for i := len(rp.Path) - 1; i >= 0; i-- {
			n := rp.Path[i]
			pp := ports[n]
			sp, ok := plans[n.Switch]
			if !ok {
				sp = &SwitchPlan{Switch: n.Switch, Options: make(map[model.PortNo][]Option)}
				plans[n.Switch] = sp
				order = append(order, n.Switch)
			}
			opts := sp.Options[pp.In]
			if len(opts) == 0 {
				sp.InPorts = append(sp.InPorts, pp.In)
			}
			if j := slices.IndexFunc(opts, func(o Option) bool { return o.Port == pp.Out }); j >= 0 {
				opts[j].Cost = math.Min(opts[j].Cost, rp.Cost)
			} else {
				opts = append(opts, Option{Port: pp.Out, Cost: rp.Cost})
			}
			sp.Options[pp.In] = opts
		}
	}

	out := make([]SwitchPlan, 0, len(order))
	for _, sw := range order {
		sp := plans[sw]
		slices.Sort(sp.InPorts)
		out = append(out, *sp)
	}
	return out, nil
}

// TotalCost sums the costs of every selected path.
func TotalCost(paths []pathing.RankedPath) float64 {
	var sum float64
	for _, rp := range paths {
		sum += rp.Cost
	}
	return sum
}

// Weights maps option costs to bucket weights proportional to
// 1 - cost/total, where total is the summed cost of all selected paths, and
// scales them to add up to about WeightScale. A non-positive total falls back
// to the sum of costs. Every bucket gets at least 1. Equal costs get equal
// weights.
func Weights(costs []float64, total float64) []uint16 {
	n := len(costs)
	out := make([]uint16, n)
	if n == 0 {
		return out
	}

	sum := total
	if sum <= 0 {
		for _, c := range costs {
			sum += c
		}
	}

	raw := make([]float64, n)
	var rawSum float64
	for i, c := range costs {
		if sum > 0 {
			raw[i] = 1 - c/sum
		} else {
			raw[i] = 1
		}
		rawSum += raw[i]
	}

	for i := range raw {
		w := 1.0
		if rawSum > 0 {
			w = math.Round(raw[i] / rawSum * WeightScale)
		}
		if w < 1 {
			w = 1
		}
		out[i] = uint16(w)
	}
	return out
}
