// Package rules turns forwarding decisions into switch commands: multi-path
// flow and group entries for resolved path sets, single-output L2 entries,
// and packet emission.
package rules

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/pathing"
	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/model"
)

// Rule priorities. IPv4 path rules sit well above ARP rules so ARP entries
// can expire or be replaced without touching data traffic.
const (
	PriorityIPv4 uint16 = 32768
	PriorityARP  uint16 = 1
	PriorityL2   uint16 = 1
)

// Timeouts in seconds.
const (
	LastMileIdleTimeout uint16 = 300
	LastMileHardTimeout uint16 = 600
	TransitIdleTimeout  uint16 = 1
	TransitHardTimeout  uint16 = 3
)

// Timeouts returns (idle, hard) for a destination that is or is not
// directly attached.
func Timeouts(lastMile bool) (idle, hard uint16) {
	if lastMile {
		return LastMileIdleTimeout, LastMileHardTimeout
	}
	return TransitIdleTimeout, TransitHardTimeout
}

// Installer pushes rules and groups through a Commander.
type Installer struct {
	cmd    sbi.Commander
	groups *GroupTable
	log    logging.Logger
}

// NewInstaller creates an installer. A nil groups table gets a fresh one.
func NewInstaller(cmd sbi.Commander, groups *GroupTable, log logging.Logger) *Installer {
	if groups == nil {
		groups = NewGroupTable()
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Installer{cmd: cmd, groups: groups, log: log}
}

// Groups returns the group id table.
func (i *Installer) Groups() *GroupTable { return i.groups }

// PathRequest describes one flow to realise over a path set.
type PathRequest struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	Ingress model.PortNo // port the source host uses at the first switch
	Egress  model.PortNo // port the destination host uses at the last switch
	// LastMile selects long timeouts.
	LastMile bool
}

// Report summarises an installation.
type Report struct {
	Rules     int
	Groups    int
	Modified  int
	FirstHops map[model.SwitchID]model.PortNo
}

// InstallPaths installs IPv4 and ARP rules on every switch of paths. An
// inbound port with one outbound option gets an output rule; several options
// get a weighted select group. Command failures are collected and returned
// together after every switch was attempted.
func (i *Installer) InstallPaths(ctx context.Context, v topology.View, paths []pathing.RankedPath, req PathRequest) (Report, error) {
	rep := Report{FirstHops: make(map[model.SwitchID]model.PortNo)}
	if len(paths) == 0 {
		return rep, fmt.Errorf("%w: no paths for %s -> %s", model.ErrNoRoute, req.SrcIP, req.DstIP)
	}

	plans, err := BuildPlan(v, paths, req.Ingress, req.Egress)
	if err != nil {
		return rep, err
	}
	idle, hard := Timeouts(req.LastMile)
	total := TotalCost(paths)

	var errs []error
	for _, sp := range plans {
		for _, in := range sp.InPorts {
			opts := sp.Options[in]
			actions, err := i.actionsFor(ctx, sp.Switch, in, opts, total, req, &rep)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			ipRule := model.FlowRule{
				Switch: sp.Switch,
				Match: model.Match{
					InPort:  in,
					EthType: model.EtherTypeIPv4,
					IPv4Src: req.SrcIP,
					IPv4Dst: req.DstIP,
				},
				Actions:     actions,
				IdleTimeout: idle,
				HardTimeout: hard,
				Priority:    PriorityIPv4,
			}
			arpRule := model.FlowRule{
				Switch: sp.Switch,
				Match: model.Match{
					InPort:  in,
					EthType: model.EtherTypeARP,
					ARPSpa:  req.SrcIP,
					ARPTpa:  req.DstIP,
				},
				Actions:     actions,
				IdleTimeout: idle,
				HardTimeout: hard,
				Priority:    PriorityARP,
			}
			for _, rule := range []model.FlowRule{ipRule, arpRule} {
				if err := i.cmd.InstallRule(ctx, rule); err != nil {
					errs = append(errs, fmt.Errorf("install rule on switch %s: %w", sp.Switch, err))
					continue
				}
				rep.Rules++
			}
		}
	}

	// The cheapest path decides where the triggering packet goes next.
	first := paths[0].Path
	if ports, err := pathing.AnnotatePorts(v, first, req.Ingress, req.Egress); err == nil {
		for _, n := range first {
			rep.FirstHops[n.Switch] = ports[n].Out
		}
	}

	i.log.Debug(ctx, "paths installed",
		logging.String("src_ip", req.SrcIP.String()),
		logging.String("dst_ip", req.DstIP.String()),
		logging.Int("paths", len(paths)),
		logging.Int("rules", rep.Rules),
		logging.Int("groups", rep.Groups),
	)
	return rep, errors.Join(errs...)
}

func (i *Installer) actionsFor(ctx context.Context, sw model.SwitchID, in model.PortNo, opts []Option, total float64, req PathRequest, rep *Report) ([]model.Action, error) {
	if len(opts) == 1 {
		return []model.Action{model.Output(opts[0].Port)}, nil
	}

	key := GroupKey{Switch: sw, Src: req.SrcIP, Dst: req.DstIP, InPort: in}
	id, err := i.groups.Register(key)
	cmd := model.GroupAdd
	if errors.Is(err, model.ErrDuplicateGroup) {
		i.log.Debug(ctx, "group exists, modifying", logging.Switch(sw), logging.Err(err))
		cmd = model.GroupModify
	}

	costs := make([]float64, len(opts))
	for j, o := range opts {
		costs[j] = o.Cost
	}
	weights := Weights(costs, total)
	buckets := make([]model.Bucket, len(opts))
	for j, o := range opts {
		buckets[j] = model.Bucket{Weight: weights[j], Port: o.Port}
	}

	group := model.Group{Switch: sw, ID: id, Command: cmd, Buckets: buckets}
	if err := i.cmd.InstallOrUpdateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("install group %d on switch %s: %w", id, sw, err)
	}
	if cmd == model.GroupModify {
		rep.Modified++
	} else {
		rep.Groups++
	}
	return []model.Action{model.ApplyGroup(id)}, nil
}

// InstallL2 installs a single-output rule matching (inPort, dst).
func (i *Installer) InstallL2(ctx context.Context, sw model.SwitchID, inPort model.PortNo, dst net.HardwareAddr, out model.PortNo, lastMile bool) error {
	idle, hard := Timeouts(lastMile)
	rule := model.FlowRule{
		Switch:      sw,
		Match:       model.Match{InPort: inPort, EthDst: dst},
		Actions:     []model.Action{model.Output(out)},
		IdleTimeout: idle,
		HardTimeout: hard,
		Priority:    PriorityL2,
	}
	if err := i.cmd.InstallRule(ctx, rule); err != nil {
		return fmt.Errorf("install l2 rule on switch %s: %w", sw, err)
	}
	return nil
}

// Forward emits the packet-in's frame out of port.
func (i *Installer) Forward(ctx context.Context, pin model.PacketIn, port model.PortNo) error {
	out := model.PacketOut{
		Switch:   pin.Switch,
		InPort:   pin.InPort,
		Port:     port,
		BufferID: pin.BufferID,
	}
	if pin.BufferID == model.NoBuffer {
		out.Data = pin.Data
	}
	if err := i.cmd.EmitPacket(ctx, out); err != nil {
		return fmt.Errorf("emit packet on switch %s: %w", pin.Switch, err)
	}
	return nil
}

// Flood emits the packet-in's frame out of every port except the ingress.
func (i *Installer) Flood(ctx context.Context, pin model.PacketIn) error {
	return i.Forward(ctx, pin, model.PortFlood)
}
