package controller

import (
	"context"
	"errors"

	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/rules"
	"github.com/signalsfoundry/fabric-controller/model"
)

// handleData learns the source and forwards the frame: out of a learned
// port when this switch knows the destination, over resolved paths when
// path routing is on and the destination is attached somewhere in the
// fabric, and by flooding otherwise.
func (e *Engine) handleData(ctx context.Context, pin model.PacketIn) error {
	f := pin.Frame
	if len(f.Src) != 6 {
		return nil
	}
	tbl := e.learning.Table(pin.Switch)

	lastMile := !e.graph.IsInterSwitchPort(pin.Switch, pin.InPort)
	tbl.RecordObservation(f.Src, pin.InPort, lastMile)
	if f.IPv4 != nil {
		if err := tbl.RecordIP(f.Src, f.IPv4.Src); err != nil {
			return err
		}
	}
	if lastMile {
		e.attach(ctx, f.Src, pin.Switch, pin.InPort)
	}

	if f.IsBroadcast() {
		return e.installer.Flood(ctx, pin)
	}

	if tbl.IsKnown(f.Dst) {
		return e.forwardL2(ctx, pin)
	}

	if e.pathRouting && f.IPv4 != nil {
		handled, err := e.forwardOverPaths(ctx, pin)
		if handled {
			return err
		}
	}
	return e.installer.Flood(ctx, pin)
}

func (e *Engine) forwardL2(ctx context.Context, pin model.PacketIn) error {
	f := pin.Frame
	tbl := e.learning.Table(pin.Switch)

	port, err := tbl.SelectEgressPort(f.Dst, pin.InPort)
	if errors.Is(err, model.ErrNoRoute) {
		return e.installer.Flood(ctx, pin)
	}
	if err != nil {
		return err
	}
	lastMile, err := tbl.IsLastMile(f.Dst)
	if err != nil {
		return err
	}

	emitErr := e.installer.Forward(ctx, pin, port)
	ruleErr := e.installer.InstallL2(ctx, pin.Switch, pin.InPort, f.Dst, port, lastMile)
	return errors.Join(emitErr, ruleErr)
}

// forwardOverPaths installs rules along the cheapest paths from this switch
// to the destination's attachment and sends the frame along the first hop.
// It reports false when the caller should fall back to flooding.
func (e *Engine) forwardOverPaths(ctx context.Context, pin model.PacketIn) (bool, error) {
	f := pin.Frame
	at, ok := e.graph.HostAttachment(f.Dst)
	if !ok {
		return false, nil
	}

	res, err := e.resolver.Resolve(ctx, pin.Switch, at.Switch)
	if errors.Is(err, model.ErrNoRoute) {
		e.log.Debug(ctx, "no route, flooding",
			logging.Switch(pin.Switch),
			logging.Uint64("dst_dpid", uint64(at.Switch)),
		)
		return false, nil
	}
	if err != nil {
		return true, err
	}

	rep, installErr := e.installer.InstallPaths(ctx, res.Snapshot, res.Paths, rules.PathRequest{
		SrcIP:    f.IPv4.Src,
		DstIP:    f.IPv4.Dst,
		Ingress:  pin.InPort,
		Egress:   at.Port,
		LastMile: true,
	})
	out, ok := rep.FirstHops[pin.Switch]
	if !ok {
		return true, installErr
	}
	return true, errors.Join(installErr, e.installer.Forward(ctx, pin, out))
}
