package controller

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/model"
)

// handleARP runs the ARP packet-in protocol. Requests flood until every
// switch has learned the sender; replies follow the learned port back to
// the requester and are never flooded.
func (e *Engine) handleARP(ctx context.Context, pin model.PacketIn) error {
	if n := len(pin.Frame.ARP.SenderMAC); n != 6 {
		return fmt.Errorf("%w: arp sender mac length %d on switch %s", ErrMalformedFrame, n, pin.Switch)
	}
	switch pin.Frame.ARP.Op {
	case model.ARPRequest:
		return e.arpRequest(ctx, pin)
	case model.ARPReply:
		return e.arpReply(ctx, pin)
	default:
		e.log.Debug(ctx, "arp opcode ignored",
			logging.Switch(pin.Switch),
			logging.Int("op", int(pin.Frame.ARP.Op)),
		)
		return nil
	}
}

func (e *Engine) arpRequest(ctx context.Context, pin model.PacketIn) error {
	a := pin.Frame.ARP
	mac, ip := a.SenderMAC, a.SenderIP
	tbl := e.learning.Table(pin.Switch)

	newInfo := e.tracker.Observe(mac, ip)
	e.observer.SetARPEntries(e.tracker.Len())

	seen := tbl.IsKnown(mac)
	if seen {
		known, err := tbl.IsIPKnown(mac, ip)
		if err != nil {
			return err
		}
		seen = known
	}

	if !seen {
		tbl.RecordObservation(mac, pin.InPort, newInfo)
		if err := tbl.RecordIP(mac, ip); err != nil {
			return err
		}
		if newInfo {
			e.attach(ctx, mac, pin.Switch, pin.InPort)
		}
		e.log.Debug(ctx, "arp request flooded",
			logging.Switch(pin.Switch),
			logging.InPort(pin.InPort),
			logging.MAC("src_mac", mac),
			logging.Bool("new_info", newInfo),
		)
		return e.installer.Flood(ctx, pin)
	}

	lastMile, err := tbl.IsLastMile(mac)
	if err != nil {
		return err
	}
	if !lastMile {
		// Possibly reachable over another path: learn, do not re-flood.
		tbl.RecordObservation(mac, pin.InPort, false)
		return tbl.RecordIP(mac, ip)
	}
	e.log.Debug(ctx, "arp request suppressed",
		logging.Switch(pin.Switch),
		logging.InPort(pin.InPort),
		logging.MAC("src_mac", mac),
	)
	return nil
}

func (e *Engine) arpReply(ctx context.Context, pin model.PacketIn) error {
	a := pin.Frame.ARP
	mac, ip := a.SenderMAC, a.SenderIP
	tbl := e.learning.Table(pin.Switch)

	newInfo := e.tracker.Observe(mac, ip)
	e.observer.SetARPEntries(e.tracker.Len())

	tbl.RecordObservation(mac, pin.InPort, newInfo)
	if err := tbl.RecordIP(mac, ip); err != nil {
		return err
	}
	if newInfo {
		e.attach(ctx, mac, pin.Switch, pin.InPort)
	}

	target := pin.Frame.Dst
	if len(a.TargetMAC) == 6 && !isZeroMAC(a.TargetMAC) {
		target = a.TargetMAC
	}
	if !tbl.IsKnown(target) {
		return fmt.Errorf("%w: arp reply for %s on switch %s", model.ErrUnknownHost, target, pin.Switch)
	}
	port, err := tbl.SelectEgressPort(target, pin.InPort)
	if err != nil {
		return err
	}
	return e.installer.Forward(ctx, pin, port)
}

func isZeroMAC(mac []byte) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}
