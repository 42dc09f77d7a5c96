// Package frames decodes raw Ethernet frames delivered in packet-in messages
// into model.Frame, and builds frames for packet-out, replay and tests.
package frames

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/signalsfoundry/fabric-controller/model"
)

// ErrTruncated is returned when the buffer is too short to hold an Ethernet
// header.
var ErrTruncated = errors.New("truncated ethernet frame")

// ErrMalformedARP is returned for ARP payloads that are not Ethernet/IPv4.
var ErrMalformedARP = errors.New("malformed arp payload")

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Decode parses data as an Ethernet frame. Unknown EtherTypes are not an
// error: the returned frame carries only the L2 fields. A malformed ARP or
// IPv4 payload is reported as an error.
func Decode(data []byte) (model.Frame, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return model.Frame{}, ErrTruncated
	}
	eth := ethLayer.(*layers.Ethernet)

	frame := model.Frame{
		EtherType: uint16(eth.EthernetType),
		Src:       cloneMAC(eth.SrcMAC),
		Dst:       cloneMAC(eth.DstMAC),
	}

	switch frame.EtherType {
	case model.EtherTypeARP:
		l := packet.Layer(layers.LayerTypeARP)
		if l == nil {
			return frame, fmt.Errorf("decode arp: %w", decodeErr(packet))
		}
		a := l.(*layers.ARP)
		if a.HwAddressSize != 6 || len(a.SourceHwAddress) != 6 || len(a.DstHwAddress) != 6 {
			return frame, fmt.Errorf("%w: hardware address length %d", ErrMalformedARP, a.HwAddressSize)
		}
		hdr := &model.ARPHeader{
			Op:        model.ARPOp(a.Operation),
			SenderMAC: cloneMAC(a.SourceHwAddress),
			TargetMAC: cloneMAC(a.DstHwAddress),
		}
		var ok bool
		if hdr.SenderIP, ok = netip.AddrFromSlice(a.SourceProtAddress); !ok {
			return frame, fmt.Errorf("decode arp: bad sender address length %d", len(a.SourceProtAddress))
		}
		if hdr.TargetIP, ok = netip.AddrFromSlice(a.DstProtAddress); !ok {
			return frame, fmt.Errorf("decode arp: bad target address length %d", len(a.DstProtAddress))
		}
		hdr.SenderIP = hdr.SenderIP.Unmap()
		hdr.TargetIP = hdr.TargetIP.Unmap()
		frame.ARP = hdr

	case model.EtherTypeIPv4:
		l := packet.Layer(layers.LayerTypeIPv4)
		if l == nil {
			return frame, fmt.Errorf("decode ipv4: %w", decodeErr(packet))
		}
		ip := l.(*layers.IPv4)
		src, _ := netip.AddrFromSlice(ip.SrcIP.To4())
		dst, _ := netip.AddrFromSlice(ip.DstIP.To4())
		hdr := &model.IPv4Header{
			Src:      src,
			Dst:      dst,
			Protocol: uint8(ip.Protocol),
		}
		if l := packet.Layer(layers.LayerTypeTCP); l != nil {
			tcp := l.(*layers.TCP)
			hdr.SrcPort = uint16(tcp.SrcPort)
			hdr.DstPort = uint16(tcp.DstPort)
		} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
			udp := l.(*layers.UDP)
			hdr.SrcPort = uint16(udp.SrcPort)
			hdr.DstPort = uint16(udp.DstPort)
		}
		frame.IPv4 = hdr
	}

	return frame, nil
}

func decodeErr(packet gopacket.Packet) error {
	if fail := packet.ErrorLayer(); fail != nil {
		return fail.Error()
	}
	return errors.New("layer missing")
}

func cloneMAC(mac net.HardwareAddr) net.HardwareAddr {
	if mac == nil {
		return nil
	}
	out := make(net.HardwareAddr, len(mac))
	copy(out, mac)
	return out
}
