package model

import (
	"net"
	"net/netip"
)

// EtherType values the controller cares about.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeLLDP uint16 = 0x88cc
	EtherTypeBDDP uint16 = 0x8942
	// EtherTypeLegacyDiscovery is used by some older discovery agents.
	EtherTypeLegacyDiscovery uint16 = 0xa0f1
)

// ARPOp is the ARP operation code.
type ARPOp uint16

const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

func (op ARPOp) String() string {
	switch op {
	case ARPRequest:
		return "request"
	case ARPReply:
		return "reply"
	default:
		return "unknown"
	}
}

// ARPHeader is the decoded ARP payload of a frame.
type ARPHeader struct {
	Op        ARPOp
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
}

// IPv4Header carries the addressing fields of an IPv4 packet. Ports are zero
// for protocols other than TCP and UDP.
type IPv4Header struct {
	Src      netip.Addr
	Dst      netip.Addr
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
}

// Frame is a decoded Ethernet frame. Exactly one of ARP / IPv4 is set when the
// EtherType matches; both are nil otherwise.
type Frame struct {
	EtherType uint16
	Src       net.HardwareAddr
	Dst       net.HardwareAddr
	ARP       *ARPHeader
	IPv4      *IPv4Header
}

// IsDiscovery reports whether the frame is link-discovery control traffic.
func (f Frame) IsDiscovery() bool {
	switch f.EtherType {
	case EtherTypeLLDP, EtherTypeBDDP, EtherTypeLegacyDiscovery:
		return true
	}
	return false
}

// IsBroadcast reports whether the destination MAC is ff:ff:ff:ff:ff:ff.
func (f Frame) IsBroadcast() bool {
	if len(f.Dst) != 6 {
		return false
	}
	for _, b := range f.Dst {
		if b != 0xff {
			return false
		}
	}
	return true
}
