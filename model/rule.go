package model

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Match selects the packets a FlowRule applies to. Zero-valued fields are
// wildcards.
type Match struct {
	InPort  PortNo
	EthType uint16
	EthSrc  net.HardwareAddr
	EthDst  net.HardwareAddr

	IPv4Src netip.Addr
	IPv4Dst netip.Addr

	// ARP sender / target protocol addresses.
	ARPSpa netip.Addr
	ARPTpa netip.Addr
}

func (m Match) String() string {
	parts := make([]string, 0, 6)
	if m.InPort != 0 {
		parts = append(parts, "in_port="+m.InPort.String())
	}
	if m.EthType != 0 {
		parts = append(parts, fmt.Sprintf("eth_type=0x%04x", m.EthType))
	}
	if len(m.EthSrc) > 0 {
		parts = append(parts, "eth_src="+m.EthSrc.String())
	}
	if len(m.EthDst) > 0 {
		parts = append(parts, "eth_dst="+m.EthDst.String())
	}
	if m.IPv4Src.IsValid() {
		parts = append(parts, "ipv4_src="+m.IPv4Src.String())
	}
	if m.IPv4Dst.IsValid() {
		parts = append(parts, "ipv4_dst="+m.IPv4Dst.String())
	}
	if m.ARPSpa.IsValid() {
		parts = append(parts, "arp_spa="+m.ARPSpa.String())
	}
	if m.ARPTpa.IsValid() {
		parts = append(parts, "arp_tpa="+m.ARPTpa.String())
	}
	return strings.Join(parts, ",")
}

// ActionKind distinguishes action variants.
type ActionKind int

const (
	ActionOutput ActionKind = iota
	ActionGroup
)

// Action is an output-to-port or apply-group instruction.
type Action struct {
	Kind    ActionKind
	Port    PortNo
	GroupID uint32
}

// Output builds an output action.
func Output(p PortNo) Action { return Action{Kind: ActionOutput, Port: p} }

// ApplyGroup builds a group action.
func ApplyGroup(id uint32) Action { return Action{Kind: ActionGroup, GroupID: id} }

func (a Action) String() string {
	if a.Kind == ActionGroup {
		return fmt.Sprintf("group:%d", a.GroupID)
	}
	return "output:" + a.Port.String()
}

// FlowRule is a persistent match/action entry pushed to a switch. Timeouts
// are in seconds.
type FlowRule struct {
	Switch      SwitchID
	Match       Match
	Actions     []Action
	IdleTimeout uint16
	HardTimeout uint16
	Priority    uint16
}

// GroupCommand is the group-mod command.
type GroupCommand int

const (
	GroupAdd GroupCommand = iota
	GroupModify
)

func (c GroupCommand) String() string {
	if c == GroupModify {
		return "modify"
	}
	return "add"
}

// Bucket is one weighted output option of a select group.
type Bucket struct {
	Weight uint16
	Port   PortNo
}

// Group is a select-type group entry.
type Group struct {
	Switch  SwitchID
	ID      uint32
	Command GroupCommand
	Buckets []Bucket
}

// PacketOut instructs a switch to emit a frame. When BufferID is NoBuffer the
// frame bytes travel in Data.
type PacketOut struct {
	Switch   SwitchID
	InPort   PortNo
	Port     PortNo
	BufferID uint32
	Data     []byte
}
