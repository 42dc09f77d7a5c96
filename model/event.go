package model

import "time"

// Event is one of the southbound notifications the engine consumes:
// SwitchJoined, SwitchLeft, LinkAdded, LinkRemoved, PacketIn or
// PortStatsReply. The set is closed; Kind() is used for metrics labels and
// bus subjects.
type Event interface {
	Kind() EventKind
	// Origin is the switch whose session delivered the event. Events from one
	// origin are processed in order.
	Origin() SwitchID
	isEvent()
}

// EventKind names an event variant.
type EventKind string

const (
	KindSwitchJoined   EventKind = "switch_joined"
	KindSwitchLeft     EventKind = "switch_left"
	KindLinkAdded      EventKind = "link_added"
	KindLinkRemoved    EventKind = "link_removed"
	KindPacketIn       EventKind = "packet_in"
	KindPortStatsReply EventKind = "port_stats_reply"
)

// SwitchJoined is delivered when a switch session comes up.
type SwitchJoined struct {
	Switch SwitchID
}

// SwitchLeft is delivered when a switch session goes down.
type SwitchLeft struct {
	Switch SwitchID
}

// LinkAdded reports an inter-switch link. Both directions are derived from a
// single event.
type LinkAdded struct {
	Src     SwitchID
	SrcPort PortNo
	Dst     SwitchID
	DstPort PortNo
}

// LinkRemoved reports that an inter-switch link disappeared.
type LinkRemoved struct {
	Src     SwitchID
	SrcPort PortNo
	Dst     SwitchID
	DstPort PortNo
}

// PacketIn is a frame punted to the controller. Frame is the decoded view of
// Data produced by the transport; the engine never inspects Data itself.
type PacketIn struct {
	Switch   SwitchID
	InPort   PortNo
	BufferID uint32
	Data     []byte
	Frame    Frame
}

// PortStatsReply carries per-port counters for one switch.
type PortStatsReply struct {
	Switch     SwitchID
	Ports      []PortCounters
	ReceivedAt time.Time
}

func (SwitchJoined) Kind() EventKind   { return KindSwitchJoined }
func (SwitchLeft) Kind() EventKind     { return KindSwitchLeft }
func (LinkAdded) Kind() EventKind      { return KindLinkAdded }
func (LinkRemoved) Kind() EventKind    { return KindLinkRemoved }
func (PacketIn) Kind() EventKind       { return KindPacketIn }
func (PortStatsReply) Kind() EventKind { return KindPortStatsReply }

func (e SwitchJoined) Origin() SwitchID   { return e.Switch }
func (e SwitchLeft) Origin() SwitchID     { return e.Switch }
func (e LinkAdded) Origin() SwitchID      { return e.Src }
func (e LinkRemoved) Origin() SwitchID    { return e.Src }
func (e PacketIn) Origin() SwitchID       { return e.Switch }
func (e PortStatsReply) Origin() SwitchID { return e.Switch }

func (SwitchJoined) isEvent()   {}
func (SwitchLeft) isEvent()     {}
func (LinkAdded) isEvent()      {}
func (LinkRemoved) isEvent()    {}
func (PacketIn) isEvent()       {}
func (PortStatsReply) isEvent() {}

// PortCounters is one row of a port statistics reply.
type PortCounters struct {
	Port      PortNo
	RxPackets uint64
	TxPackets uint64
	RxBytes   uint64
	TxBytes   uint64
	RxDropped uint64
	TxDropped uint64
	RxErrors  uint64
	TxErrors  uint64
}
