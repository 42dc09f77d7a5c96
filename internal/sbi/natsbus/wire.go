package natsbus

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/fabric-controller/internal/sbi/frames"
	"github.com/signalsfoundry/fabric-controller/model"
)

// EventEnvelope is the JSON body of a message on <prefix>.event.<kind>. The
// switch agent publishes one per southbound notification; fields unused by a
// kind are omitted.
type EventEnvelope struct {
	Kind     model.EventKind `json:"kind"`
	Switch   uint64          `json:"dpid"`
	Port     uint32          `json:"port,omitempty"`
	Peer     uint64          `json:"peer_dpid,omitempty"`
	PeerPort uint32          `json:"peer_port,omitempty"`
	BufferID *uint32         `json:"buffer_id,omitempty"`
	Data     []byte          `json:"data,omitempty"`
	Ports    []PortCounters  `json:"ports,omitempty"`
	At       time.Time       `json:"at"`
}

// PortCounters is the wire form of model.PortCounters.
type PortCounters struct {
	Port      uint32 `json:"port"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxDropped uint64 `json:"rx_dropped"`
	TxDropped uint64 `json:"tx_dropped"`
	RxErrors  uint64 `json:"rx_errors"`
	TxErrors  uint64 `json:"tx_errors"`
}

// Command kinds.
const (
	CommandFlowMod      = "flow_mod"
	CommandGroupMod     = "group_mod"
	CommandPacketOut    = "packet_out"
	CommandStatsRequest = "port_stats_request"
)

// CommandEnvelope is the JSON body of a message on <prefix>.cmd.<dpid>.
type CommandEnvelope struct {
	ID     string     `json:"id"`
	Kind   string     `json:"kind"`
	Switch uint64     `json:"dpid"`
	Flow   *FlowMod   `json:"flow,omitempty"`
	Group  *GroupMod  `json:"group,omitempty"`
	Packet *PacketOut `json:"packet,omitempty"`
	SentAt time.Time  `json:"sent_at"`
}

// Match is the wire form of model.Match. Empty fields are wildcards.
type Match struct {
	InPort  uint32 `json:"in_port,omitempty"`
	EthType uint16 `json:"eth_type,omitempty"`
	EthSrc  string `json:"eth_src,omitempty"`
	EthDst  string `json:"eth_dst,omitempty"`
	IPv4Src string `json:"ipv4_src,omitempty"`
	IPv4Dst string `json:"ipv4_dst,omitempty"`
	ARPSpa  string `json:"arp_spa,omitempty"`
	ARPTpa  string `json:"arp_tpa,omitempty"`
}

// Action is either an output port or a group id.
type Action struct {
	Output *uint32 `json:"output,omitempty"`
	Group  *uint32 `json:"group,omitempty"`
}

// FlowMod adds or replaces a flow entry.
type FlowMod struct {
	Match       Match    `json:"match"`
	Actions     []Action `json:"actions"`
	IdleTimeout uint16   `json:"idle_timeout"`
	HardTimeout uint16   `json:"hard_timeout"`
	Priority    uint16   `json:"priority"`
}

// Bucket is one weighted output of a select group.
type Bucket struct {
	Weight uint16 `json:"weight"`
	Port   uint32 `json:"port"`
}

// GroupMod adds or modifies a select group.
type GroupMod struct {
	Command string   `json:"command"`
	GroupID uint32   `json:"group_id"`
	Buckets []Bucket `json:"buckets"`
}

// PacketOut emits a frame.
type PacketOut struct {
	InPort   uint32 `json:"in_port"`
	Port     uint32 `json:"port"`
	BufferID uint32 `json:"buffer_id"`
	Data     []byte `json:"data,omitempty"`
}

// DecodeEvent turns a wire envelope into an engine event. Packet-in frames
// are decoded here so the engine only sees typed fields.
func DecodeEvent(body []byte, now time.Time) (model.Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	sw := model.SwitchID(env.Switch)

	switch env.Kind {
	case model.KindSwitchJoined:
		return model.SwitchJoined{Switch: sw}, nil
	case model.KindSwitchLeft:
		return model.SwitchLeft{Switch: sw}, nil
	case model.KindLinkAdded:
		return model.LinkAdded{Src: sw, SrcPort: model.PortNo(env.Port), Dst: model.SwitchID(env.Peer), DstPort: model.PortNo(env.PeerPort)}, nil
	case model.KindLinkRemoved:
		return model.LinkRemoved{Src: sw, SrcPort: model.PortNo(env.Port), Dst: model.SwitchID(env.Peer), DstPort: model.PortNo(env.PeerPort)}, nil
	case model.KindPacketIn:
		frame, err := frames.Decode(env.Data)
		if err != nil {
			return nil, fmt.Errorf("packet-in from switch %s: %w", sw, err)
		}
		buffer := model.NoBuffer
		if env.BufferID != nil {
			buffer = *env.BufferID
		}
		return model.PacketIn{Switch: sw, InPort: model.PortNo(env.Port), BufferID: buffer, Data: env.Data, Frame: frame}, nil
	case model.KindPortStatsReply:
		at := env.At
		if at.IsZero() {
			at = now
		}
		ports := make([]model.PortCounters, len(env.Ports))
		for i, p := range env.Ports {
			ports[i] = model.PortCounters{
				Port:      model.PortNo(p.Port),
				RxPackets: p.RxPackets,
				TxPackets: p.TxPackets,
				RxBytes:   p.RxBytes,
				TxBytes:   p.TxBytes,
				RxDropped: p.RxDropped,
				TxDropped: p.TxDropped,
				RxErrors:  p.RxErrors,
				TxErrors:  p.TxErrors,
			}
		}
		return model.PortStatsReply{Switch: sw, Ports: ports, ReceivedAt: at}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}

// EncodeEvent is the inverse of DecodeEvent. Switch agents and the replay
// tool use it to publish events.
func EncodeEvent(ev model.Event) ([]byte, error) {
	env := EventEnvelope{Kind: ev.Kind(), Switch: uint64(ev.Origin())}
	switch ev := ev.(type) {
	case model.SwitchJoined, model.SwitchLeft:
	case model.LinkAdded:
		env.Port, env.Peer, env.PeerPort = uint32(ev.SrcPort), uint64(ev.Dst), uint32(ev.DstPort)
	case model.LinkRemoved:
		env.Port, env.Peer, env.PeerPort = uint32(ev.SrcPort), uint64(ev.Dst), uint32(ev.DstPort)
	case model.PacketIn:
		buffer := ev.BufferID
		env.Port, env.BufferID, env.Data = uint32(ev.InPort), &buffer, ev.Data
	case model.PortStatsReply:
		env.At = ev.ReceivedAt
		env.Ports = make([]PortCounters, len(ev.Ports))
		for i, p := range ev.Ports {
			env.Ports[i] = PortCounters{
				Port:      uint32(p.Port),
				RxPackets: p.RxPackets,
				TxPackets: p.TxPackets,
				RxBytes:   p.RxBytes,
				TxBytes:   p.TxBytes,
				RxDropped: p.RxDropped,
				TxDropped: p.TxDropped,
				RxErrors:  p.RxErrors,
				TxErrors:  p.TxErrors,
			}
		}
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
	return json.Marshal(env)
}

func newCommand(kind string, sw model.SwitchID, now time.Time) CommandEnvelope {
	return CommandEnvelope{ID: uuid.NewString(), Kind: kind, Switch: uint64(sw), SentAt: now}
}

func flowMod(r model.FlowRule) *FlowMod {
	m := r.Match
	out := &FlowMod{
		Match: Match{
			InPort:  uint32(m.InPort),
			EthType: m.EthType,
			EthSrc:  macString(m.EthSrc),
			EthDst:  macString(m.EthDst),
			IPv4Src: addrString(m.IPv4Src),
			IPv4Dst: addrString(m.IPv4Dst),
			ARPSpa:  addrString(m.ARPSpa),
			ARPTpa:  addrString(m.ARPTpa),
		},
		Actions:     make([]Action, len(r.Actions)),
		IdleTimeout: r.IdleTimeout,
		HardTimeout: r.HardTimeout,
		Priority:    r.Priority,
	}
	for i, a := range r.Actions {
		if a.Kind == model.ActionGroup {
			id := a.GroupID
			out.Actions[i] = Action{Group: &id}
		} else {
			port := uint32(a.Port)
			out.Actions[i] = Action{Output: &port}
		}
	}
	return out
}

func groupMod(g model.Group) *GroupMod {
	out := &GroupMod{Command: g.Command.String(), GroupID: g.ID, Buckets: make([]Bucket, len(g.Buckets))}
	for i, b := range g.Buckets {
		out.Buckets[i] = Bucket{Weight: b.Weight, Port: uint32(b.Port)}
	}
	return out
}

func macString(mac net.HardwareAddr) string {
	if len(mac) == 0 {
		return ""
	}
	return mac.String()
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
