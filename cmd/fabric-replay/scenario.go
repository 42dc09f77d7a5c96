package main

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/fabric-controller/internal/config"
	"github.com/signalsfoundry/fabric-controller/internal/sbi/frames"
	"github.com/signalsfoundry/fabric-controller/model"
)

// Scenario is a scripted sequence of southbound events replayed against the
// engine with a recording commander and a manual clock.
type Scenario struct {
	PathRouting   *bool                  `yaml:"path_routing"`
	Policy        string                 `yaml:"policy"`
	PathCount     int                    `yaml:"path_count"`
	StatsInterval time.Duration          `yaml:"stats_interval"`
	Bandwidth     config.BandwidthConfig `yaml:"bandwidth"`
	Steps         []Step                 `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Join    string        `yaml:"join"`
	Leave   string        `yaml:"leave"`
	Link    *LinkStep     `yaml:"link"`
	Unlink  *LinkStep     `yaml:"unlink"`
	Packet  *PacketStep   `yaml:"packet"`
	Stats   *StatsStep    `yaml:"stats"`
	Advance time.Duration `yaml:"advance"`
}

type LinkStep struct {
	Src     string `yaml:"src"`
	SrcPort uint32 `yaml:"src_port"`
	Dst     string `yaml:"dst"`
	DstPort uint32 `yaml:"dst_port"`
}

type PacketStep struct {
	Switch string     `yaml:"switch"`
	InPort uint32     `yaml:"in_port"`
	ARP    *ARPFrame  `yaml:"arp"`
	IPv4   *IPv4Frame `yaml:"ipv4"`
}

type ARPFrame struct {
	Op        string `yaml:"op"` // request or reply
	SenderMAC string `yaml:"sender_mac"`
	SenderIP  string `yaml:"sender_ip"`
	TargetMAC string `yaml:"target_mac"`
	TargetIP  string `yaml:"target_ip"`
}

type IPv4Frame struct {
	SrcMAC   string `yaml:"src_mac"`
	DstMAC   string `yaml:"dst_mac"`
	SrcIP    string `yaml:"src_ip"`
	DstIP    string `yaml:"dst_ip"`
	Protocol string `yaml:"protocol"` // udp (default) or tcp
	SrcPort  uint16 `yaml:"src_port"`
	DstPort  uint16 `yaml:"dst_port"`
}

type StatsStep struct {
	Switch string `yaml:"switch"`
	Ports  []struct {
		Port      uint32 `yaml:"port"`
		RxPackets uint64 `yaml:"rx_packets"`
		TxPackets uint64 `yaml:"tx_packets"`
		RxBytes   uint64 `yaml:"rx_bytes"`
		TxBytes   uint64 `yaml:"tx_bytes"`
	} `yaml:"ports"`
}

var errBadStep = errors.New("bad scenario step")

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes YAML and checks that every step is well formed.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("unmarshal scenario YAML: %w", err)
	}
	for i, st := range sc.Steps {
		if _, err := st.Event(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return &sc, nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Join != "", s.Leave != "", s.Link != nil, s.Unlink != nil, s.Packet != nil, s.Stats != nil, s.Advance > 0} {
		if set {
			n++
		}
	}
	return n
}

// Event converts the step into an engine event. Advance steps return nil.
func (s Step) Event() (model.Event, error) {
	if n := s.actions(); n != 1 {
		return nil, fmt.Errorf("%w: want exactly one action, got %d", errBadStep, n)
	}
	switch {
	case s.Join != "":
		sw, err := model.ParseSwitchID(s.Join)
		if err != nil {
			return nil, fmt.Errorf("%w: join: %v", errBadStep, err)
		}
		return model.SwitchJoined{Switch: sw}, nil
	case s.Leave != "":
		sw, err := model.ParseSwitchID(s.Leave)
		if err != nil {
			return nil, fmt.Errorf("%w: leave: %v", errBadStep, err)
		}
		return model.SwitchLeft{Switch: sw}, nil
	case s.Link != nil:
		src, dst, err := s.Link.ends()
		if err != nil {
			return nil, err
		}
		return model.LinkAdded{Src: src, SrcPort: model.PortNo(s.Link.SrcPort), Dst: dst, DstPort: model.PortNo(s.Link.DstPort)}, nil
	case s.Unlink != nil:
		src, dst, err := s.Unlink.ends()
		if err != nil {
			return nil, err
		}
		return model.LinkRemoved{Src: src, SrcPort: model.PortNo(s.Unlink.SrcPort), Dst: dst, DstPort: model.PortNo(s.Unlink.DstPort)}, nil
	case s.Packet != nil:
		return s.Packet.event()
	case s.Stats != nil:
		return s.Stats.event()
	}
	return nil, nil
}

func (l *LinkStep) ends() (model.SwitchID, model.SwitchID, error) {
	src, err := model.ParseSwitchID(l.Src)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: link src: %v", errBadStep, err)
	}
	dst, err := model.ParseSwitchID(l.Dst)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: link dst: %v", errBadStep, err)
	}
	return src, dst, nil
}

func (p *PacketStep) event() (model.Event, error) {
	sw, err := model.ParseSwitchID(p.Switch)
	if err != nil {
		return nil, fmt.Errorf("%w: packet switch: %v", errBadStep, err)
	}
	var data []byte
	switch {
	case p.ARP != nil && p.IPv4 == nil:
		data, err = p.ARP.build()
	case p.IPv4 != nil && p.ARP == nil:
		data, err = p.IPv4.build()
	default:
		return nil, fmt.Errorf("%w: packet needs exactly one of arp or ipv4", errBadStep)
	}
	if err != nil {
		return nil, err
	}
	frame, err := frames.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode built frame: %v", errBadStep, err)
	}
	return model.PacketIn{
		Switch:   sw,
		InPort:   model.PortNo(p.InPort),
		BufferID: model.NoBuffer,
		Data:     data,
		Frame:    frame,
	}, nil
}

func (a *ARPFrame) build() ([]byte, error) {
	var op uint16
	switch strings.ToLower(a.Op) {
	case "request", "":
		op = layers.ARPRequest
	case "reply":
		op = layers.ARPReply
	default:
		return nil, fmt.Errorf("%w: arp op %q", errBadStep, a.Op)
	}
	sMAC, err := parseMAC(a.SenderMAC, true)
	if err != nil {
		return nil, err
	}
	tMAC, err := parseMAC(a.TargetMAC, false)
	if err != nil {
		return nil, err
	}
	sIP, err := parseIP(a.SenderIP)
	if err != nil {
		return nil, err
	}
	tIP, err := parseIP(a.TargetIP)
	if err != nil {
		return nil, err
	}
	return frames.BuildARP(op, sMAC, sIP, tMAC, tIP)
}

func (f *IPv4Frame) build() ([]byte, error) {
	src, err := parseMAC(f.SrcMAC, true)
	if err != nil {
		return nil, err
	}
	dst, err := parseMAC(f.DstMAC, true)
	if err != nil {
		return nil, err
	}
	srcIP, err := parseIP(f.SrcIP)
	if err != nil {
		return nil, err
	}
	dstIP, err := parseIP(f.DstIP)
	if err != nil {
		return nil, err
	}
	proto := layers.IPProtocolUDP
	switch strings.ToLower(f.Protocol) {
	case "", "udp":
	case "tcp":
		proto = layers.IPProtocolTCP
	default:
		return nil, fmt.Errorf("%w: protocol %q", errBadStep, f.Protocol)
	}
	return frames.BuildIPv4(frames.IPv4Spec{
		SrcMAC: src, DstMAC: dst,
		SrcIP: srcIP, DstIP: dstIP,
		Protocol: proto,
		SrcPort:  f.SrcPort, DstPort: f.DstPort,
	})
}

func (s *StatsStep) event() (model.Event, error) {
	sw, err := model.ParseSwitchID(s.Switch)
	if err != nil {
		return nil, fmt.Errorf("%w: stats switch: %v", errBadStep, err)
	}
	reply := model.PortStatsReply{Switch: sw}
	for _, p := range s.Ports {
		reply.Ports = append(reply.Ports, model.PortCounters{
			Port:      model.PortNo(p.Port),
			RxPackets: p.RxPackets,
			TxPackets: p.TxPackets,
			RxBytes:   p.RxBytes,
			TxBytes:   p.TxBytes,
		})
	}
	return reply, nil
}

func parseMAC(raw string, required bool) (net.HardwareAddr, error) {
	if raw == "" && !required {
		return nil, nil
	}
	mac, err := net.ParseMAC(raw)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("%w: mac %q", errBadStep, raw)
	}
	return mac, nil
}

func parseIP(raw string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(raw)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: ipv4 address %q", errBadStep, raw)
	}
	return ip, nil
}
