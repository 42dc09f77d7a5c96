package frames

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var serializeOpts = gopacket.SerializeOptions{
	ComputeChecksums: true,
	FixLengths:       true,
}

// BuildARP serializes an Ethernet/ARP frame. Requests are sent to the
// broadcast address with a zero target hardware address.
func BuildARP(op uint16, senderMAC net.HardwareAddr, senderIP netip.Addr, targetMAC net.HardwareAddr, targetIP netip.Addr) ([]byte, error) {
	ethDst := targetMAC
	arpDst := targetMAC
	if op == layers.ARPRequest {
		ethDst = BroadcastMAC
		arpDst = net.HardwareAddr{0, 0, 0, 0, 0, 0}
	}
	eth := &layers.Ethernet{
		SrcMAC:       senderMAC,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeARP,
	}
	s4, t4 := senderIP.As4(), targetIP.As4()
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: s4[:],
		DstHwAddress:      arpDst,
		DstProtAddress:    t4[:],
	}
	return serialize(eth, arp)
}

// IPv4Spec describes a frame for BuildIPv4. Protocol defaults to UDP.
type IPv4Spec struct {
	SrcMAC, DstMAC   net.HardwareAddr
	SrcIP, DstIP     netip.Addr
	Protocol         layers.IPProtocol
	SrcPort, DstPort uint16
	Payload          []byte
}

// BuildIPv4 serializes an Ethernet/IPv4 frame carrying TCP or UDP.
func BuildIPv4(spec IPv4Spec) ([]byte, error) {
	if spec.Protocol == 0 {
		spec.Protocol = layers.IPProtocolUDP
	}
	src, dst := spec.SrcIP.As4(), spec.DstIP.As4()
	eth := &layers.Ethernet{
		SrcMAC:       spec.SrcMAC,
		DstMAC:       spec.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: spec.Protocol,
		SrcIP:    net.IP(src[:]),
		DstIP:    net.IP(dst[:]),
	}

	var l4 gopacket.SerializableLayer
	switch spec.Protocol {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(spec.SrcPort),
			DstPort: layers.TCPPort(spec.DstPort),
			SYN:     true,
			Window:  14600,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		l4 = tcp
	case layers.IPProtocolUDP:
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(spec.SrcPort),
			DstPort: layers.UDPPort(spec.DstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		l4 = udp
	default:
		return nil, fmt.Errorf("unsupported ip protocol %v", spec.Protocol)
	}
	return serialize(eth, ip, l4, gopacket.Payload(spec.Payload))
}

// BuildRaw serializes an Ethernet header followed by payload. It is used for
// discovery frames, which the controller never parses past the EtherType.
func BuildRaw(src, dst net.HardwareAddr, etherType uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: layers.EthernetType(etherType),
	}
	return serialize(eth, gopacket.Payload(payload))
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}
