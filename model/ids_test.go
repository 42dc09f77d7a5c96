package model

import (
	"net"
	"testing"
)

func TestParseSwitchID(t *testing.T) {
	cases := []struct {
		in      string
		want    SwitchID
		wantErr bool
	}{
		{in: "1", want: 1},
		{in: " 42 ", want: 42},
		{in: "00:00:00:00:00:00:00:01", want: 1},
		{in: "00:00:00:00:00:00:01:00", want: 256},
		{in: "ff:ff:ff:ff:ff:ff:ff:ff", want: SwitchID(^uint64(0))},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "s1", wantErr: true},
		{in: "zz:00", wantErr: true},
		{in: "01:00:00:00:00:00:00:00:00", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSwitchID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseSwitchID(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSwitchID(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseSwitchID(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPortNoReserved(t *testing.T) {
	for _, p := range []PortNo{PortInPort, PortFlood, PortAll, PortController, PortAny} {
		if !p.IsReserved() {
			t.Fatalf("%s should be reserved", p)
		}
	}
	if PortNo(1).IsReserved() || PortMax.IsReserved() {
		t.Fatalf("physical ports must not be reserved")
	}
	if PortFlood.String() != "flood" || PortNo(7).String() != "7" {
		t.Fatalf("String() = %q, %q", PortFlood.String(), PortNo(7).String())
	}
}

func TestFrameClassification(t *testing.T) {
	bcast := Frame{Dst: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}}
	if !bcast.IsBroadcast() {
		t.Fatalf("all-ones destination should be broadcast")
	}
	if (Frame{Dst: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xfe}}).IsBroadcast() {
		t.Fatalf("unicast destination reported as broadcast")
	}
	if (Frame{}).IsBroadcast() {
		t.Fatalf("missing destination reported as broadcast")
	}
	for _, et := range []uint16{EtherTypeLLDP, EtherTypeBDDP, EtherTypeLegacyDiscovery} {
		if !(Frame{EtherType: et}).IsDiscovery() {
			t.Fatalf("ethertype %#x should be discovery", et)
		}
	}
	if (Frame{EtherType: EtherTypeARP}).IsDiscovery() {
		t.Fatalf("ARP is not discovery traffic")
	}
}

func TestEventOrigin(t *testing.T) {
	events := []struct {
		ev     Event
		kind   EventKind
		origin SwitchID
	}{
		{SwitchJoined{Switch: 1}, KindSwitchJoined, 1},
		{SwitchLeft{Switch: 2}, KindSwitchLeft, 2},
		{LinkAdded{Src: 3, Dst: 4}, KindLinkAdded, 3},
		{LinkRemoved{Src: 5, Dst: 6}, KindLinkRemoved, 5},
		{PacketIn{Switch: 7}, KindPacketIn, 7},
		{PortStatsReply{Switch: 8}, KindPortStatsReply, 8},
	}
	for _, tc := range events {
		if tc.ev.Kind() != tc.kind || tc.ev.Origin() != tc.origin {
			t.Fatalf("%T: kind=%s origin=%d, want %s %d", tc.ev, tc.ev.Kind(), tc.ev.Origin(), tc.kind, tc.origin)
		}
	}
}
