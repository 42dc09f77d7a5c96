package model

import (
	"fmt"
	"strconv"
	"strings"
)

// SwitchID is a datapath identifier as reported by the switch on connect.
type SwitchID uint64

// RootSwitch is the placeholder id used by a headless topology-discovery
// switch. It is a regular graph node but never carries hosts.
const RootSwitch SwitchID = 0

// String renders the id in decimal, matching how switches appear in logs and
// on the northbound API.
func (s SwitchID) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// ParseSwitchID accepts a decimal id or a colon-separated 8-byte hex dpid
// ("00:00:00:00:00:00:00:01").
func ParseSwitchID(raw string) (SwitchID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty switch id")
	}
	if strings.Contains(raw, ":") {
		hex := strings.ReplaceAll(raw, ":", "")
		v, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parse dpid %q: %w", raw, err)
		}
		return SwitchID(v), nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse switch id %q: %w", raw, err)
	}
	return SwitchID(v), nil
}

// PortNo is a switch-local port number.
type PortNo uint32

// Reserved port numbers (OpenFlow 1.3 values).
const (
	PortMax        PortNo = 0xffffff00
	PortInPort     PortNo = 0xfffffff8
	PortFlood      PortNo = 0xfffffffb
	PortAll        PortNo = 0xfffffffc
	PortController PortNo = 0xfffffffd
	PortAny        PortNo = 0xffffffff
)

// IsReserved reports whether p is one of the logical ports rather than a
// physical one.
func (p PortNo) IsReserved() bool {
	return p > PortMax
}

func (p PortNo) String() string {
	switch p {
	case PortInPort:
		return "in_port"
	case PortFlood:
		return "flood"
	case PortAll:
		return "all"
	case PortController:
		return "controller"
	case PortAny:
		return "any"
	}
	return strconv.FormatUint(uint64(p), 10)
}

// NoBuffer marks a packet-in or packet-out that carries the full frame rather
// than a reference to a switch-side buffer.
const NoBuffer uint32 = 0xffffffff
