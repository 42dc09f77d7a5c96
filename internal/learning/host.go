package learning

import (
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/signalsfoundry/fabric-controller/model"
)

// hostRecord is the per-MAC state kept by one switch. It is only touched
// while the owning Table's mutex is held.
type hostRecord struct {
	mac      net.HardwareAddr
	ports    []model.PortNo
	lastPort model.PortNo
	hasLast  bool
	knownIPs map[netip.Addr]time.Time
	lastMile bool
	lastSeen time.Time
}

func newHostRecord(mac net.HardwareAddr, port model.PortNo, lastMile bool) *hostRecord {
	return &hostRecord{
		mac:      slices.Clone(mac),
		ports:    []model.PortNo{port},
		knownIPs: make(map[netip.Addr]time.Time),
		lastMile: lastMile,
	}
}

func (h *hostRecord) addPort(port model.PortNo) {
	if !slices.Contains(h.ports, port) {
		h.ports = append(h.ports, port)
	}
}

// ipKnown evicts the entry when it has aged out.
func (h *hostRecord) ipKnown(ip netip.Addr, now time.Time, window time.Duration) bool {
	seen, ok := h.knownIPs[ip]
	if !ok {
		return false
	}
	if now.Sub(seen) >= window {
		delete(h.knownIPs, ip)
		return false
	}
	return true
}

// rotate moves the last port to the front.
func (h *hostRecord) rotate() {
	if n := len(h.ports); n > 1 {
		last := h.ports[n-1]
		copy(h.ports[1:], h.ports[:n-1])
		h.ports[0] = last
	}
}

// candidates returns the ports minus exclude. The exclusion only applies when
// more than one port is available so a single-port host stays reachable.
func (h *hostRecord) candidates(exclude model.PortNo) []model.PortNo {
	out := slices.Clone(h.ports)
	if len(out) > 1 {
		if i := slices.Index(out, exclude); i >= 0 {
			out = slices.Delete(out, i, i+1)
		}
	}
	return out
}

// HostSnapshot is a read-only view of one host record.
type HostSnapshot struct {
	MAC      string         `json:"mac"`
	Ports    []model.PortNo `json:"ports"`
	LastPort *model.PortNo  `json:"last_port,omitempty"`
	LastMile bool           `json:"last_mile"`
	KnownIPs []netip.Addr   `json:"known_ips"`
}

func (h *hostRecord) snapshot(now time.Time, window time.Duration) HostSnapshot {
	s := HostSnapshot{
		MAC:      h.mac.String(),
		Ports:    slices.Clone(h.ports),
		LastMile: h.lastMile,
		KnownIPs: h.freshIPs(now, window),
	}
	if h.hasLast {
		p := h.lastPort
		s.LastPort = &p
	}
	return s
}

func (h *hostRecord) freshIPs(now time.Time, window time.Duration) []netip.Addr {
	out := make([]netip.Addr, 0, len(h.knownIPs))
	for ip := range h.knownIPs {
		if h.ipKnown(ip, now, window) {
			out = append(out, ip)
		}
	}
	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })
	return out
}
