// Package arp records, controller-wide, which (MAC, IP) associations have
// already been propagated. It is what keeps ARP request flooding finite on
// looped topologies.
package arp

import (
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the number of MACs tracked.
const DefaultMaxEntries = 65536

// Tracker maps a MAC to the set of IPs seen with it. A pair is recorded at
// most once. When the MAC bound is reached the least recently touched MAC is
// forgotten, which at worst causes one extra flood for that host.
type Tracker struct {
	mu      sync.Mutex
	entries *lru.Cache[string, map[netip.Addr]struct{}]
}

// NewTracker creates a tracker holding at most maxEntries MACs. A
// non-positive value uses DefaultMaxEntries.
func NewTracker(maxEntries int) *Tracker {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cache, err := lru.New[string, map[netip.Addr]struct{}](maxEntries)
	if err != nil {
		// Only returned for a non-positive size, excluded above.
		panic(err)
	}
	return &Tracker{entries: cache}
}

func key(mac net.HardwareAddr) string { return strings.ToLower(mac.String()) }

// HasNewInformation reports whether mac is unseen or ip is unseen for mac.
func (t *Tracker) HasNewInformation(mac net.HardwareAddr, ip netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isNew(key(mac), ip)
}

// Record adds ip to the set for mac. Repeated calls are no-ops.
func (t *Tracker) Record(mac net.HardwareAddr, ip netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(key(mac), ip)
}

// Observe is HasNewInformation followed by Record as one step, so two
// switches reporting the same pair concurrently cannot both see it as new.
func (t *Tracker) Observe(mac net.HardwareAddr, ip netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(mac)
	newInfo := t.isNew(k, ip)
	if newInfo {
		t.record(k, ip)
	}
	return newInfo
}

func (t *Tracker) isNew(k string, ip netip.Addr) bool {
	ips, ok := t.entries.Peek(k)
	if !ok {
		return true
	}
	_, seen := ips[ip]
	return !seen
}

func (t *Tracker) record(k string, ip netip.Addr) {
	ips, ok := t.entries.Get(k)
	if !ok {
		ips = make(map[netip.Addr]struct{}, 1)
		t.entries.Add(k, ips)
	}
	ips[ip] = struct{}{}
}

// Len returns the number of MACs tracked.
func (t *Tracker) Len() int {
	return t.entries.Len()
}

// Entry is one MAC with its recorded IPs.
type Entry struct {
	MAC string       `json:"mac"`
	IPs []netip.Addr `json:"ips"`
}

// Snapshot returns every entry ordered by MAC, IPs ascending.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.entries.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		ips, ok := t.entries.Peek(k)
		if !ok {
			continue
		}
		e := Entry{MAC: k, IPs: make([]netip.Addr, 0, len(ips))}
		for ip := range ips {
			e.IPs = append(e.IPs, ip)
		}
		slices.SortFunc(e.IPs, func(a, b netip.Addr) int { return a.Compare(b) })
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.MAC, b.MAC) })
	return out
}
