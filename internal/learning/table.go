// Package learning keeps per-switch MAC learning state: which ports reach a
// host, whether the switch is the host's point of attachment, and which IPs
// were recently seen for it.
package learning

import (
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalsfoundry/fabric-controller/model"
	"github.com/signalsfoundry/fabric-controller/timectrl"
)

// DefaultFreshness is how long a recorded IP stays known.
const DefaultFreshness = time.Second

type options struct {
	policy    Policy
	clock     timectrl.Clock
	seed      uint64
	freshness time.Duration
	maxHosts  int
	idleTTL   time.Duration
}

// Option configures a Table or Registry.
type Option func(*options)

// WithPolicy sets the egress port selection policy.
func WithPolicy(p Policy) Option { return func(o *options) { o.policy = p } }

// WithClock sets the clock used for IP freshness.
func WithClock(c timectrl.Clock) Option { return func(o *options) { o.clock = c } }

// WithSeed makes random port selection deterministic.
func WithSeed(seed uint64) Option { return func(o *options) { o.seed = seed } }

// WithFreshness overrides the IP freshness window.
func WithFreshness(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.freshness = d
		}
	}
}

// WithCapacity bounds the number of hosts and evicts records that have not
// been observed for idleTTL, measured on the table's clock. Zero values leave
// the bound off.
func WithCapacity(maxHosts int, idleTTL time.Duration) Option {
	return func(o *options) {
		o.maxHosts = maxHosts
		o.idleTTL = idleTTL
	}
}

func buildOptions(opts []Option) options {
	o := options{
		policy:    PolicyRoundRobin,
		clock:     timectrl.SystemClock{},
		seed:      uint64(time.Now().UnixNano()),
		freshness: DefaultFreshness,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Table is the learning table of one switch. All methods are safe for
// concurrent use.
type Table struct {
	sw        model.SwitchID
	policy    Policy
	clock     timectrl.Clock
	freshness time.Duration
	idleTTL   time.Duration

	mu    sync.Mutex
	rng   *rand.Rand
	hosts *lru.Cache[string, *hostRecord]
}

// NewTable creates an empty table for sw.
func NewTable(sw model.SwitchID, opts ...Option) *Table {
	return newTable(sw, buildOptions(opts))
}

func newTable(sw model.SwitchID, o options) *Table {
	size := o.maxHosts
	if size <= 0 {
		size = math.MaxInt
	}
	hosts, err := lru.New[string, *hostRecord](size)
	if err != nil {
		// Only returned for a non-positive size, excluded above.
		panic(err)
	}
	return &Table{
		sw:        sw,
		policy:    o.policy,
		clock:     o.clock,
		freshness: o.freshness,
		idleTTL:   o.idleTTL,
		rng:       rand.New(rand.NewPCG(o.seed, uint64(sw))),
		hosts:     hosts,
	}
}

// Switch returns the owning switch.
func (t *Table) Switch() model.SwitchID { return t.sw }

// Policy returns the selection policy in use.
func (t *Table) Policy() Policy { return t.policy }

func key(mac net.HardwareAddr) string { return strings.ToLower(mac.String()) }

func (t *Table) idle(rec *hostRecord, now time.Time) bool {
	return t.idleTTL > 0 && now.Sub(rec.lastSeen) >= t.idleTTL
}

// peek returns the live record under k, dropping it if it went idle. Must be
// called with t.mu held.
func (t *Table) peek(k string) (*hostRecord, bool) {
	rec, ok := t.hosts.Peek(k)
	if !ok {
		return nil, false
	}
	if t.idle(rec, t.clock.Now()) {
		t.hosts.Remove(k)
		return nil, false
	}
	return rec, true
}

// expire drops every idle record. Must be called with t.mu held.
func (t *Table) expire() {
	if t.idleTTL <= 0 {
		return
	}
	now := t.clock.Now()
	for _, k := range t.hosts.Keys() {
		if rec, ok := t.hosts.Peek(k); ok && t.idle(rec, now) {
			t.hosts.Remove(k)
		}
	}
}

// lookup must be called with t.mu held.
func (t *Table) lookup(mac net.HardwareAddr) (*hostRecord, error) {
	rec, ok := t.peek(key(mac))
	if !ok {
		return nil, fmt.Errorf("%w: %s at switch %s", model.ErrUnknownHost, mac, t.sw)
	}
	return rec, nil
}

// IsKnown reports whether mac has a live record at this switch.
func (t *Table) IsKnown(mac net.HardwareAddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peek(key(mac))
	return ok
}

// RecordObservation creates the record seeded with port and lastMile, or
// appends port (once) and upgrades the last-mile flag. The flag never goes
// from true to false.
func (t *Table) RecordObservation(mac net.HardwareAddr, port model.PortNo, lastMile bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(mac)
	rec, ok := t.peek(k)
	if !ok {
		rec = newHostRecord(mac, port, lastMile)
	} else {
		rec.addPort(port)
		rec.lastMile = rec.lastMile || lastMile
	}
	rec.lastSeen = t.clock.Now()
	// Re-adding moves the host to the most recent end.
	t.hosts.Add(k, rec)
}

// RecordIP refreshes the freshness timestamp of ip for mac.
func (t *Table) RecordIP(mac net.HardwareAddr, ip netip.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(mac)
	if err != nil {
		return err
	}
	rec.knownIPs[ip] = t.clock.Now()
	return nil
}

// IsIPKnown reports whether ip was recorded for mac within the freshness
// window. Expired entries are removed.
func (t *Table) IsIPKnown(mac net.HardwareAddr, ip netip.Addr) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(mac)
	if err != nil {
		return false, err
	}
	return rec.ipKnown(ip, t.clock.Now(), t.freshness), nil
}

// KnownIPs returns the fresh IPs of mac in ascending order.
func (t *Table) KnownIPs(mac net.HardwareAddr) ([]netip.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(mac)
	if err != nil {
		return nil, err
	}
	return rec.freshIPs(t.clock.Now(), t.freshness), nil
}

// IsLastMile reports whether this switch is the host's point of attachment.
func (t *Table) IsLastMile(mac net.HardwareAddr) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(mac)
	if err != nil {
		return false, err
	}
	return rec.lastMile, nil
}

// SelectEgressPort picks the port to reach mac, avoiding excludePort when
// another port exists. The choice is remembered as the last used port.
func (t *Table) SelectEgressPort(mac net.HardwareAddr, excludePort model.PortNo) (model.PortNo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(mac)
	if err != nil {
		return 0, err
	}

	if t.policy == PolicyRoundRobin {
		rec.rotate()
	}
	cands := rec.candidates(excludePort)
	if len(cands) == 0 {
		return 0, fmt.Errorf("%w: no ports for %s at switch %s", model.ErrNoRoute, mac, t.sw)
	}

	var port model.PortNo
	switch t.policy {
	case PolicyRandom:
		port = cands[t.rng.IntN(len(cands))]
	case PolicyAvoidLastUsed:
		if len(cands) > 1 && rec.hasLast {
			if i := slices.Index(cands, rec.lastPort); i >= 0 {
				cands = slices.Delete(cands, i, i+1)
			}
		}
		port = cands[t.rng.IntN(len(cands))]
	default:
		port = cands[0]
	}

	rec.lastPort = port
	rec.hasLast = true
	return port, nil
}

// Ports returns the reachable ports of mac in their current order.
func (t *Table) Ports(mac net.HardwareAddr) ([]model.PortNo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(mac)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rec.ports), nil
}

// Len returns the number of live hosts.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expire()
	return t.hosts.Len()
}

// Snapshot returns every host ordered by MAC.
func (t *Table) Snapshot() []HostSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expire()
	now := t.clock.Now()
	recs := t.hosts.Values()
	out := make([]HostSnapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot(now, t.freshness))
	}
	slices.SortFunc(out, func(a, b HostSnapshot) int { return strings.Compare(a.MAC, b.MAC) })
	return out
}
