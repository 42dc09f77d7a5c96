// Package statsstore keeps the port counters returned by statistics polls.
package statsstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/signalsfoundry/fabric-controller/model"
)

// DefaultRetain is how many replies Memory keeps per switch.
const DefaultRetain = 64

// Sink receives accepted port statistics replies.
type Sink interface {
	Write(ctx context.Context, reply model.PortStatsReply) error
}

// Sample is one stored reply.
type Sample struct {
	At    time.Time            `json:"at"`
	Ports []model.PortCounters `json:"ports"`
}

// Memory keeps the most recent replies per switch in a ring.
type Memory struct {
	mu      sync.RWMutex
	retain  int
	samples map[model.SwitchID][]Sample
}

// NewMemory creates a sink retaining up to retain replies per switch.
func NewMemory(retain int) *Memory {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Memory{retain: retain, samples: make(map[model.SwitchID][]Sample)}
}

func (m *Memory) Write(_ context.Context, reply model.PortStatsReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := append(m.samples[reply.Switch], Sample{
		At:    reply.ReceivedAt,
		Ports: slices.Clone(reply.Ports),
	})
	if len(s) > m.retain {
		s = slices.Delete(s, 0, len(s)-m.retain)
	}
	m.samples[reply.Switch] = s
	return nil
}

// Latest returns the newest sample of sw.
func (m *Memory) Latest(sw model.SwitchID) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.samples[sw]
	if len(s) == 0 {
		return Sample{}, false
	}
	return s[len(s)-1], true
}

// History returns the stored samples of sw, oldest first.
func (m *Memory) History(sw model.SwitchID) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.samples[sw])
}

// Forget drops everything stored for sw.
func (m *Memory) Forget(sw model.SwitchID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.samples, sw)
}

// Multi fans a reply out to several sinks and returns the first error.
type Multi []Sink

func (ms Multi) Write(ctx context.Context, reply model.PortStatsReply) error {
	var first error
	for _, s := range ms {
		if err := s.Write(ctx, reply); err != nil && first == nil {
			first = err
		}
	}
	return first
}
