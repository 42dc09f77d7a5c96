package sbi

import (
	"context"
	"sync"

	"github.com/signalsfoundry/fabric-controller/model"
)

// RecordingCommander keeps every command it receives in memory. It backs
// tests and the replay tool, where there is no switch to talk to.
type RecordingCommander struct {
	mu      sync.Mutex
	rules   []model.FlowRule
	groups  []model.Group
	packets []model.PacketOut
	stats   []model.SwitchID

	// Err, when set, is returned from every call and nothing is recorded.
	Err error
}

// NewRecordingCommander creates an empty recorder.
func NewRecordingCommander() *RecordingCommander {
	return &RecordingCommander{}
}

func (r *RecordingCommander) InstallRule(_ context.Context, rule model.FlowRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	rule.Actions = append([]model.Action(nil), rule.Actions...)
	r.rules = append(r.rules, rule)
	return nil
}

func (r *RecordingCommander) InstallOrUpdateGroup(_ context.Context, group model.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	group.Buckets = append([]model.Bucket(nil), group.Buckets...)
	r.groups = append(r.groups, group)
	return nil
}

func (r *RecordingCommander) EmitPacket(_ context.Context, out model.PacketOut) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.packets = append(r.packets, out)
	return nil
}

func (r *RecordingCommander) RequestPortStats(_ context.Context, sw model.SwitchID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.stats = append(r.stats, sw)
	return nil
}

// Rules returns a copy of the recorded flow rules in arrival order.
func (r *RecordingCommander) Rules() []model.FlowRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.FlowRule(nil), r.rules...)
}

// RulesFor returns the recorded rules addressed to sw.
func (r *RecordingCommander) RulesFor(sw model.SwitchID) []model.FlowRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.FlowRule
	for _, rule := range r.rules {
		if rule.Switch == sw {
			out = append(out, rule)
		}
	}
	return out
}

// Groups returns a copy of the recorded group commands.
func (r *RecordingCommander) Groups() []model.Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Group(nil), r.groups...)
}

// Packets returns a copy of the recorded packet-outs.
func (r *RecordingCommander) Packets() []model.PacketOut {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PacketOut(nil), r.packets...)
}

// StatsRequests returns the switches that were polled, in order.
func (r *RecordingCommander) StatsRequests() []model.SwitchID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SwitchID(nil), r.stats...)
}

// Reset drops everything recorded so far.
func (r *RecordingCommander) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = nil
	r.groups = nil
	r.packets = nil
	r.stats = nil
}
