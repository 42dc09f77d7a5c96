package sbi

import (
	"fmt"
	"sync"
)

// SBIMetrics tracks in-memory counters for southbound commands. All
// counters are safe for concurrent use.
type SBIMetrics struct {
	mu sync.Mutex

	NumRulesInstalled uint64
	NumGroupsAdded    uint64
	NumGroupsModified uint64
	NumPacketsEmitted uint64
	NumFloods         uint64
	NumStatsRequested uint64
	NumSendErrors     uint64
}

// NewSBIMetrics creates zeroed counters.
func NewSBIMetrics() *SBIMetrics {
	return &SBIMetrics{}
}

func (m *SBIMetrics) inc(field *uint64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

func (m *SBIMetrics) IncRulesInstalled() { m.inc(&m.NumRulesInstalled) }
func (m *SBIMetrics) IncGroupsAdded()    { m.inc(&m.NumGroupsAdded) }
func (m *SBIMetrics) IncGroupsModified() { m.inc(&m.NumGroupsModified) }
func (m *SBIMetrics) IncPacketsEmitted() { m.inc(&m.NumPacketsEmitted) }
func (m *SBIMetrics) IncFloods()         { m.inc(&m.NumFloods) }
func (m *SBIMetrics) IncStatsRequested() { m.inc(&m.NumStatsRequested) }
func (m *SBIMetrics) IncSendErrors()     { m.inc(&m.NumSendErrors) }

// SBIMetricsSnapshot is a point-in-time copy of SBIMetrics.
type SBIMetricsSnapshot struct {
	NumRulesInstalled uint64 `json:"rules_installed"`
	NumGroupsAdded    uint64 `json:"groups_added"`
	NumGroupsModified uint64 `json:"groups_modified"`
	NumPacketsEmitted uint64 `json:"packets_emitted"`
	NumFloods         uint64 `json:"floods"`
	NumStatsRequested uint64 `json:"stats_requested"`
	NumSendErrors     uint64 `json:"send_errors"`
}

// Snapshot returns the current values.
func (m *SBIMetrics) Snapshot() SBIMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SBIMetricsSnapshot{
		NumRulesInstalled: m.NumRulesInstalled,
		NumGroupsAdded:    m.NumGroupsAdded,
		NumGroupsModified: m.NumGroupsModified,
		NumPacketsEmitted: m.NumPacketsEmitted,
		NumFloods:         m.NumFloods,
		NumStatsRequested: m.NumStatsRequested,
		NumSendErrors:     m.NumSendErrors,
	}
}

// String returns a one-line summary.
func (m *SBIMetrics) String() string {
	snap := m.Snapshot()
	return fmt.Sprintf("SBI metrics: rules=%d groups_add=%d groups_mod=%d packets=%d floods=%d stats_req=%d errors=%d",
		snap.NumRulesInstalled,
		snap.NumGroupsAdded,
		snap.NumGroupsModified,
		snap.NumPacketsEmitted,
		snap.NumFloods,
		snap.NumStatsRequested,
		snap.NumSendErrors,
	)
}
