package sbi

import (
	"context"

	"github.com/signalsfoundry/fabric-controller/model"
)

// Commander is the outbound half of the switch transport. Implementations
// encode and deliver the commands; the engine only decides what to send.
type Commander interface {
	InstallRule(ctx context.Context, rule model.FlowRule) error
	InstallOrUpdateGroup(ctx context.Context, group model.Group) error
	EmitPacket(ctx context.Context, out model.PacketOut) error
	RequestPortStats(ctx context.Context, sw model.SwitchID) error
}

// CountingCommander wraps a Commander and records every command in SBIMetrics.
type CountingCommander struct {
	next    Commander
	metrics *SBIMetrics
}

// NewCountingCommander wraps next. A nil metrics gets a fresh SBIMetrics.
func NewCountingCommander(next Commander, metrics *SBIMetrics) *CountingCommander {
	if metrics == nil {
		metrics = NewSBIMetrics()
	}
	return &CountingCommander{next: next, metrics: metrics}
}

// Metrics returns the counters being updated.
func (c *CountingCommander) Metrics() *SBIMetrics { return c.metrics }

func (c *CountingCommander) InstallRule(ctx context.Context, rule model.FlowRule) error {
	if err := c.next.InstallRule(ctx, rule); err != nil {
		c.metrics.IncSendErrors()
		return err
	}
	c.metrics.IncRulesInstalled()
	return nil
}

func (c *CountingCommander) InstallOrUpdateGroup(ctx context.Context, group model.Group) error {
	if err := c.next.InstallOrUpdateGroup(ctx, group); err != nil {
		c.metrics.IncSendErrors()
		return err
	}
	if group.Command == model.GroupModify {
		c.metrics.IncGroupsModified()
	} else {
		c.metrics.IncGroupsAdded()
	}
	return nil
}

func (c *CountingCommander) EmitPacket(ctx context.Context, out model.PacketOut) error {
	if err := c.next.EmitPacket(ctx, out); err != nil {
		c.metrics.IncSendErrors()
		return err
	}
	if out.Port == model.PortFlood {
		c.metrics.IncFloods()
	} else {
		c.metrics.IncPacketsEmitted()
	}
	return nil
}

func (c *CountingCommander) RequestPortStats(ctx context.Context, sw model.SwitchID) error {
	if err := c.next.RequestPortStats(ctx, sw); err != nil {
		c.metrics.IncSendErrors()
		return err
	}
	c.metrics.IncStatsRequested()
	return nil
}
