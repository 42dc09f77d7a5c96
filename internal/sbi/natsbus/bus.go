// Package natsbus bridges the engine to switch agents over NATS. Agents
// publish southbound events on <prefix>.event.<kind>; the controller
// publishes commands on <prefix>.cmd.<dpid>. Bodies are JSON envelopes.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/fabric-controller/internal/config"
	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/model"
	"github.com/signalsfoundry/fabric-controller/timectrl"
)

// EventSink receives decoded events, typically controller.Dispatcher.Submit.
type EventSink func(ctx context.Context, ev model.Event) error

// publisher is the part of *nats.Conn the Commander needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Bus owns the NATS connection.
type Bus struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	prefix string
	log    logging.Logger
	cmd    *Commander
}

// Connect dials the server in cfg.
func Connect(cfg config.NATSConfig, log logging.Logger) (*Bus, error) {
	if log == nil {
		log = logging.Noop()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(context.Background(), "nats disconnected", logging.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(context.Background(), "nats reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	log.Info(context.Background(), "connected to nats",
		logging.String("url", cfg.URL),
		logging.String("prefix", cfg.SubjectPrefix),
	)
	return &Bus{
		nc:     nc,
		prefix: cfg.SubjectPrefix,
		log:    log,
		cmd:    NewCommander(nc, cfg.SubjectPrefix, timectrl.SystemClock{}),
	}, nil
}

// Commander returns the outbound command publisher.
func (b *Bus) Commander() *Commander { return b.cmd }

// EventSubject is the wildcard the bus subscribes to.
func EventSubject(prefix string) string { return prefix + ".event.>" }

// Subscribe starts delivering decoded events to sink. Malformed messages
// are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context, sink EventSink) error {
	sub, err := b.nc.Subscribe(EventSubject(b.prefix), func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Data, time.Now())
		if err != nil {
			b.log.Warn(ctx, "bad event message", logging.String("subject", msg.Subject), logging.Err(err))
			return
		}
		if err := sink(ctx, ev); err != nil {
			b.log.Warn(ctx, "event not queued",
				logging.EventKind(ev.Kind()),
				logging.Switch(ev.Origin()),
				logging.Err(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", EventSubject(b.prefix), err)
	}
	b.sub = sub
	b.log.Info(ctx, "subscribed to switch events", logging.String("subject", sub.Subject))
	return nil
}

// Close unsubscribes and drains the connection.
func (b *Bus) Close() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

// Commander publishes engine commands. It implements sbi.Commander.
type Commander struct {
	pub    publisher
	prefix string
	clock  timectrl.Clock
}

// NewCommander creates a Commander publishing through pub.
func NewCommander(pub publisher, prefix string, clock timectrl.Clock) *Commander {
	if clock == nil {
		clock = timectrl.SystemClock{}
	}
	return &Commander{pub: pub, prefix: prefix, clock: clock}
}

// CommandSubject is the subject commands for sw are published on.
func CommandSubject(prefix string, sw model.SwitchID) string {
	return fmt.Sprintf("%s.cmd.%d", prefix, uint64(sw))
}

func (c *Commander) send(env CommandEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Kind, err)
	}
	subject := CommandSubject(c.prefix, model.SwitchID(env.Switch))
	if err := c.pub.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s on %s: %w", env.Kind, subject, err)
	}
	return nil
}

func (c *Commander) InstallRule(_ context.Context, rule model.FlowRule) error {
	env := newCommand(CommandFlowMod, rule.Switch, c.clock.Now())
	env.Flow = flowMod(rule)
	return c.send(env)
}

func (c *Commander) InstallOrUpdateGroup(_ context.Context, group model.Group) error {
	env := newCommand(CommandGroupMod, group.Switch, c.clock.Now())
	env.Group = groupMod(group)
	return c.send(env)
}

func (c *Commander) EmitPacket(_ context.Context, out model.PacketOut) error {
	env := newCommand(CommandPacketOut, out.Switch, c.clock.Now())
	env.Packet = &PacketOut{
		InPort:   uint32(out.InPort),
		Port:     uint32(out.Port),
		BufferID: out.BufferID,
		Data:     out.Data,
	}
	return c.send(env)
}

func (c *Commander) RequestPortStats(_ context.Context, sw model.SwitchID) error {
	return c.send(newCommand(CommandStatsRequest, sw, c.clock.Now()))
}
