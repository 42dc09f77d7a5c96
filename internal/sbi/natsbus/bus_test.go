package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/sbi/frames"
	"github.com/signalsfoundry/fabric-controller/model"
	"github.com/signalsfoundry/fabric-controller/timectrl"
)

var _ sbi.Commander = (*Commander)(nil)

type message struct {
	subject string
	body    []byte
}

type capture struct {
	msgs []message
	err  error
}

func (c *capture) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, message{subject: subject, body: data})
	return nil
}

func (c *capture) envelope(t *testing.T, i int) CommandEnvelope {
	t.Helper()
	var env CommandEnvelope
	require.NoError(t, json.Unmarshal(c.msgs[i].body, &env))
	return env
}

func TestDecodePacketIn(t *testing.T) {
	h1 := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	data, err := frames.BuildARP(uint16(model.ARPRequest), h1, netip.MustParseAddr("10.0.0.1"), nil, netip.MustParseAddr("10.0.0.3"))
	require.NoError(t, err)

	body, err := json.Marshal(EventEnvelope{Kind: model.KindPacketIn, Switch: 3, Port: 1, Data: data})
	require.NoError(t, err)

	ev, err := DecodeEvent(body, time.Unix(0, 0))
	require.NoError(t, err)
	pin, ok := ev.(model.PacketIn)
	require.True(t, ok, "got %T", ev)

	assert.Equal(t, model.SwitchID(3), pin.Switch)
	assert.Equal(t, model.PortNo(1), pin.InPort)
	assert.Equal(t, model.NoBuffer, pin.BufferID, "missing buffer id means unbuffered")
	require.NotNil(t, pin.Frame.ARP)
	assert.Equal(t, model.ARPRequest, pin.Frame.ARP.Op)
	assert.Equal(t, h1.String(), pin.Frame.Src.String())
}

func TestDecodeStatsReplyDefaultsTime(t *testing.T) {
	now := time.Unix(500, 0)
	body := []byte(`{"kind":"port_stats_reply","dpid":2,"ports":[{"port":4,"rx_packets":9}]}`)

	ev, err := DecodeEvent(body, now)
	require.NoError(t, err)
	reply := ev.(model.PortStatsReply)
	assert.True(t, reply.ReceivedAt.Equal(now))
	require.Len(t, reply.Ports, 1)
	assert.Equal(t, model.PortNo(4), reply.Ports[0].Port)
	assert.Equal(t, uint64(9), reply.Ports[0].RxPackets)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"kind":"reboot","dpid":1}`), time.Now())
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`not json`), time.Now())
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"kind":"packet_in","dpid":1,"data":"AAE="}`), time.Now())
	assert.ErrorIs(t, err, frames.ErrTruncated)
}

func TestEncodeEventLinks(t *testing.T) {
	body, err := EncodeEvent(model.LinkAdded{Src: 1, SrcPort: 2, Dst: 3, DstPort: 4})
	require.NoError(t, err)
	ev, err := DecodeEvent(body, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.LinkAdded{Src: 1, SrcPort: 2, Dst: 3, DstPort: 4}, ev)
}

func TestCommanderSubjectsAndBodies(t *testing.T) {
	pub := &capture{}
	clock := timectrl.NewManualClock(time.Unix(100, 0))
	c := NewCommander(pub, "fabric", clock)
	ctx := context.Background()

	rule := model.FlowRule{
		Switch: 0x1f,
		Match: model.Match{
			InPort:  1,
			EthType: model.EtherTypeIPv4,
			IPv4Src: netip.MustParseAddr("10.0.0.1"),
			IPv4Dst: netip.MustParseAddr("10.0.0.3"),
		},
		Actions:     []model.Action{model.ApplyGroup(7)},
		IdleTimeout: 300,
		HardTimeout: 600,
		Priority:    32768,
	}
	require.NoError(t, c.InstallRule(ctx, rule))
	require.NoError(t, c.InstallOrUpdateGroup(ctx, model.Group{Switch: 0x1f, ID: 7, Command: model.GroupModify, Buckets: []model.Bucket{{Weight: 5, Port: 2}, {Weight: 5, Port: 3}}}))
	require.NoError(t, c.EmitPacket(ctx, model.PacketOut{Switch: 2, InPort: 1, Port: model.PortFlood, BufferID: model.NoBuffer, Data: []byte{1}}))
	require.NoError(t, c.RequestPortStats(ctx, 2))
	require.Len(t, pub.msgs, 4)

	assert.Equal(t, "fabric.cmd.31", pub.msgs[0].subject)
	flow := pub.envelope(t, 0)
	assert.Equal(t, CommandFlowMod, flow.Kind)
	_, err := uuid.Parse(flow.ID)
	assert.NoError(t, err, "command id must be a uuid")
	assert.True(t, flow.SentAt.Equal(clock.Now()))
	require.NotNil(t, flow.Flow)
	assert.Equal(t, "10.0.0.3", flow.Flow.Match.IPv4Dst)
	assert.Empty(t, flow.Flow.Match.EthDst)
	require.Len(t, flow.Flow.Actions, 1)
	require.NotNil(t, flow.Flow.Actions[0].Group)
	assert.Equal(t, uint32(7), *flow.Flow.Actions[0].Group)

	group := pub.envelope(t, 1)
	require.NotNil(t, group.Group)
	assert.Equal(t, "modify", group.Group.Command)
	assert.Len(t, group.Group.Buckets, 2)

	assert.Equal(t, "fabric.cmd.2", pub.msgs[2].subject)
	assert.Equal(t, CommandPacketOut, pub.envelope(t, 2).Kind)
	assert.Equal(t, CommandStatsRequest, pub.envelope(t, 3).Kind)
	assert.NotEqual(t, flow.ID, group.ID)
}

func TestCommanderPublishError(t *testing.T) {
	pub := &capture{err: errors.New("connection closed")}
	err := NewCommander(pub, "fabric", nil).RequestPortStats(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, pub.err)
	assert.Contains(t, err.Error(), "fabric.cmd.1")
}
