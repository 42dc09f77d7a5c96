package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/signalsfoundry/fabric-controller/internal/config"
	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/sbi/frames"
	"github.com/signalsfoundry/fabric-controller/model"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NBI = config.NBIConfig{}
	cfg.Controller.Workers = 2
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAppFloodsFirstARPRequest(t *testing.T) {
	rec := sbi.NewRecordingCommander()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, testConfig(), logging.Noop(), rec)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	h1 := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	raw, err := frames.BuildARP(layers.ARPRequest, h1, netip.MustParseAddr("10.0.0.1"), nil, netip.MustParseAddr("10.0.0.2"))
	if err != nil {
		t.Fatalf("BuildARP: %v", err)
	}
	frame, err := frames.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for _, ev := range []model.Event{
		model.SwitchJoined{Switch: 1},
		model.SwitchJoined{Switch: 2},
		model.LinkAdded{Src: 1, SrcPort: 2, Dst: 2, DstPort: 1},
		model.PacketIn{Switch: 1, InPort: 1, BufferID: model.NoBuffer, Data: raw, Frame: frame},
	} {
		if err := a.dispatcher.Submit(ctx, ev); err != nil {
			t.Fatalf("Submit(%s): %v", ev.Kind(), err)
		}
	}

	waitFor(t, "flood", func() bool { return len(rec.Packets()) == 1 })
	out := rec.Packets()[0]
	if out.Switch != 1 || out.Port != model.PortFlood || out.InPort != 1 {
		t.Fatalf("packet out = %+v, want flood on switch 1", out)
	}
	waitFor(t, "poll registration", func() bool { return a.poller.Registered(1) && a.poller.Registered(2) })

	rr := httptest.NewRecorder()
	a.api.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/topology", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"mac":"00:00:00:00:00:01"`) {
		t.Fatalf("topology = %d %s", rr.Code, rr.Body.String())
	}

	scrape := func() string {
		rr := httptest.NewRecorder()
		a.metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rr.Body.String()
	}
	for _, want := range []string{
		`fabric_events_total{kind="packet_in",outcome="ok"} 1`,
		`fabric_commands_total{kind="flood"} 1`,
		"fabric_switches 2",
		"fabric_hosts 1",
	} {
		waitFor(t, want, func() bool { return strings.Contains(scrape(), want) })
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestRunServesAndStops(t *testing.T) {
	cfg := testConfig()
	cfg.NBI = config.NBIConfig{
		HTTPAddr:    "127.0.0.1:0",
		GRPCAddr:    "127.0.0.1:0",
		MetricsAddr: "127.0.0.1:0",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	a, err := newApp(ctx, cfg, logging.Noop(), sbi.NewRecordingCommander())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunReportsListenFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	cfg := testConfig()
	cfg.NBI.GRPCAddr = lis.Addr().String()
	a, err := newApp(context.Background(), cfg, logging.Noop(), sbi.NewRecordingCommander())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if err := a.run(context.Background()); err == nil {
		t.Fatalf("expected listen error for an address in use")
	}
}
