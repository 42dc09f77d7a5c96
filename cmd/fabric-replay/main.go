// Command fabric-replay runs a scripted scenario through the forwarding engine
// without switches or a bus. Commands are recorded and printed as a JSON
// summary; emitted frames can be written to a pcap file for inspection.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/fabric-controller/internal/arp"
	"github.com/signalsfoundry/fabric-controller/internal/controller"
	"github.com/signalsfoundry/fabric-controller/internal/learning"
	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/pathing"
	"github.com/signalsfoundry/fabric-controller/internal/rules"
	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/sbi/frames"
	"github.com/signalsfoundry/fabric-controller/internal/statsstore"
	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/model"
)

// replayEpoch is the manual clock's start time so runs are reproducible.
var replayEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func main() {
	scenarioPath := flag.String("scenario", "configs/scenarios/ring.yaml", "Path to the scenario YAML")
	pcapPath := flag.String("pcap", "", "Write emitted packet-outs to this pcap file")
	flag.Parse()

	log := logging.NewFromEnv("fabric-replay")
	ctx := context.Background()

	sc, err := LoadScenario(*scenarioPath)
	if err != nil {
		log.Error(ctx, "failed to load scenario", logging.String("path", *scenarioPath), logging.Err(err))
		os.Exit(1)
	}

	var capture io.Writer
	if *pcapPath != "" {
		f, err := os.Create(*pcapPath)
		if err != nil {
			log.Error(ctx, "failed to create pcap", logging.String("path", *pcapPath), logging.Err(err))
			os.Exit(1)
		}
		defer f.Close()
		capture = f
	}

	summary, err := Replay(ctx, sc, capture, log)
	if err != nil {
		log.Error(ctx, "replay failed", logging.Err(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Error(ctx, "failed to write summary", logging.Err(err))
		os.Exit(1)
	}
}

// Summary is what a replay produced.
type Summary struct {
	Steps         int                   `json:"steps"`
	Outcomes      map[string]int        `json:"outcomes"`
	Rules         []model.FlowRule      `json:"rules"`
	Groups        []model.Group         `json:"groups"`
	Packets       []model.PacketOut     `json:"packets"`
	StatsRequests []model.SwitchID      `json:"stats_requests"`
	Hosts         []topology.Attachment `json:"hosts"`
	ARPEntries    int                   `json:"arp_entries"`
	GraphVersion  uint64                `json:"graph_version"`
	Elapsed       time.Duration         `json:"elapsed"`
}

// Replay builds an engine around a recording commander and a fake scheduler
// and feeds it every step in order. Event errors are counted, not fatal.
func Replay(ctx context.Context, sc *Scenario, capture io.Writer, log logging.Logger) (*Summary, error) {
	policy, err := learning.ParsePolicy(sc.Policy)
	if err != nil {
		return nil, err
	}
	pathRouting := true
	if sc.PathRouting != nil {
		pathRouting = *sc.PathRouting
	}

	sched := sbi.NewFakeEventScheduler(replayEpoch)
	rec := sbi.NewRecordingCommander()

	graph := topology.NewGraph(topology.WithBandwidth(sc.Bandwidth.Table().Lookup))
	hosts := learning.NewRegistry(
		learning.WithPolicy(policy),
		learning.WithClock(sched.Clock()),
		learning.WithSeed(1),
	)
	tracker := arp.NewTracker(0)
	resolver := pathing.NewResolver(graph,
		pathing.WithParams(pathing.Params{K: sc.PathCount, Reference: sc.Bandwidth.Reference}),
		pathing.WithLogger(log),
	)
	poller := controller.NewStatsPoller(rec, sched, statsstore.NewMemory(0), sc.StatsInterval, log)

	eng, err := controller.NewEngine(controller.Deps{
		Graph:       graph,
		Learning:    hosts,
		Tracker:     tracker,
		Resolver:    resolver,
		Installer:   rules.NewInstaller(rec, rules.NewGroupTable(), log),
		Stats:       poller,
		Log:         log,
		PathRouting: pathRouting,
	})
	if err != nil {
		return nil, err
	}

	var pcap *frames.CaptureWriter
	if capture != nil {
		if pcap, err = frames.NewCaptureWriter(capture); err != nil {
			return nil, err
		}
	}

	poller.Start(ctx)
	defer poller.Stop()

	summary := &Summary{Outcomes: make(map[string]int)}
	written := 0
	for i, step := range sc.Steps {
		ev, err := step.Event()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if ev == nil {
			sched.Advance(step.Advance)
		} else {
			err := eng.Handle(ctx, ev)
			outcome := controller.Outcome(err)
			summary.Outcomes[outcome]++
			if err != nil {
				log.Debug(ctx, "step not handled cleanly",
					logging.Int("step", i),
					logging.EventKind(ev.Kind()),
					logging.String("outcome", outcome),
					logging.Err(err),
				)
			}
		}
		summary.Steps++

		if pcap != nil {
			packets := rec.Packets()
			for _, out := range packets[written:] {
				if len(out.Data) == 0 {
					continue
				}
				if err := pcap.Write(sched.Now(), out.Data); err != nil {
					return nil, fmt.Errorf("write pcap: %w", err)
				}
			}
			written = len(packets)
		}
	}

	summary.Rules = rec.Rules()
	summary.Groups = rec.Groups()
	summary.Packets = rec.Packets()
	summary.StatsRequests = rec.StatsRequests()
	summary.Hosts = graph.Snapshot().Hosts()
	summary.ARPEntries = tracker.Len()
	summary.GraphVersion = graph.Version()
	summary.Elapsed = sched.Now().Sub(replayEpoch)

	log.Info(ctx, "replay finished",
		logging.Int("steps", summary.Steps),
		logging.Int("rules", len(summary.Rules)),
		logging.Int("packets", len(summary.Packets)),
	)
	return summary, nil
}
