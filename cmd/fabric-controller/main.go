package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/fabric-controller/internal/arp"
	"github.com/signalsfoundry/fabric-controller/internal/config"
	"github.com/signalsfoundry/fabric-controller/internal/controller"
	"github.com/signalsfoundry/fabric-controller/internal/learning"
	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/nbi"
	"github.com/signalsfoundry/fabric-controller/internal/observability"
	"github.com/signalsfoundry/fabric-controller/internal/pathing"
	"github.com/signalsfoundry/fabric-controller/internal/rules"
	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/sbi/natsbus"
	"github.com/signalsfoundry/fabric-controller/internal/statsstore"
	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/timectrl"
)

func main() {
	configPath := flag.String("config", "configs/controller.yaml", "Path to the controller YAML configuration")
	httpAddr := flag.String("http-addr", "", "Override nbi.http_addr")
	grpcAddr := flag.String("grpc-addr", "", "Override nbi.grpc_addr")
	natsURL := flag.String("nats-url", "", "Override nats.url")
	pathRouting := flag.Bool("path-routing", true, "Install multi-path rules for hosts attached elsewhere in the fabric")
	flag.Parse()

	log := logging.NewFromEnv("fabric-controller")
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load configuration", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.NBI.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.NBI.GRPCAddr = *grpcAddr
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "path-routing" {
			cfg.Controller.PathRouting = *pathRouting
		}
	})

	logCfg := cfg.Log.OverrideFromEnv()
	logCfg.Component = "fabric-controller"
	log = logging.New(logCfg)

	tracing, ignored := observability.NewTracingConfig(cfg).OverrideFromEnv()
	for _, name := range ignored {
		log.Warn(ctx, "ignoring invalid tracing override", logging.String("env", name))
	}
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(stopCtx, cfg, log, nil)
	if err != nil {
		log.Error(ctx, "failed to build controller", logging.Err(err))
		os.Exit(1)
	}
	defer a.close()

	if err := a.run(stopCtx); err != nil {
		log.Error(ctx, "controller exited", logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "controller stopped")
}

// app is the wired controller process.
type app struct {
	cfg *config.Config
	log logging.Logger

	registry *prometheus.Registry
	bus      *natsbus.Bus
	commands *sbi.CountingCommander
	clock    *timectrl.TimeController

	graph      *topology.Graph
	engine     *controller.Engine
	poller     *controller.StatsPoller
	dispatcher *controller.Dispatcher
	stats      *statsstore.Memory

	metrics    *observability.ControllerCollector
	nbiMetrics *observability.NBICollector
	api        *nbi.API
	grpc       *nbi.GRPCServer

	closers []func() error
}

// newApp wires every component. southbound overrides the NATS commander;
// when both are absent commands are only recorded.
func newApp(ctx context.Context, cfg *config.Config, log logging.Logger, southbound sbi.Commander) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var err error
	if a.metrics, err = observability.NewControllerCollector(a.registry); err != nil {
		return nil, err
	}
	pathMetrics, err := observability.NewPathCollector(a.registry)
	if err != nil {
		return nil, err
	}
	if a.nbiMetrics, err = observability.NewNBICollector(a.registry); err != nil {
		return nil, err
	}

	if southbound == nil && cfg.NATS.URL != "" {
		bus, err := natsbus.Connect(cfg.NATS, log)
		if err != nil {
			return nil, err
		}
		a.bus = bus
		a.closers = append(a.closers, bus.Close)
		southbound = bus.Commander()
	}
	if southbound == nil {
		log.Warn(ctx, "no southbound bus configured; commands are recorded only")
		southbound = sbi.NewRecordingCommander()
	}
	a.commands = sbi.NewCountingCommander(southbound, sbi.NewSBIMetrics())
	if err := observability.RegisterCommandCounters(a.registry, a.commands.Metrics()); err != nil {
		return nil, err
	}

	policy, err := learning.ParsePolicy(cfg.Controller.Policy)
	if err != nil {
		return nil, err
	}
	bandwidth := cfg.Bandwidth.Table()
	a.graph = topology.NewGraph(topology.WithBandwidth(bandwidth.Lookup))
	hosts := learning.NewRegistry(
		learning.WithPolicy(policy),
		learning.WithFreshness(cfg.Controller.IPFreshness),
		learning.WithCapacity(cfg.Learning.MaxHostsPerSwitch, cfg.Learning.HostIdleTTL),
	)
	tracker := arp.NewTracker(cfg.Learning.MaxARPEntries)
	resolver := pathing.NewResolver(a.graph,
		pathing.WithParams(pathing.Params{
			K:         cfg.Controller.PathCount,
			MaxPaths:  cfg.Controller.MaxPaths,
			Reference: cfg.Bandwidth.Reference,
		}),
		pathing.WithParallel(cfg.Controller.ResolverParallel),
		pathing.WithObserver(pathMetrics),
		pathing.WithLogger(log),
	)
	installer := rules.NewInstaller(a.commands, rules.NewGroupTable(), log)

	a.stats = statsstore.NewMemory(cfg.Stats.Retain)
	sinks := statsstore.Multi{a.stats}
	if cfg.Stats.Sink == "clickhouse" {
		writer, err := statsstore.NewClickHouseWriter(ctx, cfg.Stats.ClickHouse, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, writer.Close)
		sinks = append(sinks, writer)
	}

	a.clock = timectrl.NewTimeController(time.Now(), time.Second)
	scheduler := sbi.NewEventScheduler(a.clock)
	a.clock.AddListener(func(time.Time) { scheduler.RunDue() })

	a.poller = controller.NewStatsPoller(a.commands, scheduler, sinks, cfg.Controller.StatsInterval, log)
	a.poller.Observer = a.metrics

	a.engine, err = controller.NewEngine(controller.Deps{
		Graph:       a.graph,
		Learning:    hosts,
		Tracker:     tracker,
		Resolver:    resolver,
		Installer:   installer,
		Stats:       a.poller,
		Observer:    a.metrics,
		Log:         log,
		PathRouting: cfg.Controller.PathRouting,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.dispatcher = controller.NewDispatcher(a.engine, cfg.Controller.Workers, controller.DefaultQueueDepth, log)

	a.api = &nbi.API{
		Graph:    a.graph,
		Learning: hosts,
		Tracker:  tracker,
		Resolver: resolver,
		Poller:   a.poller,
		Stats:    a.stats,
		Commands: a.commands.Metrics(),
		Metrics:  a.nbiMetrics,
		Log:      log,
	}
	a.grpc = nbi.NewGRPCServer(log, a.nbiMetrics)

	log.Info(ctx, "controller wired",
		logging.Bool("path_routing", cfg.Controller.PathRouting),
		logging.String("policy", policy.String()),
		logging.Int("workers", a.dispatcher.Workers()),
		logging.Duration("stats_interval", a.poller.Interval),
		logging.String("stats_sink", cfg.Stats.Sink),
	)
	return a, nil
}

// run serves until ctx is done. The first component error cancels the rest.
func (a *app) run(parent context.Context) error {
	parent, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(parent)
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		a.poller.Stop()
		return err
	}

	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error {
		<-a.clock.Start(ctx)
		return nil
	})
	a.poller.Start(ctx)

	if a.bus != nil {
		if err := a.bus.Subscribe(ctx, a.dispatcher.Submit); err != nil {
			return abort(err)
		}
	}

	if addr := a.cfg.NBI.HTTPAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.api.Router(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return nbi.Serve(ctx, srv, a.log) })
	}
	if addr := a.cfg.NBI.MetricsAddr; addr != "" && addr != a.cfg.NBI.HTTPAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return nbi.Serve(ctx, srv, a.log) })
	}
	if addr := a.cfg.NBI.GRPCAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return abort(fmt.Errorf("listen for grpc on %s: %w", addr, err))
		}
		g.Go(func() error { return a.grpc.Serve(ctx, lis) })
	}
	a.grpc.SetServing(true)

	err := g.Wait()
	a.poller.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn(context.Background(), "close failed", logging.Err(err))
		}
	}
	a.closers = nil
}
