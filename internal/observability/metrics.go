package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/model"
)

// ControllerCollector bundles Prometheus metrics for the decision engine. It
// implements controller.Observer and controller.PortStatsObserver.
type ControllerCollector struct {
	gatherer prometheus.Gatherer

	Events        *prometheus.CounterVec
	EventDuration *prometheus.HistogramVec

	Switches   prometheus.Gauge
	Links      prometheus.Gauge
	Hosts      prometheus.Gauge
	ARPEntries prometheus.Gauge

	PortPackets *prometheus.GaugeVec
	PortBytes   *prometheus.GaugeVec
	PortErrors  *prometheus.GaugeVec
}

// NewControllerCollector registers engine metrics against reg, defaulting
// to the global Prometheus registry when nil.
func NewControllerCollector(reg prometheus.Registerer) (*ControllerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_events_total",
		Help: "Southbound events handled, labeled by kind and outcome (ok, dropped, error).",
	}, []string{"kind", "outcome"}), "fabric_events_total")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fabric_event_duration_seconds",
		Help:    "Time spent handling one southbound event.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
	}, []string{"kind"}), "fabric_event_duration_seconds")
	if err != nil {
		return nil, err
	}

	gauges := make([]prometheus.Gauge, 0, 4)
	for _, g := range []struct{ name, help string }{
		{"fabric_switches", "Switches in the topology graph."},
		{"fabric_links", "Bidirectional inter-switch links in the topology graph."},
		{"fabric_hosts", "Hosts attached in the topology graph."},
		{"fabric_arp_entries", "MAC addresses held by the ARP resolution tracker."},
	} {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		gauges = append(gauges, gauge)
	}

	portVecs := make([]*prometheus.GaugeVec, 0, 3)
	for _, v := range []struct{ name, help string }{
		{"fabric_port_packets", "Last polled packet counters per port and direction."},
		{"fabric_port_bytes", "Last polled byte counters per port and direction."},
		{"fabric_port_errors", "Last polled error and drop counters per port and direction."},
	} {
		vec, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: v.name,
			Help: v.help,
		}, []string{"dpid", "port", "direction"}), v.name)
		if err != nil {
			return nil, err
		}
		portVecs = append(portVecs, vec)
	}

	return &ControllerCollector{
		gatherer:      gatherer,
		Events:        events,
		EventDuration: duration,
		Switches:      gauges[0],
		Links:         gauges[1],
		Hosts:         gauges[2],
		ARPEntries:    gauges[3],
		PortPackets:   portVecs[0],
		PortBytes:     portVecs[1],
		PortErrors:    portVecs[2],
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ControllerCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveEvent counts one handled event.
func (c *ControllerCollector) ObserveEvent(kind model.EventKind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(string(kind), outcome).Inc()
	c.EventDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// SetTopologySize updates the graph gauges.
func (c *ControllerCollector) SetTopologySize(switches, links, hosts int) {
	if c == nil {
		return
	}
	c.Switches.Set(float64(switches))
	c.Links.Set(float64(links))
	c.Hosts.Set(float64(hosts))
}

// SetARPEntries updates the tracker gauge.
func (c *ControllerCollector) SetARPEntries(n int) {
	if c == nil {
		return
	}
	c.ARPEntries.Set(float64(n))
}

// ObservePortStats publishes the counters of one statistics reply.
func (c *ControllerCollector) ObservePortStats(sw model.SwitchID, ports []model.PortCounters) {
	if c == nil {
		return
	}
	dpid := sw.String()
	for _, p := range ports {
		port := strconv.FormatUint(uint64(p.Port), 10)
		c.PortPackets.WithLabelValues(dpid, port, "rx").Set(float64(p.RxPackets))
		c.PortPackets.WithLabelValues(dpid, port, "tx").Set(float64(p.TxPackets))
		c.PortBytes.WithLabelValues(dpid, port, "rx").Set(float64(p.RxBytes))
		c.PortBytes.WithLabelValues(dpid, port, "tx").Set(float64(p.TxBytes))
		c.PortErrors.WithLabelValues(dpid, port, "rx").Set(float64(p.RxErrors + p.RxDropped))
		c.PortErrors.WithLabelValues(dpid, port, "tx").Set(float64(p.TxErrors + p.TxDropped))
	}
}

// ForgetSwitch drops the port series of a departed switch.
func (c *ControllerCollector) ForgetSwitch(sw model.SwitchID) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"dpid": sw.String()}
	c.PortPackets.DeletePartialMatch(labels)
	c.PortBytes.DeletePartialMatch(labels)
	c.PortErrors.DeletePartialMatch(labels)
}

// RegisterCommandCounters exposes southbound command counters, read from m
// at scrape time.
func RegisterCommandCounters(reg prometheus.Registerer, m *sbi.SBIMetrics) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []struct {
		kind string
		read func(sbi.SBIMetricsSnapshot) uint64
	}{
		{"flow_mod", func(s sbi.SBIMetricsSnapshot) uint64 { return s.NumRulesInstalled }},
		{"group_add", func(s sbi.SBIMetricsSnapshot) uint64 { return s.NumGroupsAdded }},
		{"group_modify", func(s sbi.SBIMetricsSnapshot) uint64 { return s.NumGroupsModified }},
		{"packet_out", func(s sbi.SBIMetricsSnapshot) uint64 { return s.NumPacketsEmitted }},
		{"flood", func(s sbi.SBIMetricsSnapshot) uint64 { return s.NumFloods }},
		{"port_stats_request", func(s sbi.SBIMetricsSnapshot) uint64 { return s.NumStatsRequested }},
		{"send_error", func(s sbi.SBIMetricsSnapshot) uint64 { return s.NumSendErrors }},
	} {
		read := c.read
		counter := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "fabric_commands_total",
			Help:        "Southbound commands sent, labeled by kind.",
			ConstLabels: prometheus.Labels{"kind": c.kind},
		}, func() float64 { return float64(read(m.Snapshot())) })
		if err := reg.Register(counter); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return fmt.Errorf("register fabric_commands_total{kind=%q}: %w", c.kind, err)
		}
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
