// Package config loads the controller's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/model"
)

// Defaults.
const (
	DefaultReferenceBandwidth uint64 = 10_000_000
	DefaultLinkBandwidth      uint64 = 10_000_000
	DefaultPathCount                 = 2
	DefaultMaxPaths                  = 64
	DefaultWorkers                   = 8
	DefaultIPFreshness               = time.Second
	DefaultStatsInterval             = 10 * time.Second
	DefaultMaxHostsPerSwitch         = 4096
	DefaultHostIdleTTL               = 10 * time.Minute
	DefaultMaxARPEntries             = 65536
	DefaultResolverParallel          = 4
	DefaultServiceName               = "fabric-controller"
	DefaultOTLPEndpoint              = "localhost:4317"
)

// ControllerConfig holds the decision engine settings.
type ControllerConfig struct {
	// PathRouting enables multi-path installation for unknown destinations.
	// When false the engine floods, like a plain learning switch.
	PathRouting bool `yaml:"path_routing"`
	// Policy is the egress-port selection policy: round-robin, random or
	// avoid-last-used.
	Policy string `yaml:"policy"`
	// PathCount is how many of the cheapest paths are installed.
	PathCount int `yaml:"path_count"`
	// MaxPaths caps simple-path enumeration. Zero means unbounded.
	MaxPaths int `yaml:"max_paths"`
	// ResolverParallel bounds concurrent path computations.
	ResolverParallel int           `yaml:"resolver_parallel"`
	Workers          int           `yaml:"workers"`
	IPFreshness      time.Duration `yaml:"ip_freshness"`
	StatsInterval    time.Duration `yaml:"stats_interval"`
}

// LearningConfig bounds per-switch host state.
type LearningConfig struct {
	MaxHostsPerSwitch int           `yaml:"max_hosts_per_switch"`
	HostIdleTTL       time.Duration `yaml:"host_idle_ttl"`
	MaxARPEntries     int           `yaml:"max_arp_entries"`
}

// BandwidthEntry overrides the bandwidth of one port direction.
type BandwidthEntry struct {
	Switch string `yaml:"switch"`
	Port   uint32 `yaml:"port"`
	BPS    uint64 `yaml:"bps"`
}

// BandwidthConfig holds the static link capacity table.
type BandwidthConfig struct {
	Reference uint64           `yaml:"reference"`
	Default   uint64           `yaml:"default"`
	Links     []BandwidthEntry `yaml:"links"`
}

// NATSConfig configures the southbound bus bridge. An empty URL disables it.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Name          string        `yaml:"name"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// ClickHouseConfig configures the statistics sink.
type ClickHouseConfig struct {
	Addr     []string `yaml:"addr"`
	Database string   `yaml:"database"`
	Table    string   `yaml:"table"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// StatsConfig selects the statistics sink.
type StatsConfig struct {
	Sink       string           `yaml:"sink"` // memory or clickhouse
	Retain     int              `yaml:"retain"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// NBIConfig configures the northbound listeners. Empty addresses disable them.
type NBIConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// TracingConfig configures span export. FABRIC_TRACING_* environment
// variables override it at startup.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // stdout or otlp
	ServiceName string `yaml:"service_name"`
	// SampleRatio is the parent-based trace ID ratio. Zero means 1.
	SampleRatio float64 `yaml:"sample_ratio"`
	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Config is the top-level configuration.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Learning   LearningConfig   `yaml:"learning"`
	Bandwidth  BandwidthConfig  `yaml:"bandwidth"`
	NATS       NATSConfig       `yaml:"nats"`
	Stats      StatsConfig      `yaml:"stats"`
	NBI        NBIConfig        `yaml:"nbi"`
	Log        logging.Config   `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Controller: ControllerConfig{PathRouting: true}}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults for unset fields and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Controller: ControllerConfig{PathRouting: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config YAML: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Controller.Policy == "" {
		c.Controller.Policy = "round-robin"
	}
	if c.Controller.PathCount == 0 {
		c.Controller.PathCount = DefaultPathCount
	}
	if c.Controller.MaxPaths == 0 {
		c.Controller.MaxPaths = DefaultMaxPaths
	}
	if c.Controller.ResolverParallel == 0 {
		c.Controller.ResolverParallel = DefaultResolverParallel
	}
	if c.Controller.Workers == 0 {
		c.Controller.Workers = DefaultWorkers
	}
	if c.Controller.IPFreshness == 0 {
		c.Controller.IPFreshness = DefaultIPFreshness
	}
	if c.Controller.StatsInterval == 0 {
		c.Controller.StatsInterval = DefaultStatsInterval
	}
	if c.Learning.MaxHostsPerSwitch == 0 {
		c.Learning.MaxHostsPerSwitch = DefaultMaxHostsPerSwitch
	}
	if c.Learning.HostIdleTTL == 0 {
		c.Learning.HostIdleTTL = DefaultHostIdleTTL
	}
	if c.Learning.MaxARPEntries == 0 {
		c.Learning.MaxARPEntries = DefaultMaxARPEntries
	}
	if c.Bandwidth.Reference == 0 {
		c.Bandwidth.Reference = DefaultReferenceBandwidth
	}
	if c.Bandwidth.Default == 0 {
		c.Bandwidth.Default = DefaultLinkBandwidth
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "fabric"
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "fabric-controller"
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.Stats.Sink == "" {
		c.Stats.Sink = "memory"
	}
	if c.Stats.Retain == 0 {
		c.Stats.Retain = 64
	}
	if c.Stats.ClickHouse.Table == "" {
		c.Stats.ClickHouse.Table = "port_stats"
	}
	if c.Stats.ClickHouse.Database == "" {
		c.Stats.ClickHouse.Database = "default"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = DefaultOTLPEndpoint
	}
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch c.Controller.Policy {
	case "round-robin", "random", "avoid-last-used":
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, c.Controller.Policy)
	}
	if c.Controller.PathCount < 1 {
		return fmt.Errorf("%w: path_count must be >= 1", ErrInvalidConfig)
	}
	if c.Controller.MaxPaths < 0 {
		return fmt.Errorf("%w: max_paths must be >= 0", ErrInvalidConfig)
	}
	if c.Controller.Workers < 1 || c.Controller.ResolverParallel < 1 {
		return fmt.Errorf("%w: workers and resolver_parallel must be >= 1", ErrInvalidConfig)
	}
	if c.Controller.IPFreshness < 0 || c.Controller.StatsInterval < 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	for i, l := range c.Bandwidth.Links {
		if _, err := model.ParseSwitchID(l.Switch); err != nil {
			return fmt.Errorf("%w: bandwidth.links[%d]: %v", ErrInvalidConfig, i, err)
		}
		if l.BPS == 0 {
			return fmt.Errorf("%w: bandwidth.links[%d]: bps must be > 0", ErrInvalidConfig, i)
		}
	}
	switch c.Stats.Sink {
	case "memory":
	case "clickhouse":
		if len(c.Stats.ClickHouse.Addr) == 0 {
			return fmt.Errorf("%w: stats.clickhouse.addr is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown stats sink %q", ErrInvalidConfig, c.Stats.Sink)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: log: %v", ErrInvalidConfig, err)
	}
	switch c.Tracing.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("%w: unknown tracing exporter %q", ErrInvalidConfig, c.Tracing.Exporter)
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// PortKey identifies one port direction in the bandwidth table.
type PortKey struct {
	Switch model.SwitchID
	Port   model.PortNo
}

// BandwidthTable resolves the configured capacity of each port direction.
type BandwidthTable struct {
	def   uint64
	ports map[PortKey]uint64
}

// Table builds the lookup table. Validate must have succeeded.
func (b BandwidthConfig) Table() BandwidthTable {
	t := BandwidthTable{def: b.Default, ports: make(map[PortKey]uint64, len(b.Links))}
	if t.def == 0 {
		t.def = DefaultLinkBandwidth
	}
	for _, l := range b.Links {
		sw, err := model.ParseSwitchID(l.Switch)
		if err != nil {
			continue
		}
		t.ports[PortKey{Switch: sw, Port: model.PortNo(l.Port)}] = l.BPS
	}
	return t
}

// Lookup returns the bandwidth for (sw, port), or the default.
func (t BandwidthTable) Lookup(sw model.SwitchID, port model.PortNo) uint64 {
	if bw, ok := t.ports[PortKey{Switch: sw, Port: port}]; ok {
		return bw
	}
	if t.def == 0 {
		return DefaultLinkBandwidth
	}
	return t.def
}
