package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PathCollector exposes path resolver metrics. It implements
// pathing.Observer.
type PathCollector struct {
	gatherer prometheus.Gatherer

	PathComputationDuration prometheus.Histogram
	PathComputationFailures prometheus.Counter
	PathCacheHitRatio       prometheus.Gauge
	CoalescedTotal          prometheus.Counter
}

// NewPathCollector registers resolver metrics against the provided registerer.
func NewPathCollector(reg prometheus.Registerer) (*PathCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	pathHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fabric_path_computation_duration_seconds",
		Help:    "Duration of K-shortest path computations.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	pathHistogram, err := registerHistogram(reg, pathHistogram, "fabric_path_computation_duration_seconds")
	if err != nil {
		return nil, err
	}

	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fabric_path_computation_failures_total",
		Help: "Path computations that found no route or an inconsistent graph.",
	})
	failures, err = registerCounter(reg, failures, "fabric_path_computation_failures_total")
	if err != nil {
		return nil, err
	}

	cacheRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_path_cache_hit_ratio",
		Help: "Hit ratio of the version-keyed path cache.",
	})
	cacheRatio, err = registerGauge(reg, cacheRatio, "fabric_path_cache_hit_ratio")
	if err != nil {
		return nil, err
	}

	coalesced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fabric_path_requests_coalesced_total",
		Help: "Path requests served by a computation already in flight.",
	})
	coalesced, err = registerCounter(reg, coalesced, "fabric_path_requests_coalesced_total")
	if err != nil {
		return nil, err
	}

	return &PathCollector{
		gatherer:                gatherer,
		PathComputationDuration: pathHistogram,
		PathComputationFailures: failures,
		PathCacheHitRatio:       cacheRatio,
		CoalescedTotal:          coalesced,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PathCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePathComputation records one computation and counts it as a failure
// when err is non-nil.
func (c *PathCollector) ObservePathComputation(d time.Duration, err error) {
	if c == nil || c.PathComputationDuration == nil {
		return
	}
	c.PathComputationDuration.Observe(d.Seconds())
	if err != nil {
		c.PathComputationFailures.Inc()
	}
}

// SetPathCacheHitRatio sets the cache hit ratio, clamped to [0, 1].
func (c *PathCollector) SetPathCacheHitRatio(ratio float64) {
	if c == nil || c.PathCacheHitRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.PathCacheHitRatio.Set(ratio)
}

// IncCoalesced increments the coalesced request counter.
func (c *PathCollector) IncCoalesced() {
	if c == nil || c.CoalescedTotal == nil {
		return
	}
	c.CoalescedTotal.Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
