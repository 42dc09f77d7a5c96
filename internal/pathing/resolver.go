package pathing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/model"
)

// Observer receives resolver measurements. observability.PathCollector
// implements it.
type Observer interface {
	ObservePathComputation(d time.Duration, err error)
	SetPathCacheHitRatio(ratio float64)
	IncCoalesced()
}

type noopObserver struct{}

func (noopObserver) ObservePathComputation(time.Duration, error) {}
func (noopObserver) SetPathCacheHitRatio(float64)                {}
func (noopObserver) IncCoalesced()                               {}

// Resolution is a resolved path set together with the snapshot it was
// computed on, so ports can be annotated consistently.
type Resolution struct {
	Snapshot *topology.Snapshot
	Paths    []RankedPath
}

// Resolver computes path sets off the ingestion path. Concurrent requests for
// the same (src, dst) at the same graph version share one computation, and
// at most Parallel computations run at once.
type Resolver struct {
	graph    *topology.Graph
	params   Params
	sem      *semaphore.Weighted
	group    singleflight.Group
	cache    *Cache
	observer Observer
	tracer   trace.Tracer
	log      logging.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithParams sets K, MaxPaths and the reference bandwidth.
func WithParams(p Params) ResolverOption { return func(r *Resolver) { r.params = p.withDefaults() } }

// WithParallel bounds concurrent computations.
func WithParallel(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithCache replaces the default cache.
func WithCache(c *Cache) ResolverOption { return func(r *Resolver) { r.cache = c } }

// WithObserver records metrics.
func WithObserver(o Observer) ResolverOption {
	return func(r *Resolver) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewResolver creates a resolver over g.
func NewResolver(g *topology.Graph, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		graph:    g,
		params:   Params{}.withDefaults(),
		sem:      semaphore.NewWeighted(4),
		cache:    NewCache(0),
		observer: noopObserver{},
		tracer:   otel.Tracer("github.com/signalsfoundry/fabric-controller/internal/pathing"),
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Params returns the selection parameters in use.
func (r *Resolver) Params() Params { return r.params }

// Cache returns the resolver's cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolve returns the K cheapest paths from src to dst on the current graph.
func (r *Resolver) Resolve(ctx context.Context, src, dst model.SwitchID) (Resolution, error) {
	snap := r.graph.Snapshot()
	version := snap.Version()

	if paths, ok := r.cache.Get(src, dst, version); ok {
		r.observer.SetPathCacheHitRatio(r.cache.HitRatio())
		return Resolution{Snapshot: snap, Paths: paths}, nil
	}
	r.observer.SetPathCacheHitRatio(r.cache.HitRatio())

	key := fmt.Sprintf("%d>%d@%d", src, dst, version)
	v, err, shared := r.group.Do(key, func() (any, error) {
		return r.compute(ctx, snap, src, dst)
	})
	if shared {
		r.observer.IncCoalesced()
	}
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Snapshot: snap, Paths: cloneRanked(v.([]RankedPath))}, nil
}

func (r *Resolver) compute(ctx context.Context, snap *topology.Snapshot, src, dst model.SwitchID) ([]RankedPath, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	ctx, span := r.tracer.Start(ctx, "pathing.Resolve", trace.WithAttributes(
		attribute.Int64("fabric.src_dpid", int64(src)),
		attribute.Int64("fabric.dst_dpid", int64(dst)),
		attribute.Int64("fabric.graph_version", int64(snap.Version())),
		attribute.Int("fabric.k", r.params.K),
	))
	defer span.End()

	start := time.Now()
	paths, err := SelectPaths(snap, topology.SwitchNode(src), topology.SwitchNode(dst), r.params)
	elapsed := time.Since(start)
	r.observer.ObservePathComputation(elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Debug(ctx, "path resolution failed",
			logging.Uint64("src_dpid", uint64(src)),
			logging.Uint64("dst_dpid", uint64(dst)),
			logging.Err(err),
		)
		return nil, err
	}
	span.SetAttributes(attribute.Int("fabric.paths", len(paths)))
	r.cache.Put(src, dst, snap.Version(), paths)
	r.log.Debug(ctx, "paths resolved",
		logging.Uint64("src_dpid", uint64(src)),
		logging.Uint64("dst_dpid", uint64(dst)),
		logging.Int("paths", len(paths)),
		logging.Duration("elapsed", elapsed),
	)
	return paths, nil
}
