package controller

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/model"
)

// Default dispatcher sizing.
const (
	DefaultWorkers    = 8
	DefaultQueueDepth = 256
)

var (
	// ErrDispatcherStopped is returned by Submit once Run has returned.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	// ErrDispatcherStarted is returned by every Run call after the first.
	ErrDispatcherStarted = errors.New("dispatcher already started")
)

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev model.Event) error
}

// Dispatcher fans events out to a fixed set of workers. Events are sharded
// by origin switch, so one switch's events are handled in arrival order
// while different switches proceed in parallel.
type Dispatcher struct {
	handler Handler
	log     logging.Logger
	queues  []chan model.Event
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

// NewDispatcher creates a dispatcher with workers queues of depth each.
func NewDispatcher(h Handler, workers, depth int, log logging.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if log == nil {
		log = logging.Noop()
	}
	d := &Dispatcher{
		handler: h,
		log:     log,
		queues:  make([]chan model.Event, workers),
		done:    make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = make(chan model.Event, depth)
	}
	return d
}

// Workers returns the number of shards.
func (d *Dispatcher) Workers() int { return len(d.queues) }

func (d *Dispatcher) shard(sw model.SwitchID) int {
	return int(uint64(sw) % uint64(len(d.queues)))
}

// Submit queues ev on its origin's shard, blocking while the shard is full.
func (d *Dispatcher) Submit(ctx context.Context, ev model.Event) error {
	if ev == nil {
		return nil
	}
	if d.stopped.Load() {
		return ErrDispatcherStopped
	}
	select {
	case d.queues[d.shard(ev.Origin())] <- ev:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run handles events until ctx is done. Handler errors are logged and never
// stop a worker. Events still queued when ctx ends are discarded. A
// dispatcher runs once; later calls return ErrDispatcherStarted.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrDispatcherStarted
	}
	g, ctx := errgroup.WithContext(ctx)
	for i, q := range d.queues {
		g.Go(func() error {
			d.worker(ctx, i, q)
			return nil
		})
	}
	err := g.Wait()
	d.stopped.Store(true)
	close(d.done)
	return err
}

func (d *Dispatcher) worker(ctx context.Context, id int, q <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q:
			d.dispatch(ctx, id, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, id int, ev model.Event) {
	err := d.handler.Handle(ctx, ev)
	if err == nil {
		return
	}
	fields := []logging.Field{
		logging.EventKind(ev.Kind()),
		logging.Switch(ev.Origin()),
		logging.Int("worker", id),
		logging.Err(err),
	}
	switch Outcome(err) {
	case OutcomeDropped:
		d.log.Warn(ctx, "event dropped", fields...)
	default:
		d.log.Error(ctx, "event handling failed", fields...)
	}
}
