package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/fabric-controller/model"
)

type orderHandler struct {
	mu    sync.Mutex
	seen  map[model.SwitchID][]model.PortNo
	total int
	done  chan struct{}
	want  int
}

func (h *orderHandler) Handle(_ context.Context, ev model.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	lr := ev.(model.LinkRemoved)
	h.seen[lr.Src] = append(h.seen[lr.Src], lr.SrcPort)
	h.total++
	if h.total == h.want {
		close(h.done)
	}
	if lr.SrcPort%7 == 0 {
		return errors.New("handler failure")
	}
	return nil
}

func TestDispatcherKeepsPerSwitchOrder(t *testing.T) {
	const perSwitch = 50
	h := &orderHandler{seen: make(map[model.SwitchID][]model.PortNo), done: make(chan struct{}), want: 3 * perSwitch}
	d := NewDispatcher(h, 4, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	for i := 1; i <= perSwitch; i++ {
		for sw := model.SwitchID(1); sw <= 3; sw++ {
			if err := d.Submit(ctx, model.LinkRemoved{Src: sw, SrcPort: model.PortNo(i)}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
		}
	}

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("events not handled in time")
	}
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sw, ports := range h.seen {
		for i, p := range ports {
			if p != model.PortNo(i+1) {
				t.Fatalf("switch %d handled out of order: %v", sw, ports)
			}
		}
	}

	if err := d.Submit(context.Background(), model.SwitchJoined{Switch: 1}); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("Submit after stop = %v", err)
	}
}

func TestDispatcherShardsByOrigin(t *testing.T) {
	d := NewDispatcher(nil, 4, 1, nil)
	if d.Workers() != 4 {
		t.Fatalf("workers = %d", d.Workers())
	}
	if d.shard(5) != d.shard(9) || d.shard(5) == d.shard(6) {
		t.Fatalf("shard mapping not modulo worker count")
	}
}

func TestDispatcherRunsOnce(t *testing.T) {
	d := NewDispatcher(nil, 2, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("first Run: %v", err)
	}
	if err := d.Run(context.Background()); !errors.Is(err, ErrDispatcherStarted) {
		t.Fatalf("second Run err = %v, want ErrDispatcherStarted", err)
	}
	ev := model.LinkRemoved{Src: 1, SrcPort: 1, Dst: 2, DstPort: 1}
	if err := d.Submit(context.Background(), ev); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("Submit after stop err = %v, want ErrDispatcherStopped", err)
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		OutcomeOK:      nil,
		OutcomeDropped: errors.Join(errors.New("ctx"), model.ErrNoRoute),
		OutcomeError:   errors.New("commander closed"),
	}
	for want, err := range cases {
		if got := Outcome(err); got != want {
			t.Fatalf("Outcome(%v) = %s, want %s", err, got, want)
		}
	}
}
