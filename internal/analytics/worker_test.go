package analytics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coderkp/order-fill-tracker/internal/eventbus"
)

type fakePerfStore struct {
	recomputes atomic.Int32
}

func (s *fakePerfStore) RecomputeArbPerformance(ctx context.Context) (int64, error) {
	s.recomputes.Add(1)
	return 1, nil
}

func TestWorker_RecomputesOnceAfterFillBurst(t *testing.T) {
	store := &fakePerfStore{}
	bus := eventbus.New()
	defer bus.Close()

	w := NewWorker(store, bus, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// Give the worker time to subscribe and run the startup recompute.
	time.Sleep(120 * time.Millisecond)
	startup := store.recomputes.Load()
	if startup < 1 {
		t.Fatal("expected a startup recompute")
	}

	for i := 0; i < 10; i++ {
		bus.Publish(eventbus.Event{Type: eventbus.TypeOrderFilled, OrderID: int64(i)})
	}
	time.Sleep(120 * time.Millisecond)

	after := store.recomputes.Load()
	if after == startup {
		t.Error("expected a recompute after fills")
	}
	if after-startup > 3 {
		t.Errorf("burst of 10 fills triggered %d recomputes", after-startup)
	}

	// Quiet period: no further recomputes.
	quiet := store.recomputes.Load()
	time.Sleep(150 * time.Millisecond)
	if store.recomputes.Load() != quiet {
		t.Error("recompute ran without new fills")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
