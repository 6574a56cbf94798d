package analytics

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/coderkp/order-fill-tracker/internal/eventbus"
)

// PerformanceStore is the slice of the repository the worker needs.
type PerformanceStore interface {
	RecomputeArbPerformance(ctx context.Context) (int64, error)
}

// Worker keeps the arb_performance roll-up current. It recomputes only
// after fill events arrive, batched behind a ticker so a burst of fills
// costs one recompute.
type Worker struct {
	store    PerformanceStore
	bus      *eventbus.Bus
	interval time.Duration
	dirty    atomic.Bool
}

func NewWorker(store PerformanceStore, bus *eventbus.Bus, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{store: store, bus: bus, interval: interval}
}

// Start listens for fill events until the context is canceled. It blocks;
// run it in its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	fills := make(chan eventbus.Event, 64)
	w.bus.Subscribe(eventbus.TypeOrderFilled, fills)

	// One recompute at startup picks up fills from previous runs.
	w.dirty.Store(true)

	log.Printf("[analytics] starting, recompute interval %s", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[analytics] stopping")
			return
		case <-fills:
			w.dirty.Store(true)
		case <-ticker.C:
			if !w.dirty.Swap(false) {
				continue
			}
			w.recompute(ctx)
		}
	}
}

func (w *Worker) recompute(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := w.store.RecomputeArbPerformance(ctx)
	if err != nil {
		log.Printf("[analytics] recompute failed: %v", err)
		// Retry on the next tick.
		w.dirty.Store(true)
		return
	}
	if n > 0 {
		log.Printf("[analytics] recomputed %d stitches", n)
	}
}
