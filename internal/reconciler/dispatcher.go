package reconciler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderkp/order-fill-tracker/internal/eventbus"
	"github.com/coderkp/order-fill-tracker/internal/models"
)

// Reconciler is one venue's fill-matching strategy.
type Reconciler interface {
	// Exchange returns the venue name orders are routed by.
	Exchange() string
	// Process attempts to enrich one order and reports whether it reached
	// FILLED. A (false, nil) return leaves the order for a later pass.
	Process(ctx context.Context, order models.Order) (bool, error)
}

// Dispatcher drains the buffer in batches and fans each batch out to the
// venue reconcilers under a concurrency cap. A batch is discarded from the
// buffer only after every worker has returned, so a crash mid-batch re-reads
// at most one batch.
type Dispatcher struct {
	buffer      *OrderBuffer
	reconcilers map[string]Reconciler
	bus         *eventbus.Bus
	batchSize   int
	interval    time.Duration
	sem         chan struct{}

	processed atomic.Int64
	filled    atomic.Int64
}

func NewDispatcher(buffer *OrderBuffer, reconcilers []Reconciler, bus *eventbus.Bus, batchSize, concurrency int, interval time.Duration) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	byVenue := make(map[string]Reconciler, len(reconcilers))
	for _, r := range reconcilers {
		byVenue[r.Exchange()] = r
	}
	return &Dispatcher{
		buffer:      buffer,
		reconcilers: byVenue,
		bus:         bus,
		batchSize:   batchSize,
		interval:    interval,
		sem:         make(chan struct{}, concurrency),
	}
}

// Start runs batches until the context is canceled. It blocks; run it in its
// own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	log.Printf("[dispatcher] starting, batch size %d, concurrency %d", d.batchSize, cap(d.sem))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[dispatcher] stopping")
			return
		case <-ticker.C:
			d.runBatch(ctx)
		}
	}
}

func (d *Dispatcher) runBatch(ctx context.Context) {
	batch := d.buffer.Peek(d.batchSize)
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, order := range batch {
		rec, ok := d.reconcilers[order.Exchange]
		if !ok {
			log.Printf("[dispatcher] order %d targets unknown venue %q, skipping", order.ID, order.Exchange)
			continue
		}

		wg.Add(1)
		d.sem <- struct{}{}
		go func(o models.Order, rec Reconciler) {
			defer wg.Done()
			defer func() { <-d.sem }()
			defer func() {
				if p := recover(); p != nil {
					log.Printf("[dispatcher] panic reconciling order %d: %v", o.ID, p)
				}
			}()

			filled, err := rec.Process(ctx, o)
			d.processed.Add(1)
			if err != nil {
				log.Printf("[dispatcher] order %d failed: %v", o.ID, err)
				return
			}
			if filled {
				d.filled.Add(1)
				if d.bus != nil {
					d.bus.Publish(eventbus.Event{
						Type:      eventbus.TypeOrderFilled,
						OrderID:   o.ID,
						Timestamp: time.Now(),
						Data: map[string]any{
							"pair":      o.Pair,
							"exchange":  o.Exchange,
							"side":      o.TradeSide,
							"stitch_id": o.StitchID,
						},
					})
				}
			}
		}(order, rec)
	}
	wg.Wait()

	// Orders that did not fill this pass are dropped with the batch. They
	// stay CREATED in the store, and a restart re-tails them from the
	// beginning.
	d.buffer.Discard(len(batch))
}

// Counters reports lifetime processed and filled counts for the status
// surface.
func (d *Dispatcher) Counters() (processed, filled int64) {
	return d.processed.Load(), d.filled.Load()
}
