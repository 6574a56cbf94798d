package reconciler

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/coderkp/order-fill-tracker/internal/models"
	"github.com/coderkp/order-fill-tracker/internal/repository"
	"github.com/coderkp/order-fill-tracker/internal/venue/okx"
)

// OKXClient is the slice of the OKX venue client the reconciler needs.
type OKXClient interface {
	FetchClosedOrders(ctx context.Context, symbol string, sinceMs int64) ([]okx.ClosedOrder, error)
}

// OrderStore persists fill enrichments.
type OrderStore interface {
	UpdateOrderFill(ctx context.Context, u repository.FillUpdate) error
}

// OKXReconcilerConfig carries the venue-side knobs for the CEX path.
type OKXReconcilerConfig struct {
	Pair           string
	QuoteToken     string
	MinCreatedMs   int64 // orders created before this are never reconciled
	MaxRefillPages int
	PurgeOnConsume bool
}

// OKXReconciler matches CREATED OKX orders against the venue's closed-order
// history and writes the fill enrichment. The closed-order cursor starts at
// the configured account cutoff and only moves forward, so each archive page
// is fetched once per process lifetime.
type OKXReconciler struct {
	client OKXClient
	store  OrderStore
	cache  *FillCache[okx.ClosedOrder]
	cfg    OKXReconcilerConfig

	sinceMs atomic.Int64
}

func NewOKXReconciler(client OKXClient, store OrderStore, cfg OKXReconcilerConfig) *OKXReconciler {
	r := &OKXReconciler{
		client: client,
		store:  store,
		cfg:    cfg,
	}
	r.sinceMs.Store(cfg.MinCreatedMs)
	r.cache = NewFillCache(r.refillPage, cfg.MaxRefillPages, time.Minute)
	return r
}

func (r *OKXReconciler) Exchange() string { return models.ExchangeOKX }

// refillPage fetches the next archive page and advances the time cursor past
// the newest fill observed. Single-flight refills in the cache make the
// cursor mutation race-free in practice; the atomic covers the status reads.
func (r *OKXReconciler) refillPage(ctx context.Context) (map[string]okx.ClosedOrder, error) {
	closed, err := r.client.FetchClosedOrders(ctx, r.cfg.Pair, r.sinceMs.Load())
	if err != nil {
		return nil, err
	}

	page := make(map[string]okx.ClosedOrder, len(closed))
	var maxFillTime int64
	for _, co := range closed {
		page[co.OrderID] = co
		if co.FillTime > maxFillTime {
			maxFillTime = co.FillTime
		}
	}
	if next := maxFillTime + 1; next > r.sinceMs.Load() {
		r.sinceMs.Store(next)
	}
	return page, nil
}

// Process reconciles one order. It reports whether the order transitioned to
// FILLED. Orders the venue has not closed yet are left untouched for a later
// pass.
func (r *OKXReconciler) Process(ctx context.Context, order models.Order) (bool, error) {
	if order.CreatedTime.UnixMilli() < r.cfg.MinCreatedMs {
		log.Printf("[okx-reconciler] order %d predates account cutoff, skipping", order.ID)
		return false, nil
	}
	if order.ExchangeOrderID == "" {
		log.Printf("[okx-reconciler] order %d has no exchange order id, skipping", order.ID)
		return false, nil
	}

	closed, ok, err := r.cache.Lookup(ctx, order.ExchangeOrderID)
	if err != nil {
		return false, err
	}
	if !ok {
		// Not in the archive yet.
		return false, nil
	}

	if closed.Status != "filled" {
		// Canceled or still partially live on the venue side; leave the row
		// CREATED and let the placement system's own cancel path settle it.
		log.Printf("[okx-reconciler] order %d closed with venue state %q, not enriching", order.ID, closed.Status)
		if r.cfg.PurgeOnConsume {
			r.cache.Purge(order.ExchangeOrderID)
		}
		return false, nil
	}

	avg := closed.AverageFillPrice.RoundBank(4)
	update := repository.FillUpdate{
		OrderID:          order.ID,
		Status:           models.StatusFilled,
		AverageFillPrice: &avg,
		FeeInfo: map[string]any{
			"fee":       closed.Fee.Amount.InexactFloat64(),
			"fee_token": closed.Fee.Token,
		},
	}
	if err := r.store.UpdateOrderFill(ctx, update); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.Printf("[okx-reconciler] order %d vanished from store, dropping", order.ID)
			return false, nil
		}
		return false, err
	}

	if r.cfg.PurgeOnConsume {
		r.cache.Purge(order.ExchangeOrderID)
	}
	log.Printf("[okx-reconciler] order %d filled, avg price %s", order.ID, avg)
	return true, nil
}

// CursorMs exposes the archive cursor for the status surface.
func (r *OKXReconciler) CursorMs() int64 { return r.sinceMs.Load() }
