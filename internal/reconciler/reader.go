package reconciler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coderkp/order-fill-tracker/internal/models"
)

// OrderSource is the slice of the repository the reader needs.
type OrderSource interface {
	FetchCreatedOrdersSince(ctx context.Context, after time.Time, minSize decimal.Decimal, limit int) ([]models.Order, error)
}

// TailingReader polls the order table for new CREATED rows and stages them
// in the buffer. The watermark is the created_time of the newest row that
// made it into the buffer, so rows dropped by a full buffer are picked up
// again on the next poll.
type TailingReader struct {
	source   OrderSource
	buffer   *OrderBuffer
	minSize  decimal.Decimal
	pageSize int
	interval time.Duration

	mu        sync.Mutex
	watermark time.Time
}

func NewTailingReader(source OrderSource, buffer *OrderBuffer, minSize decimal.Decimal, pageSize int, interval time.Duration) *TailingReader {
	return &TailingReader{
		source:   source,
		buffer:   buffer,
		minSize:  minSize,
		pageSize: pageSize,
		interval: interval,
	}
}

// Start polls immediately, then on every tick until the context is canceled.
// It blocks; run it in its own goroutine.
func (r *TailingReader) Start(ctx context.Context) {
	log.Printf("[reader] starting, poll interval %s, page size %d", r.interval, r.pageSize)

	r.poll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[reader] stopping")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *TailingReader) poll(ctx context.Context) {
	r.mu.Lock()
	after := r.watermark
	r.mu.Unlock()

	orders, err := r.source.FetchCreatedOrdersSince(ctx, after, r.minSize, r.pageSize)
	if err != nil {
		log.Printf("[reader] fetch failed: %v", err)
		return
	}
	if len(orders) == 0 {
		return
	}

	appended := r.buffer.Append(orders)
	if appended < len(orders) {
		log.Printf("[reader] CRITICAL: buffer full, dropped %d of %d new orders; reconciliation is falling behind",
			len(orders)-appended, len(orders))
	}
	if appended > 0 {
		r.mu.Lock()
		r.watermark = orders[appended-1].CreatedTime
		r.mu.Unlock()
		log.Printf("[reader] staged %d orders, watermark %s", appended, orders[appended-1].CreatedTime.Format(time.RFC3339))
	}
}

// Watermark reports the current tail position for the status surface.
func (r *TailingReader) Watermark() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermark
}
