package reconciler

import (
	"sync"

	"github.com/coderkp/order-fill-tracker/internal/models"
)

// OrderBuffer is a bounded FIFO staging area between the tailing reader and
// the dispatcher. When full, Append keeps the oldest work and drops the
// newest; the reader's watermark only advances past rows that made it in, so
// dropped rows are re-read on a later poll.
type OrderBuffer struct {
	mu       sync.Mutex
	orders   []models.Order
	capacity int
}

func NewOrderBuffer(capacity int) *OrderBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &OrderBuffer{capacity: capacity}
}

// Append adds orders in the given sequence until the buffer is full and
// returns how many were accepted.
func (b *OrderBuffer) Append(orders []models.Order) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.capacity - len(b.orders)
	if room <= 0 {
		return 0
	}
	if len(orders) > room {
		orders = orders[:room]
	}
	b.orders = append(b.orders, orders...)
	return len(orders)
}

// Peek returns a copy of up to n oldest orders without consuming them.
func (b *OrderBuffer) Peek(n int) []models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.orders) {
		n = len(b.orders)
	}
	if n <= 0 {
		return nil
	}
	out := make([]models.Order, n)
	copy(out, b.orders[:n])
	return out
}

// Discard drops up to n oldest orders.
func (b *OrderBuffer) Discard(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.orders) {
		n = len(b.orders)
	}
	b.orders = b.orders[n:]
}

func (b *OrderBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}
