package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coderkp/order-fill-tracker/internal/models"
	"github.com/coderkp/order-fill-tracker/internal/repository"
	"github.com/coderkp/order-fill-tracker/internal/venue/okx"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

// fakeStore records fill updates in memory.
type fakeStore struct {
	mu      sync.Mutex
	updates []repository.FillUpdate
	err     error
}

func (s *fakeStore) UpdateOrderFill(ctx context.Context, u repository.FillUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates = append(s.updates, u)
	return nil
}

func (s *fakeStore) all() []repository.FillUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.FillUpdate(nil), s.updates...)
}

// fakeOKXClient serves closed-order pages in sequence and records the cursor
// it was called with.
type fakeOKXClient struct {
	mu      sync.Mutex
	pages   [][]okx.ClosedOrder
	cursors []int64
}

func (c *fakeOKXClient) FetchClosedOrders(ctx context.Context, symbol string, sinceMs int64) ([]okx.ClosedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors = append(c.cursors, sinceMs)
	if len(c.pages) == 0 {
		return nil, nil
	}
	page := c.pages[0]
	c.pages = c.pages[1:]
	return page, nil
}

func okxTestOrder(id int64, exchangeOrderID string, createdMs int64) models.Order {
	return models.Order{
		ID:              id,
		Pair:            "AVAX/USDT",
		Exchange:        models.ExchangeOKX,
		Size:            decimal.NewFromInt(2000),
		TradeSide:       models.SideBuy,
		Status:          models.StatusCreated,
		ExchangeOrderID: exchangeOrderID,
		CreatedTime:     time.UnixMilli(createdMs),
	}
}

func TestOKXReconciler_FillsOrder(t *testing.T) {
	client := &fakeOKXClient{pages: [][]okx.ClosedOrder{{
		{
			OrderID:          "A1",
			AverageFillPrice: dec(t, "10.12345"),
			FilledQuantity:   dec(t, "2000"),
			Cost:             dec(t, "20246.9"),
			Fee:              okx.Fee{Amount: dec(t, "0.5"), Token: "USDT"},
			Status:           "filled",
			FillTime:         1700000001000,
		},
	}}}
	store := &fakeStore{}
	r := NewOKXReconciler(client, store, OKXReconcilerConfig{
		Pair:           "AVAX/USDT",
		QuoteToken:     "USDT",
		MinCreatedMs:   1681765123000,
		MaxRefillPages: 5,
		PurgeOnConsume: true,
	})

	filled, err := r.Process(context.Background(), okxTestOrder(1, "A1", 1700000000000))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !filled {
		t.Fatal("expected the order to fill")
	}

	updates := store.all()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	u := updates[0]
	if u.OrderID != 1 || u.Status != models.StatusFilled {
		t.Errorf("unexpected update: %+v", u)
	}
	// 10.12345 rounds half to even at four places.
	if !u.AverageFillPrice.Equal(dec(t, "10.1234")) {
		t.Errorf("expected avg 10.1234, got %s", u.AverageFillPrice)
	}
	if u.InputAmount != nil || u.OutputAmount != nil {
		t.Error("CEX fills should not carry token amounts")
	}
	if u.FeeInfo["fee"] != 0.5 || u.FeeInfo["fee_token"] != "USDT" {
		t.Errorf("unexpected fee info: %v", u.FeeInfo)
	}

	// Consumed record was purged.
	if r.cache.Len() != 0 {
		t.Errorf("expected purged cache, len = %d", r.cache.Len())
	}
}

func TestOKXReconciler_CursorAdvancesPastNewestFill(t *testing.T) {
	client := &fakeOKXClient{pages: [][]okx.ClosedOrder{
		{
			{OrderID: "A1", Status: "filled", FillTime: 1700000001000, AverageFillPrice: dec(t, "10")},
			{OrderID: "A2", Status: "filled", FillTime: 1700000005000, AverageFillPrice: dec(t, "11")},
		},
	}}
	store := &fakeStore{}
	r := NewOKXReconciler(client, store, OKXReconcilerConfig{
		Pair:           "AVAX/USDT",
		MinCreatedMs:   1681765123000,
		MaxRefillPages: 5,
	})

	if _, err := r.Process(context.Background(), okxTestOrder(1, "A1", 1700000000000)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := r.CursorMs(); got != 1700000005001 {
		t.Errorf("expected cursor 1700000005001, got %d", got)
	}
	if client.cursors[0] != 1681765123000 {
		t.Errorf("first fetch should start at the account cutoff, got %d", client.cursors[0])
	}

	// A2 is already cached; no further venue call.
	if _, err := r.Process(context.Background(), okxTestOrder(2, "A2", 1700000000000)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(client.cursors) != 1 {
		t.Errorf("expected a single venue fetch, got %d", len(client.cursors))
	}
}

func TestOKXReconciler_SkipsOrdersBeforeCutoff(t *testing.T) {
	client := &fakeOKXClient{}
	store := &fakeStore{}
	r := NewOKXReconciler(client, store, OKXReconcilerConfig{
		Pair:           "AVAX/USDT",
		MinCreatedMs:   1681765123000,
		MaxRefillPages: 5,
	})

	filled, err := r.Process(context.Background(), okxTestOrder(1, "A1", 1600000000000))
	if err != nil || filled {
		t.Fatalf("Process = %v, %v", filled, err)
	}
	if len(client.cursors) != 0 {
		t.Error("cutoff skip should not hit the venue")
	}
	if len(store.all()) != 0 {
		t.Error("cutoff skip should not write")
	}
}

func TestOKXReconciler_LeavesCanceledUntouched(t *testing.T) {
	client := &fakeOKXClient{pages: [][]okx.ClosedOrder{{
		{OrderID: "A1", Status: "canceled", FillTime: 1700000001000},
	}}}
	store := &fakeStore{}
	r := NewOKXReconciler(client, store, OKXReconcilerConfig{
		Pair:           "AVAX/USDT",
		MinCreatedMs:   1681765123000,
		MaxRefillPages: 5,
	})

	filled, err := r.Process(context.Background(), okxTestOrder(1, "A1", 1700000000000))
	if err != nil || filled {
		t.Fatalf("Process = %v, %v", filled, err)
	}
	if len(store.all()) != 0 {
		t.Error("canceled venue state must not be written")
	}
}

func TestOKXReconciler_MissLeavesOrderPending(t *testing.T) {
	client := &fakeOKXClient{pages: [][]okx.ClosedOrder{{
		{OrderID: "other", Status: "filled", FillTime: 1700000001000},
	}}}
	store := &fakeStore{}
	r := NewOKXReconciler(client, store, OKXReconcilerConfig{
		Pair:           "AVAX/USDT",
		MinCreatedMs:   1681765123000,
		MaxRefillPages: 5,
	})

	filled, err := r.Process(context.Background(), okxTestOrder(1, "A1", 1700000000000))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if filled || len(store.all()) != 0 {
		t.Error("unmatched order must stay pending")
	}
}
