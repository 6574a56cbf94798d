package okx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchClosedOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v5/trade/orders-history-archive" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("instType") != "SPOT" {
			t.Errorf("expected instType SPOT, got %q", q.Get("instType"))
		}
		if q.Get("instId") != "AVAX-USDT" {
			t.Errorf("expected instId AVAX-USDT, got %q", q.Get("instId"))
		}
		if q.Get("begin") != "1700000000000" {
			t.Errorf("expected begin 1700000000000, got %q", q.Get("begin"))
		}
		for _, h := range []string{"OK-ACCESS-KEY", "OK-ACCESS-SIGN", "OK-ACCESS-TIMESTAMP", "OK-ACCESS-PASSPHRASE"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}

		json.NewEncoder(w).Encode(map[string]any{
			"code": "0",
			"msg":  "",
			"data": []map[string]string{
				{
					"ordId":     "A1",
					"avgPx":     "10.12345",
					"accFillSz": "2000",
					"state":     "filled",
					"fee":       "-0.5",
					"feeCcy":    "USDT",
					"fillTime":  "1700000001000",
				},
				{
					"ordId":     "A2",
					"avgPx":     "",
					"accFillSz": "0",
					"state":     "canceled",
					"fee":       "0",
					"feeCcy":    "USDT",
					"fillTime":  "",
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("key", "secret", "pass", WithBaseURL(srv.URL))
	orders, err := client.FetchClosedOrders(context.Background(), "AVAX/USDT", 1700000000000)
	if err != nil {
		t.Fatalf("FetchClosedOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	first := orders[0]
	if first.OrderID != "A1" || first.Status != "filled" {
		t.Errorf("unexpected first order: %+v", first)
	}
	if first.AverageFillPrice.String() != "10.12345" {
		t.Errorf("expected avg price 10.12345, got %s", first.AverageFillPrice)
	}
	if first.Fee.Amount.String() != "0.5" {
		t.Errorf("fee should be normalized positive, got %s", first.Fee.Amount)
	}
	if first.Cost.String() != "20246.9" {
		t.Errorf("expected cost 20246.9, got %s", first.Cost)
	}
	if first.FillTime != 1700000001000 {
		t.Errorf("expected fill time 1700000001000, got %d", first.FillTime)
	}

	if orders[1].Status != "canceled" || !orders[1].AverageFillPrice.IsZero() {
		t.Errorf("unexpected second order: %+v", orders[1])
	}
}

func TestFetchClosedOrders_VenueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": "50111", "msg": "Invalid OK-ACCESS-KEY", "data": []any{}})
	}))
	defer srv.Close()

	client := NewClient("key", "secret", "pass", WithBaseURL(srv.URL))
	if _, err := client.FetchClosedOrders(context.Background(), "AVAX/USDT", 0); err == nil {
		t.Fatal("expected error for venue error code")
	}
}

func TestInstID(t *testing.T) {
	if got := instID("AVAX/USDT"); got != "AVAX-USDT" {
		t.Errorf("got %q", got)
	}
}
