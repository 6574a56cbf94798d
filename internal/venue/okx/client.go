package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Fee is the venue-charged fee of a closed order, normalized to a positive
// amount (OKX reports charged fees as negative numbers).
type Fee struct {
	Amount decimal.Decimal
	Token  string
}

// ClosedOrder is the settled execution record for a spot order.
type ClosedOrder struct {
	OrderID          string
	AverageFillPrice decimal.Decimal
	FilledQuantity   decimal.Decimal
	Cost             decimal.Decimal
	Fee              Fee
	Status           string // "filled", "canceled", "live", "partially_filled"
	FillTime         int64  // epoch ms
}

// Client is a minimal signed client for the OKX v5 REST API, covering the
// single closed-orders query the reconciler needs.
type Client struct {
	apiKey     string
	secret     string
	passphrase string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Option func(*Client)

// WithBaseURL overrides the API host, used by tests and demo environments.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func NewClient(apiKey, secret, passphrase string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		secret:     secret,
		passphrase: passphrase,
		baseURL:    "https://www.okx.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// OKX allows 20 req/2s on this endpoint; stay well under it.
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchClosedOrders returns spot orders for the symbol that reached a
// terminal venue state with fill time strictly at or after sinceMs. The
// caller owns cursor advancement (largest observed fill time + 1 ms).
func (c *Client) FetchClosedOrders(ctx context.Context, symbol string, sinceMs int64) ([]ClosedOrder, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("instType", "SPOT")
	q.Set("instId", instID(symbol))
	q.Set("begin", strconv.FormatInt(sinceMs, 10))
	q.Set("limit", "100")
	requestPath := "/api/v5/trade/orders-history-archive?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return nil, err
	}
	c.sign(req, http.MethodGet, requestPath)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("okx closed orders request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("okx status: %s", resp.Status)
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			OrdID     string `json:"ordId"`
			AvgPx     string `json:"avgPx"`
			AccFillSz string `json:"accFillSz"`
			State     string `json:"state"`
			Fee       string `json:"fee"`
			FeeCcy    string `json:"feeCcy"`
			FillTime  string `json:"fillTime"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode okx response: %w", err)
	}
	if result.Code != "0" {
		return nil, fmt.Errorf("okx error %s: %s", result.Code, result.Msg)
	}

	orders := make([]ClosedOrder, 0, len(result.Data))
	for _, d := range result.Data {
		o := ClosedOrder{
			OrderID: d.OrdID,
			Status:  d.State,
			Fee:     Fee{Token: d.FeeCcy},
		}
		o.AverageFillPrice = parseDecimal(d.AvgPx)
		o.FilledQuantity = parseDecimal(d.AccFillSz)
		o.Cost = o.AverageFillPrice.Mul(o.FilledQuantity)
		o.Fee.Amount = parseDecimal(d.Fee).Abs()
		if d.FillTime != "" {
			o.FillTime, _ = strconv.ParseInt(d.FillTime, 10, 64)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// sign attaches the OK-ACCESS-* headers. The signature is the base64 HMAC
// SHA256 of timestamp + method + requestPath (query included, no body on GET).
func (c *Client) sign(req *http.Request, method, requestPath string) {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(ts + method + requestPath))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("Content-Type", "application/json")
}

// instID converts a symbolic pair ("AVAX/USDT") to an OKX instrument id
// ("AVAX-USDT").
func instID(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
