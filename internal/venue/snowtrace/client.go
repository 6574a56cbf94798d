package snowtrace

import (
	"context"
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

// TokenTransfer is one ERC-20 transfer touching the configured wallet, as
// reported by the explorer's tokentx feed. Value is in the token's smallest
// unit.
type TokenTransfer struct {
	Hash              string
	BlockNumber       int64
	Timestamp         int64
	From              string
	To                string
	Value             decimal.Decimal
	TokenSymbol       string
	TokenDecimal      int
	Gas               int64
	GasPrice          int64
	GasUsed           int64
	CumulativeGasUsed int64
}

// InternalTx is a value transfer synthesized by contract execution, distinct
// from the externally signed transaction.
type InternalTx struct {
	To    string
	Value decimal.Decimal
}

// Client talks to a Snowtrace-compatible explorer API. Progress state
// (start block) lives with the caller; the client is stateless.
type Client struct {
	apiKey     string
	baseURL    string
	contract   string
	wallet     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(apiKey, baseURL, contract, wallet string) *Client {
	if baseURL == "" {
		baseURL = "https://api.snowtrace.io/api"
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		contract:   contract,
		wallet:     wallet,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Free explorer tier allows 5 req/s.
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 2),
	}
}

// TokenTransfers returns transfers of the configured token contract for the
// configured wallet from startBlock onward, oldest first. An empty result is
// not an error; it means the chain has nothing new past the cursor.
func (c *Client) TokenTransfers(ctx context.Context, startBlock int64) ([]TokenTransfer, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("contractaddress", c.contract)
	params.Set("address", c.wallet)
	params.Set("startblock", strconv.FormatInt(startBlock, 10))
	params.Set("endblock", "99999999")
	params.Set("sort", "asc")

	var raw []tokenTransferWire
	if err := c.get(ctx, params, &raw); err != nil {
		return nil, err
	}

	transfers := make([]TokenTransfer, 0, len(raw))
	for _, w := range raw {
		transfers = append(transfers, w.toTransfer())
	}
	return transfers, nil
}

// InternalTransactions returns the internal value transfers of one
// transaction, in execution order.
func (c *Client) InternalTransactions(ctx context.Context, txHash string) ([]InternalTx, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlistinternal")
	params.Set("txhash", txHash)

	var raw []struct {
		To    string `json:"to"`
		Value string `json:"value"`
	}
	if err := c.get(ctx, params, &raw); err != nil {
		return nil, err
	}

	txs := make([]InternalTx, 0, len(raw))
	for _, w := range raw {
		txs = append(txs, InternalTx{To: w.To, Value: parseDecimal(w.Value)})
	}
	return txs, nil
}

// get performs one explorer call and decodes the result array. Explorer
// errors arrive as status "0" with the detail either in message or as a
// bare string in result.
func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("snowtrace request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("snowtrace status: %s", resp.Status)
	}

	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode snowtrace response: %w", err)
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		// "No transactions found" arrives with an empty array, but rate
		// limits and key errors put a plain string in result.
		var detail string
		if json.Unmarshal(envelope.Result, &detail) == nil && detail != "" {
			return fmt.Errorf("snowtrace error: %s: %s", envelope.Message, detail)
		}
		return fmt.Errorf("snowtrace error: %s", envelope.Message)
	}
	return nil
}

type tokenTransferWire struct {
	Hash              string `json:"hash"`
	BlockNumber       string `json:"blockNumber"`
	TimeStamp         string `json:"timeStamp"`
	From              string `json:"from"`
	To                string `json:"to"`
	Value             string `json:"value"`
	TokenSymbol       string `json:"tokenSymbol"`
	TokenDecimal      string `json:"tokenDecimal"`
	Gas               string `json:"gas"`
	GasPrice          string `json:"gasPrice"`
	GasUsed           string `json:"gasUsed"`
	CumulativeGasUsed string `json:"cumulativeGasUsed"`
}

func (w tokenTransferWire) toTransfer() TokenTransfer {
	return TokenTransfer{
		Hash:              w.Hash,
		BlockNumber:       parseInt(w.BlockNumber),
		Timestamp:         parseInt(w.TimeStamp),
		From:              w.From,
		To:                w.To,
		Value:             parseDecimal(w.Value),
		TokenSymbol:       w.TokenSymbol,
		TokenDecimal:      int(parseInt(w.TokenDecimal)),
		Gas:               parseInt(w.Gas),
		GasPrice:          parseInt(w.GasPrice),
		GasUsed:           parseInt(w.GasUsed),
		CumulativeGasUsed: parseInt(w.CumulativeGasUsed),
	}
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
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
