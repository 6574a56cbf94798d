package reconciler

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/coderkp/order-fill-tracker/internal/models"
	"github.com/coderkp/order-fill-tracker/internal/repository"
	"github.com/coderkp/order-fill-tracker/internal/venue/snowtrace"
)

// SnowtraceClient is the slice of the explorer client the DEX reconciler
// needs.
type SnowtraceClient interface {
	TokenTransfers(ctx context.Context, startBlock int64) ([]snowtrace.TokenTransfer, error)
	InternalTransactions(ctx context.Context, txHash string) ([]snowtrace.InternalTx, error)
}

// JoeReconcilerConfig carries the on-chain knobs for the Trader Joe path.
type JoeReconcilerConfig struct {
	WalletAddress      string
	BaseToken          string // e.g. AVAX, paid out natively on buys
	QuoteToken         string // e.g. USDT, the ERC-20 side of every swap
	BaseTokenDecimals  int32
	QuoteTokenDecimals int32
	MaxRefillPages     int
}

// JoeReconciler matches CREATED Trader Joe orders against the wallet's
// quote-token transfer history on the explorer. Both swap directions touch
// the quote-token contract, so the tokentx feed keyed by tx hash covers
// every order; buys additionally need the internal transaction list to learn
// the native-token payout.
type JoeReconciler struct {
	client SnowtraceClient
	store  OrderStore
	cache  *FillCache[snowtrace.TokenTransfer]
	cfg    JoeReconcilerConfig
	wallet common.Address

	lastSeenBlock atomic.Int64
}

func NewJoeReconciler(client SnowtraceClient, store OrderStore, cfg JoeReconcilerConfig) *JoeReconciler {
	r := &JoeReconciler{
		client: client,
		store:  store,
		cfg:    cfg,
		wallet: common.HexToAddress(cfg.WalletAddress),
	}
	r.cache = NewFillCache(r.refillPage, cfg.MaxRefillPages, time.Minute)
	return r
}

func (r *JoeReconciler) Exchange() string { return models.ExchangeTraderJoe }

// refillPage fetches transfers from the block cursor onward and advances the
// cursor past the newest block observed. Hashes are lowercased on ingress so
// lookups never depend on explorer casing.
func (r *JoeReconciler) refillPage(ctx context.Context) (map[string]snowtrace.TokenTransfer, error) {
	transfers, err := r.client.TokenTransfers(ctx, r.lastSeenBlock.Load())
	if err != nil {
		return nil, err
	}

	page := make(map[string]snowtrace.TokenTransfer, len(transfers))
	var maxBlock int64
	for _, tr := range transfers {
		page[strings.ToLower(tr.Hash)] = tr
		if tr.BlockNumber > maxBlock {
			maxBlock = tr.BlockNumber
		}
	}
	if len(transfers) > 0 {
		if next := maxBlock + 1; next > r.lastSeenBlock.Load() {
			r.lastSeenBlock.Store(next)
		}
	}
	return page, nil
}

type internalTxResult struct {
	txs []snowtrace.InternalTx
	err error
}

// Process reconciles one order. It reports whether the order transitioned to
// FILLED. Orders whose swap has not surfaced on the explorer yet are left
// untouched for a later pass.
func (r *JoeReconciler) Process(ctx context.Context, order models.Order) (bool, error) {
	if order.TransactionHash == nil || *order.TransactionHash == "" {
		log.Printf("[joe-reconciler] order %d has no transaction hash, skipping", order.ID)
		return false, nil
	}
	hash := strings.ToLower(*order.TransactionHash)

	// Buys learn the native payout from the internal transaction list.
	// Fetch it alongside the transfer lookup; both go to the same explorer.
	var internalCh chan internalTxResult
	if order.TradeSide == models.SideBuy {
		internalCh = make(chan internalTxResult, 1)
		go func() {
			txs, err := r.client.InternalTransactions(ctx, hash)
			internalCh <- internalTxResult{txs: txs, err: err}
		}()
	}

	transfer, ok, err := r.cache.Lookup(ctx, hash)
	if err != nil {
		return false, err
	}
	if !ok {
		// Swap not on the explorer yet.
		return false, nil
	}

	feeInfo := map[string]any{
		"gas":               transfer.Gas,
		"gasPrice":          transfer.GasPrice,
		"gasUsed":           transfer.GasUsed,
		"cumulativeGasUsed": transfer.CumulativeGasUsed,
	}

	var update repository.FillUpdate
	switch order.TradeSide {
	case models.SideBuy:
		var res internalTxResult
		select {
		case res = <-internalCh:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if res.err != nil {
			return false, res.err
		}

		if len(res.txs) == 0 {
			log.Printf("[joe-reconciler] order %d tx %s has no internal transfers, skipping", order.ID, hash)
			return false, nil
		}
		// The swap router's payout is the final internal transfer.
		payout := res.txs[len(res.txs)-1]
		if common.HexToAddress(payout.To) != r.wallet {
			log.Printf("[joe-reconciler] order %d tx %s pays out to %s, not the configured wallet, not enriching",
				order.ID, hash, payout.To)
			return false, nil
		}

		input := order.Size.RoundBank(4)
		outputRaw := payout.Value.Shift(-r.cfg.BaseTokenDecimals)
		output := outputRaw.RoundBank(4)
		var avg *decimal.Decimal
		if !outputRaw.IsZero() {
			a := order.Size.Div(outputRaw).RoundBank(4)
			avg = &a
		}

		update = repository.FillUpdate{
			OrderID:          order.ID,
			Status:           models.StatusFilled,
			InputAmount:      &input,
			InputToken:       &r.cfg.QuoteToken,
			OutputAmount:     &output,
			OutputToken:      &r.cfg.BaseToken,
			AverageFillPrice: avg,
			FeeInfo:          feeInfo,
		}

	case models.SideSell:
		if !order.Price.Valid || order.Price.Decimal.IsZero() {
			log.Printf("[joe-reconciler] order %d is a sell without a price, cannot derive input, skipping", order.ID)
			return false, nil
		}

		inputRaw := order.Size.Div(order.Price.Decimal)
		input := inputRaw.RoundBank(4)
		outputRaw := transfer.Value.Shift(-r.cfg.QuoteTokenDecimals)
		output := outputRaw.RoundBank(4)
		avg := outputRaw.Div(inputRaw).RoundBank(4)

		update = repository.FillUpdate{
			OrderID:          order.ID,
			Status:           models.StatusFilled,
			InputAmount:      &input,
			InputToken:       &r.cfg.BaseToken,
			OutputAmount:     &output,
			OutputToken:      &r.cfg.QuoteToken,
			AverageFillPrice: &avg,
			FeeInfo:          feeInfo,
		}

	default:
		log.Printf("[joe-reconciler] order %d has unknown trade side %q, skipping", order.ID, order.TradeSide)
		return false, nil
	}

	if err := r.store.UpdateOrderFill(ctx, update); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.Printf("[joe-reconciler] order %d vanished from store, dropping", order.ID)
			return false, nil
		}
		return false, err
	}

	r.cache.Purge(hash)
	log.Printf("[joe-reconciler] order %d filled from tx %s", order.ID, hash)
	return true, nil
}

// LastSeenBlock exposes the block cursor for the status surface.
func (r *JoeReconciler) LastSeenBlock() int64 { return r.lastSeenBlock.Load() }
