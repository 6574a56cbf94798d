package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ArbPerformance is the realized profit of one arbitrage round-trip, keyed
// by the stitch id pairing its two legs. Profit is denominated in the quote
// token.
type ArbPerformance struct {
	StitchID  int64
	Pair      string
	Profit    decimal.Decimal
	UpdatedAt time.Time
}

type arbLeg struct {
	pair         string
	tradeSide    string
	size         decimal.Decimal
	inputAmount  decimal.NullDecimal
	inputToken   *string
	outputAmount decimal.NullDecimal
	outputToken  *string
}

// computeStitchProfit sums the quote-token flow across the legs of one
// stitch. Legs that carry explicit token amounts (the DEX path) use them;
// legs without amounts (the CEX path, which records only price and fee)
// fall back to the quote-denominated order size.
func computeStitchProfit(quoteToken string, legs []arbLeg) decimal.Decimal {
	profit := decimal.Zero
	for _, leg := range legs {
		switch {
		case leg.outputToken != nil && *leg.outputToken == quoteToken && leg.outputAmount.Valid:
			profit = profit.Add(leg.outputAmount.Decimal)
		case leg.inputToken != nil && *leg.inputToken == quoteToken && leg.inputAmount.Valid:
			profit = profit.Sub(leg.inputAmount.Decimal)
		case leg.tradeSide == "SELL":
			profit = profit.Add(leg.size)
		default:
			profit = profit.Sub(leg.size)
		}
	}
	return profit
}

// RecomputeArbPerformance rebuilds the arb_performance roll-up from all
// FILLED orders that carry a stitch id. Only stitches with both legs filled
// are written. Returns the number of stitches upserted.
func (r *Repository) RecomputeArbPerformance(ctx context.Context) (int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT stitch_id, pair, trade_side, size,
		       input_amount, input_token, output_amount, output_token
		FROM "order"
		WHERE status = 'FILLED' AND stitch_id IS NOT NULL
		ORDER BY stitch_id`)
	if err != nil {
		return 0, fmt.Errorf("fetch filled stitch legs: %w", err)
	}
	defer rows.Close()

	legsByStitch := make(map[int64][]arbLeg)
	for rows.Next() {
		var stitchID int64
		var leg arbLeg
		if err := rows.Scan(
			&stitchID, &leg.pair, &leg.tradeSide, &leg.size,
			&leg.inputAmount, &leg.inputToken, &leg.outputAmount, &leg.outputToken,
		); err != nil {
			return 0, fmt.Errorf("scan stitch leg: %w", err)
		}
		legsByStitch[stitchID] = append(legsByStitch[stitchID], leg)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var upserted int64
	for stitchID, legs := range legsByStitch {
		if len(legs) < 2 {
			// Round-trip incomplete; the other leg has not filled yet.
			continue
		}
		profit := computeStitchProfit("USDT", legs)
		_, err := r.db.Exec(ctx, `
			INSERT INTO arb_performance (stitch_id, pair, profit, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (stitch_id)
			DO UPDATE SET pair = EXCLUDED.pair, profit = EXCLUDED.profit, updated_at = NOW()`,
			stitchID, legs[0].pair, profit)
		if err != nil {
			return upserted, fmt.Errorf("upsert arb performance for stitch %d: %w", stitchID, err)
		}
		upserted++
	}
	return upserted, nil
}

// ListArbPerformance returns the most recently updated roll-up rows.
func (r *Repository) ListArbPerformance(ctx context.Context, limit int) ([]ArbPerformance, error) {
	rows, err := r.db.Query(ctx, `
		SELECT stitch_id, pair, profit, updated_at
		FROM arb_performance
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArbPerformance
	for rows.Next() {
		var p ArbPerformance
		if err := rows.Scan(&p.StitchID, &p.Pair, &p.Profit, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
