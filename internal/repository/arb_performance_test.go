package repository

import (
	"testing"

	"github.com/shopspring/decimal"
)

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func TestComputeStitchProfit_DexSellOkxBuy(t *testing.T) {
	// DEX SELL leg produced 2030 USDT; OKX BUY leg spent ~2000 USDT of size.
	legs := []arbLeg{
		{
			pair:         "AVAX/USDT",
			tradeSide:    "SELL",
			size:         dec("2000"),
			inputAmount:  nullDec("100"),
			inputToken:   strPtr("AVAX"),
			outputAmount: nullDec("2030"),
			outputToken:  strPtr("USDT"),
		},
		{
			pair:      "AVAX/USDT",
			tradeSide: "BUY",
			size:      dec("2000"),
		},
	}

	profit := computeStitchProfit("USDT", legs)
	if !profit.Equal(dec("30")) {
		t.Errorf("expected profit 30, got %s", profit)
	}
}

func TestComputeStitchProfit_DexBuyOkxSell(t *testing.T) {
	// DEX BUY leg spent 2000 USDT; OKX SELL leg received ~2050 of size.
	legs := []arbLeg{
		{
			pair:         "AVAX/USDT",
			tradeSide:    "BUY",
			size:         dec("2000"),
			inputAmount:  nullDec("2000"),
			inputToken:   strPtr("USDT"),
			outputAmount: nullDec("100"),
			outputToken:  strPtr("AVAX"),
		},
		{
			pair:      "AVAX/USDT",
			tradeSide: "SELL",
			size:      dec("2050"),
		},
	}

	profit := computeStitchProfit("USDT", legs)
	if !profit.Equal(dec("50")) {
		t.Errorf("expected profit 50, got %s", profit)
	}
}

func TestComputeStitchProfit_IgnoresBaseTokenAmounts(t *testing.T) {
	// A leg whose explicit amounts are both base-token denominated falls
	// back to the side/size rule.
	legs := []arbLeg{
		{
			pair:         "AVAX/USDT",
			tradeSide:    "SELL",
			size:         dec("1500"),
			inputAmount:  nullDec("75"),
			inputToken:   strPtr("AVAX"),
			outputAmount: decimal.NullDecimal{},
			outputToken:  nil,
		},
	}

	profit := computeStitchProfit("USDT", legs)
	if !profit.Equal(dec("1500")) {
		t.Errorf("expected fallback profit 1500, got %s", profit)
	}
}
