package models

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Order status values as persisted in the "order" table.
const (
	StatusCreated   = "CREATED"
	StatusCancelled = "CANCELLED"
	StatusFilled    = "FILLED"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Venues. OKX is the centralized leg, Trader Joe the on-chain leg.
const (
	ExchangeOKX       = "OKX"
	ExchangeTraderJoe = "TRADER_JOE"
)

// Order types.
const (
	TypeMarket     = "MARKET"
	TypeLimit      = "LIMIT"
	TypeLimitMaker = "LIMIT_MAKER"
)

// IsLimitType reports whether the order type rests on the book.
func IsLimitType(orderType string) bool {
	return orderType == TypeLimit || orderType == TypeLimitMaker
}

// Order mirrors one row of the "order" table. Enrichment fields
// (InputAmount..FeeInfo) are null while Status is CREATED and are populated
// in a single update when the order transitions to FILLED.
type Order struct {
	ID               int64
	StitchID         *int64
	Pair             string
	Price            decimal.NullDecimal
	Exchange         string
	Size             decimal.Decimal
	Type             string
	TradeSide        string
	Status           string
	ExchangeOrderID  string
	TransactionHash  *string
	CreatedTime      time.Time
	LastUpdatedTime  time.Time
	InputAmount      decimal.NullDecimal
	InputToken       *string
	OutputAmount     decimal.NullDecimal
	OutputToken      *string
	AverageFillPrice decimal.NullDecimal
	FeeInfo          map[string]any
}

var lastGeneratedID atomic.Int64

// GenerateID returns a globally unique identifier derived from the wall
// clock at nanosecond granularity. Collisions within the same nanosecond
// are resolved by bumping past the last issued id, so ids are strictly
// increasing within a process.
func GenerateID() int64 {
	id := time.Now().UnixNano()
	for {
		prev := lastGeneratedID.Load()
		if id <= prev {
			id = prev + 1
		}
		if lastGeneratedID.CompareAndSwap(prev, id) {
			return id
		}
	}
}
