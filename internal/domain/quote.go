package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is the oracle view of a token price.
type PriceQuote struct {
	Token     string
	Price     decimal.Decimal
	UpdatedAt time.Time
	Stale     bool
}

// Age returns how old the quote is relative to now.
func (q PriceQuote) Age(now time.Time) time.Duration {
	if q.UpdatedAt.IsZero() {
		return 0
	}
	return now.Sub(q.UpdatedAt)
}

// Reserves are the AMM pool balances for a directed pair.
type Reserves struct {
	TokenIn    string
	TokenOut   string
	ReserveIn  decimal.Decimal
	ReserveOut decimal.Decimal
}

// Receipt is the mined result of a keeper transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}
