package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes the trigger semantics of a pending order.
type OrderKind int

const (
	OrderLimit OrderKind = iota
	OrderStopLoss
)

func (k OrderKind) String() string {
	switch k {
	case OrderLimit:
		return "LIMIT"
	case OrderStopLoss:
		return "STOP_LOSS"
	default:
		return "UNKNOWN"
	}
}

// Direction is the side of an order or leveraged position.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection accepts "long"/"short" in any case, ignoring surrounding spaces.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long":
		return Long, true
	case "short":
		return Short, true
	}
	return Long, false
}

// Order is a pending limit or stop order held by the Trading contract.
// Amounts are already scaled down from token-native integer units.
type Order struct {
	ID          uint64
	Owner       string
	TokenIn     string
	TokenOut    string
	AmountIn    decimal.Decimal
	TargetPrice decimal.Decimal
	Kind        OrderKind
	Direction   Direction
	Executed    bool
	CreatedAt   time.Time
}

// Position is a leveraged position held by the Trading contract.
type Position struct {
	ID         uint64
	Owner      string
	Token      string
	Collateral decimal.Decimal
	Leverage   uint8 // 1-100
	Kind       Direction
	EntryPrice decimal.Decimal
	Size       decimal.Decimal
	Open       bool
}

