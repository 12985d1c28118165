package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OpportunityKind identifies which on-chain transition an opportunity triggers.
type OpportunityKind int

const (
	KindOrderExecution OpportunityKind = iota
	KindPositionLiquidation
)

func (k OpportunityKind) String() string {
	switch k {
	case KindOrderExecution:
		return "order_execution"
	case KindPositionLiquidation:
		return "position_liquidation"
	default:
		return "unknown"
	}
}

// Opportunity is an action the keeper could take in the current cycle.
// It is derived on every scan and carries no identity across cycles.
type Opportunity struct {
	Kind            OpportunityKind
	TargetID        uint64
	EstimatedGas    uint64
	EstimatedReward decimal.Decimal

	// Snapshot of the entity at discovery time. Exactly one is set.
	Order    *Order
	Position *Position

	// LossPercent is set for liquidations.
	LossPercent decimal.Decimal
}

// Key is a stable label for logs and the settled registry.
func (o Opportunity) Key() string {
	return fmt.Sprintf("%s#%d", o.Kind, o.TargetID)
}
