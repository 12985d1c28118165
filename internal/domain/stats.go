package domain

import "time"

// KeeperStats are process-lifetime counters. They reset on restart.
type KeeperStats struct {
	OrdersExecuted      uint64
	PositionsLiquidated uint64
	PricesUpdated       uint64
	Errors              uint64
	LastRun             time.Time
}

// Phase is one stage of a keeper tick.
type Phase string

const (
	PhaseOrders       Phase = "orders"
	PhaseLiquidations Phase = "liquidations"
	PhasePrices       Phase = "prices"
)

// CycleSummary describes what a single tick did.
type CycleSummary struct {
	ID        string
	Tick      uint64
	StartedAt time.Time
	Duration  time.Duration
	Paused    bool
	Phases    []Phase

	OrdersFound    int
	PositionsFound int
	StaleTokens    int
	LookupFailures int
	Outcomes       []Outcome
}

// Count returns how many outcomes of the given kind the cycle produced.
func (c CycleSummary) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range c.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// JournalEntry is one outcome as stored in the audit journal.
type JournalEntry struct {
	CycleID    string
	Target     string
	Outcome    OutcomeKind
	Reason     string
	TxHash     string
	Attempts   int
	RecordedAt time.Time
}
