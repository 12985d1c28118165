package domain

import "fmt"

// OutcomeKind classifies how an execution attempt ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeAlreadyDone means a competing keeper (or the owner) settled the target first.
	OutcomeAlreadyDone
	OutcomeEconomicRejection
	OutcomeTransientFailure
	OutcomeUnknownFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAlreadyDone:
		return "already_done"
	case OutcomeEconomicRejection:
		return "economic_rejection"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeUnknownFailure:
		return "unknown_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of executing one opportunity (or one price batch).
type Outcome struct {
	Kind        OutcomeKind
	Opportunity Opportunity
	Receipt     *Receipt
	Reason      string
	Attempts    int

	// Tokens is set for price-refresh batches.
	Tokens []string
}

// Ok reports whether the outcome counts as handled: success or a no-op.
func (o Outcome) Ok() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeAlreadyDone
}

// Target labels what the outcome acted on: an opportunity key or a price batch.
func (o Outcome) Target() string {
	if len(o.Tokens) > 0 {
		return fmt.Sprintf("prices[%d]", len(o.Tokens))
	}
	return o.Opportunity.Key()
}

// TxHash returns the receipt hash, if any.
func (o Outcome) TxHash() string {
	if o.Receipt == nil {
		return ""
	}
	return o.Receipt.TxHash
}

// ParseOutcomeKind is the inverse of OutcomeKind.String.
func ParseOutcomeKind(s string) (OutcomeKind, bool) {
	for k := OutcomeSuccess; k <= OutcomeUnknownFailure; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return OutcomeUnknownFailure, false
}
