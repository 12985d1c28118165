package engine

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

// Revert and RPC error fragments, matched case-insensitively.
var (
	economicMarkers = []string{
		"slippage",
		"price deviation",
		"deviation too large",
		"circuit",
		"paused",
		"stale price",
		"price too old",
		"insufficient output",
	}
	alreadyDoneMarkers = []string{
		"already executed",
		"already liquidated",
		"not open",
		"closed",
		"cancelled",
		"canceled",
	}
	transientMarkers = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"nonce",
		"underpriced",
		"already known",
		"connection refused",
		"connection reset",
		"broken pipe",
		"closed network connection",
		"eof",
		"429",
		"too many requests",
		"rate limit",
		"header not found",
	}
)

// classify maps a ledger error to an outcome kind and a short reason.
//
// A contract revert (*domain.RejectionError) is never transient: the same call with the
// same state would revert again. A broadcast transaction without a receipt
// (*domain.PendingError) is transient but never retried. Everything else is inspected for
// RPC-layer symptoms first.
func classify(err error) (domain.OutcomeKind, string) {
	if err == nil {
		return domain.OutcomeSuccess, ""
	}

	var pending *domain.PendingError
	if errors.As(err, &pending) {
		return domain.OutcomeTransientFailure, pending.Error()
	}

	var rej *domain.RejectionError
	if errors.As(err, &rej) {
		reason := strings.ToLower(rej.Reason)
		switch {
		case containsAny(reason, economicMarkers):
			return domain.OutcomeEconomicRejection, rej.Reason
		case containsAny(reason, alreadyDoneMarkers):
			return domain.OutcomeAlreadyDone, rej.Reason
		default:
			return domain.OutcomeUnknownFailure, rej.Reason
		}
	}

	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.OutcomeTransientFailure, msg
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.OutcomeTransientFailure, msg
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, transientMarkers):
		return domain.OutcomeTransientFailure, msg
	case containsAny(lower, economicMarkers):
		return domain.OutcomeEconomicRejection, msg
	case containsAny(lower, alreadyDoneMarkers):
		return domain.OutcomeAlreadyDone, msg
	default:
		return domain.OutcomeUnknownFailure, msg
	}
}

// isTransient is the retry predicate. A pending transaction is excluded: resending it
// would spend a second nonce on the same target.
func isTransient(err error) bool {
	var pending *domain.PendingError
	if errors.As(err, &pending) {
		return false
	}
	kind, _ := classify(err)
	return kind == domain.OutcomeTransientFailure
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
