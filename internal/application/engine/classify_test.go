package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.OutcomeKind
	}{
		{"paused revert", &domain.RejectionError{Op: "executeOrder", Reason: "Pausable: paused"}, domain.OutcomeEconomicRejection},
		{"circuit breaker revert", &domain.RejectionError{Op: "executeOrder", Reason: "Trading: circuit breaker active"}, domain.OutcomeEconomicRejection},
		{"slippage revert", &domain.RejectionError{Op: "executeOrder", Reason: "AMM: slippage exceeded"}, domain.OutcomeEconomicRejection},
		{"executed revert", &domain.RejectionError{Op: "executeOrder", Reason: "Trading: order already executed"}, domain.OutcomeAlreadyDone},
		{"closed position revert", &domain.RejectionError{Op: "liquidatePosition", Reason: "position not open"}, domain.OutcomeAlreadyDone},
		{"unreadable revert", &domain.RejectionError{Op: "executeOrder", Reason: "execution reverted"}, domain.OutcomeUnknownFailure},
		{"timeout revert is not transient", &domain.RejectionError{Op: "executeOrder", Reason: "timeout"}, domain.OutcomeUnknownFailure},
		{"deadline", fmt.Errorf("onchain.executeOrder: send tx: %w", context.DeadlineExceeded), domain.OutcomeTransientFailure},
		{"nonce", errors.New("nonce too low"), domain.OutcomeTransientFailure},
		{"closed connection", errors.New("write tcp: use of closed network connection"), domain.OutcomeTransientFailure},
		{"pending tx", &domain.PendingError{Op: "executeOrder", TxHash: "0xabc", Err: context.DeadlineExceeded}, domain.OutcomeTransientFailure},
		{"other", errors.New("boom"), domain.OutcomeUnknownFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := classify(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestIsTransient_PendingTransactionIsNotRetried(t *testing.T) {
	pending := &domain.PendingError{Op: "executeOrder", TxHash: "0xabc", Err: context.DeadlineExceeded}

	assert.False(t, isTransient(pending))
	assert.False(t, isTransient(fmt.Errorf("wrapped: %w", pending)))
	assert.True(t, isTransient(context.DeadlineExceeded))
}
