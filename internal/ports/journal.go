package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

// Journal keeps an audit trail of keeper cycles. It is never read back to restore
// counters: KeeperStats always start from zero.
type Journal interface {
	// RecordCycle persists the cycle summary and every outcome it produced.
	RecordCycle(ctx context.Context, summary domain.CycleSummary) error

	// RecentOutcomes returns outcomes recorded since the given time, newest first.
	RecentOutcomes(ctx context.Context, since time.Time) ([]domain.JournalEntry, error)

	Close() error
}
