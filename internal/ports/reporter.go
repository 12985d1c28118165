package ports

import (
	"context"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

// Reporter publishes the periodic stats rollup.
type Reporter interface {
	Report(ctx context.Context, stats domain.KeeperStats, last domain.CycleSummary) error
}

// MetricsSink mirrors KeeperStats and cycle timings to an external metrics system.
type MetricsSink interface {
	ObserveOutcome(outcome domain.Outcome)
	ObservePricesUpdated(n int)
	ObserveCycle(summary domain.CycleSummary)
	ObserveError()
}
