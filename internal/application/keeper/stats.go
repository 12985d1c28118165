package keeper

import (
	"sync"
	"time"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
	"github.com/alejandrodnm/ammkeeper/internal/ports"
)

// Stats accumulates the process-lifetime counters. Safe for concurrent use; the metrics
// endpoint reads snapshots while the loop writes.
type Stats struct {
	mu   sync.Mutex
	s    domain.KeeperStats
	sink ports.MetricsSink
}

// NewStats returns zeroed counters. sink may be nil.
func NewStats(sink ports.MetricsSink) *Stats {
	return &Stats{sink: sink}
}

// RecordOutcome updates the counters for one classified outcome. AlreadyDone,
// economic rejections and transient failures leave the counters untouched.
func (t *Stats) RecordOutcome(o domain.Outcome) {
	t.mu.Lock()
	switch o.Kind {
	case domain.OutcomeSuccess:
		switch {
		case len(o.Tokens) > 0:
			t.s.PricesUpdated += uint64(len(o.Tokens))
		case o.Opportunity.Kind == domain.KindOrderExecution:
			t.s.OrdersExecuted++
		case o.Opportunity.Kind == domain.KindPositionLiquidation:
			t.s.PositionsLiquidated++
		}
	case domain.OutcomeUnknownFailure:
		t.s.Errors++
	}
	t.mu.Unlock()

	if t.sink == nil {
		return
	}
	t.sink.ObserveOutcome(o)
	if o.Kind == domain.OutcomeSuccess && len(o.Tokens) > 0 {
		t.sink.ObservePricesUpdated(len(o.Tokens))
	}
	if o.Kind == domain.OutcomeUnknownFailure {
		t.sink.ObserveError()
	}
}

// RecordError counts a failure outside any single outcome, such as a failed pause check.
func (t *Stats) RecordError() {
	t.mu.Lock()
	t.s.Errors++
	t.mu.Unlock()
	if t.sink != nil {
		t.sink.ObserveError()
	}
}

// MarkRun stamps the end of a tick.
func (t *Stats) MarkRun(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.LastRun = at
}

// Snapshot returns a copy of the counters.
func (t *Stats) Snapshot() domain.KeeperStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
