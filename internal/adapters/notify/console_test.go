package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ammkeeper/internal/adapters/notify"
	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

func TestConsole_ReportCountersAndOutcomes(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	stats := domain.KeeperStats{OrdersExecuted: 12, PositionsLiquidated: 3, PricesUpdated: 40, Errors: 1, LastRun: time.Now()}
	last := domain.CycleSummary{
		ID:          "c1",
		Tick:        9,
		Phases:      []domain.Phase{domain.PhaseOrders, domain.PhaseLiquidations},
		OrdersFound: 2,
		Outcomes: []domain.Outcome{
			{
				Kind:        domain.OutcomeSuccess,
				Opportunity: domain.Opportunity{Kind: domain.KindOrderExecution, TargetID: 4},
				Receipt:     &domain.Receipt{TxHash: "0x00000000000000000000000000000000000000000000000000000000000000ff"},
				Attempts:    1,
			},
			{
				Kind:        domain.OutcomeEconomicRejection,
				Opportunity: domain.Opportunity{Kind: domain.KindPositionLiquidation, TargetID: 7},
				Reason:      "slippage",
				Attempts:    1,
			},
		},
	}

	require.NoError(t, c.Report(context.Background(), stats, last))

	out := buf.String()
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "40")
	assert.Contains(t, out, "cycle #9 [orders,liquidations]")
	assert.Contains(t, out, "order_execution#4")
	assert.Contains(t, out, "position_liquidation#7")
	assert.Contains(t, out, "economic_rejection")
	assert.Contains(t, out, "0x000000..00ff")
}

func TestConsole_ReportPausedCycle(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	require.NoError(t, c.Report(context.Background(), domain.KeeperStats{}, domain.CycleSummary{ID: "c1", Tick: 3, Paused: true}))

	out := buf.String()
	assert.Contains(t, out, "last run never")
	assert.Contains(t, out, "cycle #3: system paused")
}

func TestConsole_ReportWithoutCycle(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	require.NoError(t, c.Report(context.Background(), domain.KeeperStats{Errors: 5}, domain.CycleSummary{}))
	assert.NotContains(t, buf.String(), "cycle #")
}

func TestConsole_PrintHistory(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	since := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []domain.JournalEntry{
		{CycleID: "c2", Target: "order_execution#2", Outcome: domain.OutcomeAlreadyDone, Attempts: 1, RecordedAt: since.Add(time.Hour)},
		{CycleID: "c1", Target: "order_execution#1", Outcome: domain.OutcomeSuccess, TxHash: "0xabc", Attempts: 2, RecordedAt: since.Add(time.Minute)},
	}
	c.PrintHistory(entries, 5, 1, since)

	out := buf.String()
	assert.Contains(t, out, "cycles: 5 (paused: 1)")
	assert.Contains(t, out, "success: 1  already_done: 1  economic: 0")
	assert.Contains(t, out, "order_execution#2")
	assert.Contains(t, out, "0xabc")
}

func TestConsole_PrintHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	c.PrintHistory(nil, 0, 0, time.Now())
	assert.Contains(t, buf.String(), "No outcomes recorded.")
}
