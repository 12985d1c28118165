package keeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ammkeeper/internal/adapters/simledger"
	"github.com/alejandrodnm/ammkeeper/internal/application/engine"
	"github.com/alejandrodnm/ammkeeper/internal/application/keeper"
	"github.com/alejandrodnm/ammkeeper/internal/application/liquidation"
	"github.com/alejandrodnm/ammkeeper/internal/application/retry"
	"github.com/alejandrodnm/ammkeeper/internal/application/scanner"
	"github.com/alejandrodnm/ammkeeper/internal/application/staleness"
	"github.com/alejandrodnm/ammkeeper/internal/domain"
	"github.com/alejandrodnm/ammkeeper/internal/domain/amm"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeJournal struct {
	cycles []domain.CycleSummary
}

func (j *fakeJournal) RecordCycle(_ context.Context, s domain.CycleSummary) error {
	j.cycles = append(j.cycles, s)
	return nil
}

func (j *fakeJournal) RecentOutcomes(context.Context, time.Time) ([]domain.JournalEntry, error) {
	return nil, nil
}

func (j *fakeJournal) Close() error { return nil }

type fakeReporter struct {
	reports []domain.KeeperStats
}

func (r *fakeReporter) Report(_ context.Context, s domain.KeeperStats, _ domain.CycleSummary) error {
	r.reports = append(r.reports, s)
	return nil
}

type harness struct {
	ledger   *simledger.Ledger
	stats    *keeper.Stats
	journal  *fakeJournal
	reporter *fakeReporter
	ctrl     *keeper.Controller
}

func newHarness(t *testing.T, cfg keeper.Config, l *simledger.Ledger, prices keeper.PriceChecker) *harness {
	t.Helper()
	mon, err := liquidation.New(liquidation.DefaultConfig())
	require.NoError(t, err)

	settled := domain.NewSettledRegistry()
	calc := amm.New(6)
	stats := keeper.NewStats(nil)

	scanCfg := scanner.DefaultConfig()
	scanCfg.Workers = 2
	sc := scanner.New(scanCfg, l, mon, settled, calc)

	engCfg := engine.DefaultConfig()
	engCfg.Retry = retry.Policy{Attempts: 1}
	engCfg.QuoteToken = "USDC"
	eng := engine.New(engCfg, l, settled, calc, stats)

	h := &harness{ledger: l, stats: stats, journal: &fakeJournal{}, reporter: &fakeReporter{}}
	h.ctrl = keeper.New(cfg, l, sc, eng, stats, keeper.Options{
		Prices:   prices,
		Journal:  h.journal,
		Reporter: h.reporter,
	})
	return h
}

func baseConfig() keeper.Config {
	cfg := keeper.DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.PausedCooldown = 5 * time.Millisecond
	return cfg
}

func seed(l *simledger.Ledger) {
	l.SetReserves("WETH", "USDC", d("1000"), d("2000"))
	l.AddOrder(domain.Order{TokenIn: "WETH", TokenOut: "USDC", AmountIn: d("1")}, true)
	l.AddPosition(domain.Position{Token: "WETH", Kind: domain.Long, EntryPrice: d("100"), Collateral: d("10"), Open: true})
	l.SetPrice("WETH", d("20"), time.Now())
}

func TestTick_PausedIssuesNoWrites(t *testing.T) {
	l := simledger.New()
	seed(l)
	l.SetPaused(true)
	h := newHarness(t, baseConfig(), l, nil)

	for i := 0; i < 4; i++ {
		s := h.ctrl.Tick(context.Background())
		assert.True(t, s.Paused)
		assert.Empty(t, s.Phases)
	}
	assert.Zero(t, l.Writes())
	assert.Len(t, h.journal.cycles, 4)
}

func TestTick_PauseCheckFailureSkipsCycle(t *testing.T) {
	l := simledger.New()
	seed(l)
	l.FailPaused(errors.New("rpc unavailable"))
	h := newHarness(t, baseConfig(), l, nil)

	s := h.ctrl.Tick(context.Background())
	assert.True(t, s.Paused)
	assert.Zero(t, l.Writes())
	assert.Equal(t, uint64(1), h.stats.Snapshot().Errors)
}

func TestTick_PhaseCadence(t *testing.T) {
	l := simledger.New()
	h := newHarness(t, baseConfig(), l, nil)

	var phases [][]domain.Phase
	for i := 0; i < 4; i++ {
		phases = append(phases, h.ctrl.Tick(context.Background()).Phases)
	}
	assert.Equal(t, []domain.Phase{domain.PhaseOrders}, phases[0])
	assert.Equal(t, []domain.Phase{domain.PhaseOrders, domain.PhaseLiquidations}, phases[1])
	assert.Equal(t, []domain.Phase{domain.PhaseOrders}, phases[2])
	assert.Equal(t, []domain.Phase{domain.PhaseOrders, domain.PhaseLiquidations}, phases[3])
}

func TestTick_ExecutesAndLiquidates(t *testing.T) {
	l := simledger.New()
	seed(l)
	h := newHarness(t, baseConfig(), l, nil)

	first := h.ctrl.Tick(context.Background())
	assert.Equal(t, 1, first.OrdersFound)
	assert.Equal(t, 1, first.Count(domain.OutcomeSuccess))

	second := h.ctrl.Tick(context.Background())
	assert.Equal(t, 0, second.OrdersFound, "executed order is not found again")
	assert.Equal(t, 1, second.PositionsFound)

	snap := h.stats.Snapshot()
	assert.Equal(t, uint64(1), snap.OrdersExecuted)
	assert.Equal(t, uint64(1), snap.PositionsLiquidated)
	assert.Zero(t, snap.Errors)
	assert.False(t, snap.LastRun.IsZero())
	assert.Equal(t, keeper.StateIdle, h.ctrl.State())
	assert.Equal(t, uint64(2), h.ctrl.LastCycle().Tick)
}

func TestTick_StatsEveryM(t *testing.T) {
	cfg := baseConfig()
	cfg.StatsEvery = 3
	h := newHarness(t, cfg, simledger.New(), nil)

	for i := 0; i < 7; i++ {
		h.ctrl.Tick(context.Background())
	}
	assert.Len(t, h.reporter.reports, 2)
}

func TestTick_PriceRefresh(t *testing.T) {
	l := simledger.New()
	l.SetReserves("WETH", "USDC", d("1000"), d("2500"))
	l.SetPrice("WETH", d("2000"), time.Now().Add(-2*time.Hour))
	l.SetPrice("USDC", d("1"), time.Now())

	cfg := baseConfig()
	cfg.Prices = true
	cfg.PriceEvery = 1
	mon := staleness.New(l, staleness.Config{Tokens: []string{"WETH"}, NativeToken: "USDC", MaxAge: time.Hour})
	h := newHarness(t, cfg, l, mon)

	s := h.ctrl.Tick(context.Background())
	assert.Contains(t, s.Phases, domain.PhasePrices)
	assert.Equal(t, 1, s.StaleTokens)
	assert.Equal(t, uint64(1), h.stats.Snapshot().PricesUpdated)

	q, err := l.CurrentPrice(context.Background(), "WETH")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(d("2.5")))
}

func TestTick_ReadFailuresDoNotStopTheLoop(t *testing.T) {
	l := simledger.New()
	for i := 0; i < 3; i++ {
		l.AddOrder(domain.Order{TokenIn: "WETH", TokenOut: "USDC", AmountIn: d("1")}, true)
	}
	l.SetReserves("WETH", "USDC", d("1000"), d("2000"))
	l.FailOrderRead(2, errors.New("rpc: 502 bad gateway"))
	h := newHarness(t, baseConfig(), l, nil)

	s := h.ctrl.Tick(context.Background())
	assert.Equal(t, 2, s.OrdersFound)
	assert.Equal(t, 1, s.LookupFailures)
	assert.Equal(t, 2, s.Count(domain.OutcomeSuccess))
}

func TestRun_StopsOnCancel(t *testing.T) {
	l := simledger.New()
	h := newHarness(t, baseConfig(), l, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.ctrl.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, len(h.journal.cycles), 1)
}
