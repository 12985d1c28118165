// Package keeper drives the discovery and execution loop.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/ammkeeper/internal/application/scanner"
	"github.com/alejandrodnm/ammkeeper/internal/application/staleness"
	"github.com/alejandrodnm/ammkeeper/internal/domain"
	"github.com/alejandrodnm/ammkeeper/internal/ports"
)

// State is where the controller is within a tick.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateExecuting
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateExecuting:
		return "executing"
	case StateReporting:
		return "reporting"
	default:
		return "unknown"
	}
}

// Config holds the loop cadence.
type Config struct {
	Interval       time.Duration
	PausedCooldown time.Duration // sleep after a tick that found the system paused

	LiquidationEvery int // run the position phase every N ticks
	PriceEvery       int // run the price refresh every N ticks
	StatsEvery       int // publish the rollup every N ticks

	Orders       bool
	Liquidations bool
	Prices       bool
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		Interval:         20 * time.Second,
		PausedCooldown:   60 * time.Second,
		LiquidationEvery: 2,
		PriceEvery:       5,
		StatsEvery:       10,
		Orders:           true,
		Liquidations:     true,
		Prices:           false,
	}
}

// Discoverer finds opportunities. *scanner.Scanner implements it.
type Discoverer interface {
	ScanOrders(ctx context.Context) (scanner.Result, error)
	ScanPositions(ctx context.Context) (scanner.Result, error)
}

// Executor submits opportunities and price batches. *engine.Engine implements it.
type Executor interface {
	ExecuteAll(ctx context.Context, opps []domain.Opportunity) []domain.Outcome
	RefreshPrices(ctx context.Context, tokens []string) []domain.Outcome
}

// PriceChecker flags stale oracle quotes. *staleness.Monitor implements it.
type PriceChecker interface {
	Check(ctx context.Context) staleness.Report
}

// Options are the optional collaborators of a Controller.
type Options struct {
	Prices   PriceChecker
	Journal  ports.Journal
	Reporter ports.Reporter
	Metrics  ports.MetricsSink
}

// Controller runs one cooperative loop. Ledger writes only happen inside Tick, one at a
// time, so the signer's nonce is never contended.
type Controller struct {
	cfg      Config
	ledger   ports.LedgerReader
	scanner  Discoverer
	executor Executor
	stats    *Stats
	opts     Options

	mu    sync.Mutex
	state State
	tick  uint64
	last  domain.CycleSummary

	now func() time.Time
}

// New creates a Controller. Zero cadence values fall back to the defaults.
func New(cfg Config, ledger ports.LedgerReader, sc Discoverer, ex Executor, stats *Stats, opts Options) *Controller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.PausedCooldown <= 0 {
		cfg.PausedCooldown = def.PausedCooldown
	}
	if cfg.LiquidationEvery <= 0 {
		cfg.LiquidationEvery = def.LiquidationEvery
	}
	if cfg.PriceEvery <= 0 {
		cfg.PriceEvery = def.PriceEvery
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = def.StatsEvery
	}
	if stats == nil {
		stats = NewStats(opts.Metrics)
	}
	return &Controller{
		cfg:      cfg,
		ledger:   ledger,
		scanner:  sc,
		executor: ex,
		stats:    stats,
		opts:     opts,
		now:      time.Now,
	}
}

// State returns the current loop state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastCycle returns the summary of the most recent tick.
func (c *Controller) LastCycle() domain.CycleSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run ticks immediately and then after every interval until ctx is cancelled. It only
// returns ctx's error; no tick failure ends the loop.
func (c *Controller) Run(ctx context.Context) error {
	slog.Info("keeper starting",
		"interval", c.cfg.Interval,
		"liquidation_every", c.cfg.LiquidationEvery,
		"price_every", c.cfg.PriceEvery,
		"stats_every", c.cfg.StatsEvery,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateIdle)
			slog.Info("keeper stopped", "ticks", c.ticks())
			return ctx.Err()
		case <-timer.C:
			summary := c.Tick(ctx)
			wait := c.cfg.Interval
			if summary.Paused {
				wait = c.cfg.PausedCooldown
			}
			timer.Reset(wait)
		}
	}
}

func (c *Controller) ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Tick runs one cycle: pause check, then the phases due on this tick, then reporting.
func (c *Controller) Tick(ctx context.Context) domain.CycleSummary {
	c.mu.Lock()
	c.tick++
	n := c.tick
	c.mu.Unlock()

	summary := domain.CycleSummary{
		ID:        uuid.New().String(),
		Tick:      n,
		StartedAt: c.now(),
	}
	defer func() { c.setState(StateIdle) }()

	c.setState(StateScanning)
	paused, err := c.ledger.IsPaused(ctx)
	switch {
	case err != nil:
		// Without a pause answer no write is safe; treat the tick as paused.
		if !errors.Is(err, context.Canceled) {
			slog.Error("keeper: pause check failed, skipping cycle", "tick", n, "err", err)
			c.stats.RecordError()
		}
		summary.Paused = true
	case paused:
		slog.Info("keeper: system paused, cooling down", "tick", n, "cooldown", c.cfg.PausedCooldown)
		summary.Paused = true
	default:
		c.runPhases(ctx, n, &summary)
	}

	c.finish(ctx, n, &summary)
	return summary
}

func (c *Controller) runPhases(ctx context.Context, n uint64, summary *domain.CycleSummary) {
	if c.cfg.Orders {
		summary.Phases = append(summary.Phases, domain.PhaseOrders)
		c.setState(StateScanning)
		res, err := c.scanner.ScanOrders(ctx)
		if err != nil {
			slog.Warn("keeper: order scan failed", "tick", n, "err", err)
		} else {
			summary.OrdersFound = len(res.Opportunities)
			summary.LookupFailures += len(res.Failed)
			c.setState(StateExecuting)
			summary.Outcomes = append(summary.Outcomes, c.executor.ExecuteAll(ctx, res.Opportunities)...)
		}
	}

	if c.cfg.Liquidations && n%uint64(c.cfg.LiquidationEvery) == 0 && ctx.Err() == nil {
		summary.Phases = append(summary.Phases, domain.PhaseLiquidations)
		c.setState(StateScanning)
		res, err := c.scanner.ScanPositions(ctx)
		if err != nil {
			slog.Warn("keeper: position scan failed", "tick", n, "err", err)
		} else {
			summary.PositionsFound = len(res.Opportunities)
			summary.LookupFailures += len(res.Failed)
			c.setState(StateExecuting)
			summary.Outcomes = append(summary.Outcomes, c.executor.ExecuteAll(ctx, res.Opportunities)...)
		}
	}

	if c.cfg.Prices && c.opts.Prices != nil && n%uint64(c.cfg.PriceEvery) == 0 && ctx.Err() == nil {
		summary.Phases = append(summary.Phases, domain.PhasePrices)
		c.setState(StateScanning)
		report := c.opts.Prices.Check(ctx)
		stale := report.StaleTokens()
		summary.StaleTokens = len(stale)
		if len(stale) > 0 {
			c.setState(StateExecuting)
			summary.Outcomes = append(summary.Outcomes, c.executor.RefreshPrices(ctx, stale)...)
		}
	}
}

// finish logs the tick, stamps LastRun and hands the summary to the journal, metrics
// and, every StatsEvery ticks, the reporter.
func (c *Controller) finish(ctx context.Context, n uint64, summary *domain.CycleSummary) {
	c.setState(StateReporting)
	end := c.now()
	summary.Duration = end.Sub(summary.StartedAt)
	c.stats.MarkRun(end)

	c.mu.Lock()
	c.last = *summary
	c.mu.Unlock()

	slog.Info("keeper: cycle complete",
		"tick", n,
		"paused", summary.Paused,
		"orders", summary.OrdersFound,
		"positions", summary.PositionsFound,
		"stale_prices", summary.StaleTokens,
		"succeeded", summary.Count(domain.OutcomeSuccess),
		"already_done", summary.Count(domain.OutcomeAlreadyDone),
		"rejected", summary.Count(domain.OutcomeEconomicRejection),
		"transient", summary.Count(domain.OutcomeTransientFailure),
		"failed", summary.Count(domain.OutcomeUnknownFailure),
		"lookup_failures", summary.LookupFailures,
		"duration", summary.Duration.Round(time.Millisecond),
	)

	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveCycle(*summary)
	}

	// Reporting must not be cut short by shutdown.
	rctx := context.WithoutCancel(ctx)

	if c.opts.Journal != nil {
		if err := c.opts.Journal.RecordCycle(rctx, *summary); err != nil {
			slog.Warn("keeper: journal write failed", "tick", n, "err", err)
		}
	}

	if n%uint64(c.cfg.StatsEvery) == 0 {
		snap := c.stats.Snapshot()
		slog.Info("keeper: stats",
			"orders_executed", snap.OrdersExecuted,
			"positions_liquidated", snap.PositionsLiquidated,
			"prices_updated", snap.PricesUpdated,
			"errors", snap.Errors,
			"last_run", snap.LastRun.Format(time.RFC3339),
		)
		if c.opts.Reporter != nil {
			if err := c.opts.Reporter.Report(rctx, snap, *summary); err != nil {
				slog.Warn("keeper: reporter error", "err", err)
			}
		}
	}
}
