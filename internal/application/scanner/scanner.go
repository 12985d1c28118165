package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/ammkeeper/internal/application/liquidation"
	"github.com/alejandrodnm/ammkeeper/internal/domain"
	"github.com/alejandrodnm/ammkeeper/internal/domain/amm"
	"github.com/alejandrodnm/ammkeeper/internal/ports"
)

// Config contains the scanner settings.
type Config struct {
	Workers     int           // goroutines for concurrent lookups (0 = NumCPU)
	CallTimeout time.Duration // bound on every ledger read (0 = none)

	KeeperFeePercent         decimal.Decimal // reward share of an executed order's input
	LiquidationRewardPercent decimal.Decimal // reward share of a liquidated position's collateral

	GasExecute   uint64
	GasLiquidate uint64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:                  8,
		CallTimeout:              10 * time.Second,
		KeeperFeePercent:         decimal.RequireFromString("0.1"),
		LiquidationRewardPercent: decimal.NewFromInt(5),
		GasExecute:               500_000,
		GasLiquidate:             400_000,
	}
}

// Result is what one scan discovered.
type Result struct {
	Opportunities []domain.Opportunity // id order
	Scanned       int                  // ids read from the ledger
	Skipped       int                  // ids skipped because they were already settled
	Settled       int                  // settled ids of this kind known after the scan
	Failed        []uint64             // ids whose lookup failed this cycle
}

// Scanner walks the order and position id spaces looking for actionable targets.
// It only reads from the ledger.
type Scanner struct {
	cfg          Config
	ledger       ports.LedgerReader
	liquidations *liquidation.Monitor
	settled      *domain.SettledRegistry
	calc         amm.Calculator
}

// New creates a Scanner. settled is shared with the execution engine.
func New(
	cfg Config,
	ledger ports.LedgerReader,
	liquidations *liquidation.Monitor,
	settled *domain.SettledRegistry,
	calc amm.Calculator,
) *Scanner {
	return &Scanner{
		cfg:          cfg,
		ledger:       ledger,
		liquidations: liquidations,
		settled:      settled,
		calc:         calc,
	}
}

// ScanOrders returns every unexecuted order the contract reports as ready.
// Only a failure to read the id counter aborts the scan.
func (s *Scanner) ScanOrders(ctx context.Context) (Result, error) {
	start := time.Now()

	next, err := s.withTimeoutUint(ctx, s.ledger.NextOrderID)
	if err != nil {
		return Result{}, fmt.Errorf("scanner.ScanOrders: next order id: %w", err)
	}

	ids, skipped := s.pending(domain.KindOrderExecution, next)
	results := lookupConcurrent(ctx, ids, s.cfg.Workers, s.evalOrder)

	res := Result{Scanned: len(ids), Skipped: skipped}
	for _, r := range results {
		if r.err != nil {
			logLookupFailure("order", r.id, r.err)
			res.Failed = append(res.Failed, r.id)
			continue
		}
		if r.val != nil {
			res.Opportunities = append(res.Opportunities, *r.val)
		}
	}

	res.Settled, _ = s.settled.Len()
	slog.Info("scanner: orders scanned",
		"next_id", next,
		"scanned", res.Scanned,
		"skipped", res.Skipped,
		"settled", res.Settled,
		"ready", len(res.Opportunities),
		"failed", len(res.Failed),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

// evalOrder returns an opportunity for id, or nil when there is nothing to do.
func (s *Scanner) evalOrder(ctx context.Context, id uint64) (*domain.Opportunity, error) {
	cctx, cancel := s.callCtx(ctx)
	order, err := s.ledger.GetOrder(cctx, id)
	cancel()
	if err != nil {
		return nil, err
	}
	if order.Executed {
		s.settled.MarkSettled(domain.KindOrderExecution, id)
		return nil, nil
	}

	cctx, cancel = s.callCtx(ctx)
	ready, err := s.ledger.ShouldExecuteOrder(cctx, id)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("should execute: %w", err)
	}
	if !ready {
		return nil, nil
	}

	return &domain.Opportunity{
		Kind:            domain.KindOrderExecution,
		TargetID:        id,
		EstimatedGas:    s.cfg.GasExecute,
		EstimatedReward: s.calc.Fee(order.AmountIn, s.cfg.KeeperFeePercent),
		Order:           &order,
	}, nil
}

// ScanPositions returns every open position past the liquidation threshold.
// Prices are read once per distinct token.
func (s *Scanner) ScanPositions(ctx context.Context) (Result, error) {
	start := time.Now()

	next, err := s.withTimeoutUint(ctx, s.ledger.NextPositionID)
	if err != nil {
		return Result{}, fmt.Errorf("scanner.ScanPositions: next position id: %w", err)
	}

	ids, skipped := s.pending(domain.KindPositionLiquidation, next)
	results := lookupConcurrent(ctx, ids, s.cfg.Workers, s.readPosition)

	res := Result{Scanned: len(ids), Skipped: skipped}
	open := make([]domain.Position, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			logLookupFailure("position", r.id, r.err)
			res.Failed = append(res.Failed, r.id)
			continue
		}
		if !r.val.Open {
			s.settled.MarkSettled(domain.KindPositionLiquidation, r.id)
			continue
		}
		open = append(open, r.val)
	}

	prices := s.readPrices(ctx, open)

	for _, pos := range open {
		price, ok := prices[pos.Token]
		if !ok {
			res.Failed = append(res.Failed, pos.ID)
			continue
		}
		verdict, err := s.liquidations.Evaluate(pos, price)
		if err != nil {
			slog.Warn("scanner: position skipped", "position", pos.ID, "err", err)
			res.Failed = append(res.Failed, pos.ID)
			continue
		}
		if !verdict.Liquidatable {
			continue
		}
		p := pos
		res.Opportunities = append(res.Opportunities, domain.Opportunity{
			Kind:            domain.KindPositionLiquidation,
			TargetID:        pos.ID,
			EstimatedGas:    s.cfg.GasLiquidate,
			EstimatedReward: s.calc.Fee(pos.Collateral, s.cfg.LiquidationRewardPercent),
			Position:        &p,
			LossPercent:     verdict.LossPercent,
		})
		slog.Info("scanner: position liquidatable",
			"position", pos.ID,
			"token", pos.Token,
			"direction", pos.Kind,
			"loss_pct", s.calc.Format(verdict.LossPercent),
			"threshold_pct", s.liquidations.Threshold().String(),
		)
	}

	_, res.Settled = s.settled.Len()
	slog.Info("scanner: positions scanned",
		"next_id", next,
		"scanned", res.Scanned,
		"skipped", res.Skipped,
		"settled", res.Settled,
		"open", len(open),
		"liquidatable", len(res.Opportunities),
		"failed", len(res.Failed),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

func (s *Scanner) readPosition(ctx context.Context, id uint64) (domain.Position, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	return s.ledger.GetPosition(cctx, id)
}

// readPrices returns the current price of every token held by positions. Tokens whose
// quote cannot be read are left out of the map.
func (s *Scanner) readPrices(ctx context.Context, positions []domain.Position) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal)
	failed := make(map[string]bool)
	for _, pos := range positions {
		if _, ok := prices[pos.Token]; ok || failed[pos.Token] {
			continue
		}
		cctx, cancel := s.callCtx(ctx)
		q, err := s.ledger.CurrentPrice(cctx, pos.Token)
		cancel()
		if err != nil {
			slog.Warn("scanner: price lookup failed", "token", pos.Token, "err", err)
			failed[pos.Token] = true
			continue
		}
		prices[pos.Token] = q.Price
	}
	return prices
}

// pending lists ids in [1, next) that are not known to be settled.
func (s *Scanner) pending(kind domain.OpportunityKind, next uint64) (ids []uint64, skipped int) {
	if next <= 1 {
		return nil, 0
	}
	ids = make([]uint64, 0, next-1)
	for id := uint64(1); id < next; id++ {
		if s.settled.IsSettled(kind, id) {
			skipped++
			continue
		}
		ids = append(ids, id)
	}
	return ids, skipped
}

func (s *Scanner) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

func (s *Scanner) withTimeoutUint(ctx context.Context, fn func(context.Context) (uint64, error)) (uint64, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	return fn(cctx)
}

func logLookupFailure(what string, id uint64, err error) {
	if errors.Is(err, context.Canceled) {
		slog.Debug("scanner: lookup cancelled", "kind", what, "id", id)
		return
	}
	slog.Warn("scanner: lookup failed, skipping", "kind", what, "id", id, "err", err)
}
