// Package engine turns opportunities into ledger transactions and classifies how each
// attempt ended.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/ammkeeper/internal/application/retry"
	"github.com/alejandrodnm/ammkeeper/internal/domain"
	"github.com/alejandrodnm/ammkeeper/internal/domain/amm"
	"github.com/alejandrodnm/ammkeeper/internal/ports"
)

const defaultMaxBatch = 10

// Config holds the execution settings.
type Config struct {
	CallTimeout time.Duration // bound on every ledger call (0 = none)
	Retry       retry.Policy

	// ImpactGuard enables the pool check before an order is submitted.
	ImpactGuard           bool
	PoolFeePercent        decimal.Decimal
	SlippagePercent       decimal.Decimal
	MaxPriceImpactPercent decimal.Decimal // 0 disables the impact ceiling

	QuoteToken   string // pricing pair for the refresh phase
	MaxBatchSize int    // oracle batch limit (0 = 10)
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:           30 * time.Second,
		Retry:                 retry.DefaultPolicy(),
		ImpactGuard:           true,
		PoolFeePercent:        decimal.RequireFromString("0.3"),
		SlippagePercent:       decimal.NewFromInt(1),
		MaxPriceImpactPercent: decimal.NewFromInt(5),
		MaxBatchSize:          defaultMaxBatch,
	}
}

// Recorder receives every classified outcome. The keeper's stats tracker implements it.
type Recorder interface {
	RecordOutcome(o domain.Outcome)
}

// Engine submits ledger writes one at a time. It is not safe for concurrent use: a single
// caller keeps the signer's nonce sequence ordered.
type Engine struct {
	cfg     Config
	ledger  ports.LedgerGateway
	settled *domain.SettledRegistry
	calc    amm.Calculator
	stats   Recorder
}

// New creates an Engine. stats may be nil.
func New(
	cfg Config,
	ledger ports.LedgerGateway,
	settled *domain.SettledRegistry,
	calc amm.Calculator,
	stats Recorder,
) *Engine {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatch
	}
	return &Engine{
		cfg:     cfg,
		ledger:  ledger,
		settled: settled,
		calc:    calc,
		stats:   stats,
	}
}

// ExecuteAll executes opps sequentially in the given order. Only ctx cancellation stops
// the batch early; the outcomes of the opportunities attempted are returned.
func (e *Engine) ExecuteAll(ctx context.Context, opps []domain.Opportunity) []domain.Outcome {
	outcomes := make([]domain.Outcome, 0, len(opps))
	for _, opp := range opps {
		if ctx.Err() != nil {
			slog.Info("engine: batch interrupted", "remaining", len(opps)-len(outcomes))
			break
		}
		outcomes = append(outcomes, e.Execute(ctx, opp))
	}
	return outcomes
}

// Execute attempts one opportunity and reports how it ended. It never returns an error:
// every failure is folded into the outcome.
func (e *Engine) Execute(ctx context.Context, opp domain.Opportunity) domain.Outcome {
	out := e.execute(ctx, opp)
	out.Opportunity = opp
	if out.Kind == domain.OutcomeSuccess || out.Kind == domain.OutcomeAlreadyDone {
		e.settled.MarkSettled(opp.Kind, opp.TargetID)
	}
	logOutcome(out)
	if e.stats != nil {
		e.stats.RecordOutcome(out)
	}
	return out
}

func (e *Engine) execute(ctx context.Context, opp domain.Opportunity) domain.Outcome {
	if e.settled.IsSettled(opp.Kind, opp.TargetID) {
		return domain.Outcome{Kind: domain.OutcomeAlreadyDone, Reason: "settled earlier"}
	}

	if done, reason := e.alreadySettled(ctx, opp); done {
		return domain.Outcome{Kind: domain.OutcomeAlreadyDone, Reason: reason}
	}

	if opp.Kind == domain.KindOrderExecution && e.cfg.ImpactGuard {
		if reason, ok := e.checkImpact(ctx, opp); !ok {
			return domain.Outcome{Kind: domain.OutcomeEconomicRejection, Reason: reason}
		}
	}

	write, err := e.writer(opp.Kind)
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeUnknownFailure, Reason: err.Error()}
	}

	var rcpt domain.Receipt
	attempts, err := e.cfg.Retry.Do(ctx, isTransient, func(ctx context.Context) error {
		cctx, cancel := e.callCtx(ctx)
		defer cancel()
		r, werr := write(cctx, opp.TargetID, opp.EstimatedGas)
		if werr != nil {
			return werr
		}
		rcpt = r
		return nil
	})
	if err == nil {
		return domain.Outcome{Kind: domain.OutcomeSuccess, Receipt: &rcpt, Attempts: attempts}
	}

	kind, reason := classify(err)
	if kind == domain.OutcomeUnknownFailure {
		// A revert we cannot read may still mean a competitor got there first.
		if done, why := e.alreadySettled(ctx, opp); done {
			kind, reason = domain.OutcomeAlreadyDone, why
		}
	}
	return domain.Outcome{Kind: kind, Reason: reason, Attempts: attempts}
}

type writeFunc func(ctx context.Context, id uint64, gasHint uint64) (domain.Receipt, error)

func (e *Engine) writer(kind domain.OpportunityKind) (writeFunc, error) {
	switch kind {
	case domain.KindOrderExecution:
		return e.ledger.ExecuteOrder, nil
	case domain.KindPositionLiquidation:
		return e.ledger.LiquidatePosition, nil
	}
	return nil, fmt.Errorf("engine: unsupported opportunity kind %d", kind)
}

// alreadySettled re-reads the target. A failed read is not conclusive and reports false.
func (e *Engine) alreadySettled(ctx context.Context, opp domain.Opportunity) (bool, string) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()

	switch opp.Kind {
	case domain.KindOrderExecution:
		o, err := e.ledger.GetOrder(cctx, opp.TargetID)
		if err != nil {
			slog.Debug("engine: pre-flight read failed", "target", opp.Key(), "err", err)
			return false, ""
		}
		if o.Executed {
			return true, "order already executed"
		}
	case domain.KindPositionLiquidation:
		p, err := e.ledger.GetPosition(cctx, opp.TargetID)
		if err != nil {
			slog.Debug("engine: pre-flight read failed", "target", opp.Key(), "err", err)
			return false, ""
		}
		if !p.Open {
			return true, "position not open"
		}
	}
	return false, ""
}

// checkImpact sizes the order against the pool. It reports false with a reason when the
// trade would move the pool more than allowed. Missing pool data lets the order through:
// the contract enforces its own slippage bound.
func (e *Engine) checkImpact(ctx context.Context, opp domain.Opportunity) (string, bool) {
	if opp.Order == nil {
		return "", true
	}
	o := opp.Order

	cctx, cancel := e.callCtx(ctx)
	r, err := e.ledger.PoolReserves(cctx, o.TokenIn, o.TokenOut)
	cancel()
	if err != nil {
		slog.Debug("engine: reserves unavailable, skipping impact check", "target", opp.Key(), "err", err)
		return "", true
	}

	expected := e.calc.AmountOut(o.AmountIn, r.ReserveIn, r.ReserveOut, e.cfg.PoolFeePercent)
	if !expected.IsPositive() {
		return "insufficient output: pool cannot fill order", false
	}
	impact := e.calc.PriceImpact(r.ReserveIn, r.ReserveOut, o.AmountIn)
	minOut := e.calc.ApplySlippage(expected, e.cfg.SlippagePercent, true)

	slog.Debug("engine: order sized",
		"target", opp.Key(),
		"amount_in", e.calc.Format(o.AmountIn),
		"expected_out", e.calc.Format(expected),
		"min_out", e.calc.Format(minOut),
		"impact_pct", e.calc.Format(impact),
	)

	if e.cfg.MaxPriceImpactPercent.IsPositive() && impact.GreaterThan(e.cfg.MaxPriceImpactPercent) {
		return fmt.Sprintf("price impact %s%% exceeds slippage ceiling %s%%",
			e.calc.Format(impact), e.cfg.MaxPriceImpactPercent), false
	}
	return "", true
}

// RefreshPrices prices every token from its pool against the quote token and pushes the
// results to the oracle in batches of at most MaxBatchSize. Tokens that cannot be priced
// are logged and left out.
func (e *Engine) RefreshPrices(ctx context.Context, tokens []string) []domain.Outcome {
	if len(tokens) == 0 {
		return nil
	}

	priced := make([]string, 0, len(tokens))
	prices := make([]decimal.Decimal, 0, len(tokens))
	for _, t := range tokens {
		p, err := e.spotPrice(ctx, t)
		if err != nil {
			slog.Warn("engine: cannot price token, skipping", "token", t, "err", err)
			continue
		}
		priced = append(priced, t)
		prices = append(prices, p)
	}

	var outcomes []domain.Outcome
	for start := 0; start < len(priced); start += e.cfg.MaxBatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+e.cfg.MaxBatchSize, len(priced))
		out := e.submitPrices(ctx, priced[start:end], prices[start:end])
		logOutcome(out)
		if e.stats != nil {
			e.stats.RecordOutcome(out)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (e *Engine) spotPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	if token == e.cfg.QuoteToken {
		return decimal.NewFromInt(1), nil
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	r, err := e.ledger.PoolReserves(cctx, token, e.cfg.QuoteToken)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reserves %s/%s: %w", token, e.cfg.QuoteToken, err)
	}
	p := e.calc.SpotPrice(r)
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("empty pool %s/%s", token, e.cfg.QuoteToken)
	}
	return p, nil
}

func (e *Engine) submitPrices(ctx context.Context, tokens []string, prices []decimal.Decimal) domain.Outcome {
	batch := append([]string(nil), tokens...)

	var rcpt domain.Receipt
	attempts, err := e.cfg.Retry.Do(ctx, isTransient, func(ctx context.Context) error {
		cctx, cancel := e.callCtx(ctx)
		defer cancel()
		r, werr := e.ledger.BatchUpdatePrices(cctx, tokens, prices)
		if werr != nil {
			return werr
		}
		rcpt = r
		return nil
	})
	if err == nil {
		return domain.Outcome{Kind: domain.OutcomeSuccess, Receipt: &rcpt, Attempts: attempts, Tokens: batch}
	}
	kind, reason := classify(err)
	return domain.Outcome{Kind: kind, Reason: reason, Attempts: attempts, Tokens: batch}
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func logOutcome(o domain.Outcome) {
	attrs := []any{"target", o.Target(), "outcome", o.Kind.String(), "attempts", o.Attempts}
	switch o.Kind {
	case domain.OutcomeSuccess:
		slog.Info("engine: executed", append(attrs, "tx", o.TxHash())...)
	case domain.OutcomeAlreadyDone:
		slog.Info("engine: already settled", append(attrs, "reason", o.Reason)...)
	case domain.OutcomeEconomicRejection:
		slog.Info("engine: rejected", append(attrs, "reason", o.Reason)...)
	case domain.OutcomeTransientFailure:
		slog.Warn("engine: transient failure, skipping until next cycle", append(attrs, "reason", o.Reason)...)
	default:
		slog.Error("engine: execution failed", append(attrs, "reason", o.Reason)...)
	}
}
