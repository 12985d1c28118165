package liquidation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

const lossPrecision int32 = 18

var hundred = decimal.NewFromInt(100)

// Config is the liquidation policy. It is configuration rather than code so operators
// can tune it without a release.
type Config struct {
	ThresholdPercent decimal.Decimal // liquidatable iff loss% >= threshold
	LiquidateLongs   bool
	LiquidateShorts  bool
}

// DefaultConfig liquidates both directions at an 80% loss.
func DefaultConfig() Config {
	return Config{
		ThresholdPercent: decimal.NewFromInt(80),
		LiquidateLongs:   true,
		LiquidateShorts:  true,
	}
}

// Assessment is the verdict for one position at one price.
type Assessment struct {
	LossPercent  decimal.Decimal
	Liquidatable bool
}

// Monitor applies the loss threshold to open positions.
type Monitor struct {
	cfg Config
}

// New validates the policy.
func New(cfg Config) (*Monitor, error) {
	if !cfg.ThresholdPercent.IsPositive() || cfg.ThresholdPercent.GreaterThan(hundred) {
		return nil, fmt.Errorf("liquidation.New: threshold %s%% out of range (0, 100]", cfg.ThresholdPercent)
	}
	return &Monitor{cfg: cfg}, nil
}

// Threshold returns the configured loss threshold in percent.
func (m *Monitor) Threshold() decimal.Decimal {
	return m.cfg.ThresholdPercent
}

// LossPercent returns the unrealized loss of a position opened at entry, marked at
// current. Gains report zero.
func LossPercent(entry, current decimal.Decimal, dir domain.Direction) (decimal.Decimal, error) {
	if !entry.IsPositive() {
		return decimal.Zero, fmt.Errorf("liquidation.LossPercent: entry %s: %w", entry, domain.ErrInvalidEntryPrice)
	}
	if current.IsNegative() {
		return decimal.Zero, errors.New("liquidation.LossPercent: negative current price")
	}

	var move decimal.Decimal
	switch dir {
	case domain.Long:
		if !current.LessThan(entry) {
			return decimal.Zero, nil
		}
		move = entry.Sub(current)
	case domain.Short:
		if !current.GreaterThan(entry) {
			return decimal.Zero, nil
		}
		move = current.Sub(entry)
	default:
		return decimal.Zero, fmt.Errorf("liquidation.LossPercent: unknown direction %d", dir)
	}
	return move.Mul(hundred).DivRound(entry, lossPrecision), nil
}

// Evaluate decides whether pos should be liquidated at price current.
func (m *Monitor) Evaluate(pos domain.Position, current decimal.Decimal) (Assessment, error) {
	loss, err := LossPercent(pos.EntryPrice, current, pos.Kind)
	if err != nil {
		return Assessment{}, fmt.Errorf("position %d: %w", pos.ID, err)
	}

	a := Assessment{LossPercent: loss}
	if !pos.Open || !m.monitors(pos.Kind) {
		return a, nil
	}
	a.Liquidatable = loss.GreaterThanOrEqual(m.cfg.ThresholdPercent)
	return a, nil
}

func (m *Monitor) monitors(dir domain.Direction) bool {
	switch dir {
	case domain.Long:
		return m.cfg.LiquidateLongs
	case domain.Short:
		return m.cfg.LiquidateShorts
	}
	return false
}
