// Package amm implements constant-product pool math.
//
// Every result is computed on decimals with a fixed intermediate division precision and
// then rounded to Calculator.Precision fractional digits. Values produced here end up as
// on-chain guards (minimum outputs, maximum inputs), so the rounding direction is part of
// the contract:
//   - amounts the keeper receives (AmountOut, NetAmount, Fee, minimum slippage bound) round down
//   - amounts the keeper pays (AmountIn, maximum slippage bound) round up
package amm

import (
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

const (
	// DefaultPrecision is the number of fractional digits kept in results.
	DefaultPrecision int32 = 6

	divPrecision int32 = 36
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Calculator evaluates pool formulas at a fixed output precision.
type Calculator struct {
	Precision int32
}

// New returns a Calculator; precision <= 0 falls back to DefaultPrecision.
func New(precision int32) Calculator {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return Calculator{Precision: precision}
}

// AmountOut returns the output of swapping amountIn against the pool, net of feePercent.
func (c Calculator) AmountOut(amountIn, reserveIn, reserveOut, feePercent decimal.Decimal) decimal.Decimal {
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() || !amountIn.IsPositive() {
		return decimal.Zero
	}
	withFee := amountIn.Mul(feeFactor(feePercent))
	out := withFee.Mul(reserveOut).DivRound(reserveIn.Add(withFee), divPrecision)
	return c.down(out)
}

// AmountIn returns the input needed to receive amountOut. It returns zero when the
// request would drain the pool (amountOut >= reserveOut) or a reserve is empty.
func (c Calculator) AmountIn(amountOut, reserveIn, reserveOut, feePercent decimal.Decimal) decimal.Decimal {
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() || !amountOut.IsPositive() {
		return decimal.Zero
	}
	if amountOut.GreaterThanOrEqual(reserveOut) {
		return decimal.Zero
	}
	factor := feeFactor(feePercent)
	if !factor.IsPositive() {
		return decimal.Zero
	}
	denom := reserveOut.Sub(amountOut).Mul(factor)
	in := reserveIn.Mul(amountOut).DivRound(denom, divPrecision)
	return c.up(in)
}

// PriceImpact returns, in percent, how far the pool spot price moves when amountIn is
// sold into it while reserveIn*reserveOut stays constant.
func (c Calculator) PriceImpact(reserveIn, reserveOut, amountIn decimal.Decimal) decimal.Decimal {
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() || !amountIn.IsPositive() {
		return decimal.Zero
	}
	k := reserveIn.Mul(reserveOut)
	newIn := reserveIn.Add(amountIn)
	newOut := k.DivRound(newIn, divPrecision)

	before := reserveOut.DivRound(reserveIn, divPrecision)
	after := newOut.DivRound(newIn, divPrecision)

	impact := before.Sub(after).DivRound(before, divPrecision).Mul(hundred).Abs()
	return c.down(impact)
}

// ApplySlippage widens amount by slippagePercent: downwards for a minimum acceptable
// output, upwards for a maximum acceptable input.
func (c Calculator) ApplySlippage(amount, slippagePercent decimal.Decimal, isMinimum bool) decimal.Decimal {
	s := slippagePercent.DivRound(hundred, divPrecision)
	if isMinimum {
		return c.down(amount.Mul(one.Sub(s)))
	}
	return c.up(amount.Mul(one.Add(s)))
}

// Fee returns feePercent of amount.
func (c Calculator) Fee(amount, feePercent decimal.Decimal) decimal.Decimal {
	return c.down(amount.Mul(feePercent).DivRound(hundred, divPrecision))
}

// NetAmount returns amount minus its fee.
func (c Calculator) NetAmount(amount, feePercent decimal.Decimal) decimal.Decimal {
	return c.down(amount.Mul(feeFactor(feePercent)))
}

// SpotPrice returns the marginal price of TokenIn denominated in TokenOut.
func (c Calculator) SpotPrice(r domain.Reserves) decimal.Decimal {
	if !r.ReserveIn.IsPositive() || !r.ReserveOut.IsPositive() {
		return decimal.Zero
	}
	return c.down(r.ReserveOut.DivRound(r.ReserveIn, divPrecision))
}

// Format renders d as a fixed-decimal string at the calculator precision.
func (c Calculator) Format(d decimal.Decimal) string {
	return d.StringFixed(c.Precision)
}

func feeFactor(feePercent decimal.Decimal) decimal.Decimal {
	return one.Sub(feePercent.DivRound(hundred, divPrecision))
}

func (c Calculator) down(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(c.Precision)
}

func (c Calculator) up(d decimal.Decimal) decimal.Decimal {
	return d.RoundUp(c.Precision)
}
