package simledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLoadFixture(t *testing.T) {
	l, err := LoadFixture("testdata/fixture.yaml")
	require.NoError(t, err)
	ctx := context.Background()

	next, err := l.NextOrderID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)

	o, err := l.GetOrder(ctx, 2)
	require.NoError(t, err)
	assert.True(t, o.Executed)
	assert.Equal(t, domain.OrderStopLoss, o.Kind)
	assert.Equal(t, domain.Short, o.Direction)
	assert.True(t, o.AmountIn.Equal(d("500")))

	ready, err := l.ShouldExecuteOrder(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ready)

	p, err := l.GetPosition(ctx, 1)
	require.NoError(t, err)
	assert.True(t, p.Open)
	assert.Equal(t, uint8(5), p.Leverage)

	q, err := l.CurrentPrice(ctx, "WETH")
	require.NoError(t, err)
	assert.Greater(t, q.Age(time.Now()), time.Hour)

	r, err := l.PoolReserves(ctx, "USDC", "WETH")
	require.NoError(t, err)
	assert.True(t, r.ReserveIn.Equal(d("2000000")), "mirror pool swaps reserves")
}

func TestFromFixtureRejectsBadDecimal(t *testing.T) {
	_, err := FromFixture(Fixture{Orders: []FixtureOrder{{AmountIn: "lots"}}}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders[0].amount_in")
}

func TestFromFixtureRejectsBadDirection(t *testing.T) {
	_, err := FromFixture(Fixture{Positions: []FixturePosition{{Direction: "sideways"}}}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positions[0].direction")
}

func TestExecuteOrderTwiceReverts(t *testing.T) {
	l := New()
	id := l.AddOrder(domain.Order{AmountIn: d("1")}, true)
	ctx := context.Background()

	rcpt, err := l.ExecuteOrder(ctx, id, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, rcpt.TxHash)

	_, err = l.ExecuteOrder(ctx, id, 0)
	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "already executed")
	assert.Equal(t, 2, l.Writes())
}

func TestLiquidateClosedPositionReverts(t *testing.T) {
	l := New()
	id := l.AddPosition(domain.Position{Open: true})
	l.ClosePosition(id)

	_, err := l.LiquidatePosition(context.Background(), id, 0)
	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "not open")
}

func TestBatchUpdatePricesLimits(t *testing.T) {
	l := New()
	ctx := context.Background()

	tokens := make([]string, 11)
	prices := make([]decimal.Decimal, 11)
	for i := range tokens {
		tokens[i] = string(rune('A' + i))
		prices[i] = d("1")
	}
	_, err := l.BatchUpdatePrices(ctx, tokens, prices)
	assert.ErrorIs(t, err, domain.ErrBatchTooLarge)

	_, err = l.BatchUpdatePrices(ctx, tokens[:2], prices[:1])
	assert.ErrorIs(t, err, domain.ErrLengthMismatch)
	assert.Equal(t, 0, l.Writes(), "rejected batches never reach the ledger")

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return fixed })
	_, err = l.BatchUpdatePrices(ctx, tokens[:10], prices[:10])
	require.NoError(t, err)
	q, err := l.CurrentPrice(ctx, "J")
	require.NoError(t, err)
	assert.Equal(t, fixed, q.UpdatedAt)
}

func TestFaultInjection(t *testing.T) {
	l := New()
	id := l.AddOrder(domain.Order{}, true)
	ctx := context.Background()
	boom := errors.New("boom")

	l.FailOrderRead(id, boom)
	_, err := l.GetOrder(ctx, id)
	assert.ErrorIs(t, err, boom)
	l.FailOrderRead(id, nil)
	_, err = l.GetOrder(ctx, id)
	assert.NoError(t, err)

	l.QueueWriteErrors(boom)
	_, err = l.ExecuteOrder(ctx, id, 0)
	assert.ErrorIs(t, err, boom)
	o, _ := l.Order(id)
	assert.False(t, o.Executed, "a failed write leaves state untouched")

	_, err = l.ExecuteOrder(ctx, id, 0)
	assert.NoError(t, err)

	l.FailPaused(boom)
	_, err = l.IsPaused(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestUnknownIDsAreNotFound(t *testing.T) {
	l := New()
	_, err := l.GetOrder(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = l.CurrentPrice(context.Background(), "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadDryRunFixture(t *testing.T) {
	l, err := LoadFixture("../../../config/fixture.yaml")
	require.NoError(t, err)
	ctx := context.Background()

	next, err := l.NextOrderID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), next)

	next, err = l.NextPositionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)

	o, err := l.GetOrder(ctx, 4)
	require.NoError(t, err)
	assert.True(t, o.Executed)

	r, err := l.PoolReserves(ctx, "WBTC", "USDC")
	require.NoError(t, err)
	assert.True(t, r.ReserveOut.Equal(d("3050000")))
}
