package liquidation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func openPosition(dir domain.Direction, entry int64) domain.Position {
	return domain.Position{ID: 1, Kind: dir, EntryPrice: dec(entry), Open: true, Leverage: 10}
}

func TestLossPercent_Long(t *testing.T) {
	loss, err := LossPercent(dec(100), dec(20), domain.Long)
	require.NoError(t, err)
	assert.True(t, loss.Equal(dec(80)), "got %s", loss)

	loss, err = LossPercent(dec(100), dec(130), domain.Long)
	require.NoError(t, err)
	assert.True(t, loss.IsZero(), "a gain is not a loss")
}

func TestLossPercent_Short(t *testing.T) {
	loss, err := LossPercent(dec(100), dec(150), domain.Short)
	require.NoError(t, err)
	assert.True(t, loss.Equal(dec(50)))

	loss, err = LossPercent(dec(100), dec(60), domain.Short)
	require.NoError(t, err)
	assert.True(t, loss.IsZero())
}

func TestLossPercent_ZeroEntryRejected(t *testing.T) {
	_, err := LossPercent(decimal.Zero, dec(20), domain.Long)
	assert.ErrorIs(t, err, domain.ErrInvalidEntryPrice)
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)

	at, err := m.Evaluate(openPosition(domain.Long, 100), dec(20))
	require.NoError(t, err)
	assert.True(t, at.Liquidatable, "an 80 percent loss hits the default threshold")

	below, err := m.Evaluate(openPosition(domain.Long, 100), dec(21))
	require.NoError(t, err)
	assert.True(t, below.LossPercent.Equal(dec(79)))
	assert.False(t, below.Liquidatable)
}

func TestEvaluate_ShortAboveThreshold(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)

	at, err := m.Evaluate(openPosition(domain.Short, 100), dec(185))
	require.NoError(t, err)
	assert.True(t, at.Liquidatable)
}

func TestEvaluate_DirectionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiquidateShorts = false
	m, err := New(cfg)
	require.NoError(t, err)

	at, err := m.Evaluate(openPosition(domain.Short, 100), dec(500))
	require.NoError(t, err)
	assert.False(t, at.Liquidatable)
	assert.True(t, at.LossPercent.Equal(dec(400)))
}

func TestEvaluate_ClosedPositionNeverLiquidatable(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)

	pos := openPosition(domain.Long, 100)
	pos.Open = false
	at, err := m.Evaluate(pos, dec(1))
	require.NoError(t, err)
	assert.False(t, at.Liquidatable)
}

func TestEvaluate_InvalidEntry(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)

	_, err = m.Evaluate(openPosition(domain.Long, 0), dec(1))
	assert.ErrorIs(t, err, domain.ErrInvalidEntryPrice)
}

func TestNew_RejectsBadThreshold(t *testing.T) {
	for _, th := range []int64{0, -5, 101} {
		cfg := DefaultConfig()
		cfg.ThresholdPercent = dec(th)
		_, err := New(cfg)
		assert.Error(t, err, "threshold %d", th)
	}
}
