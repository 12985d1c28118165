package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"KEEPER_PRIVATE_KEY", "KEEPER_RPC_URL", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
}

func TestParseDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.Interval())
	assert.Equal(t, 2, cfg.Keeper.LiquidationEvery)
	assert.Equal(t, 10, cfg.Keeper.StatsEvery)
	assert.True(t, cfg.PhaseEnabled("orders"))
	assert.True(t, cfg.PhaseEnabled("liquidations"))
	assert.False(t, cfg.PhaseEnabled("prices"))
	assert.Equal(t, "80", cfg.Policy.LiquidationThresholdPct.String())
	assert.Equal(t, "1", cfg.Policy.SlippagePct.String())
	assert.Equal(t, "5", cfg.Policy.MaxPriceImpactPct.String())
	assert.Equal(t, "0.3", cfg.Policy.PoolFeePct.String())
	assert.True(t, cfg.Liquidates("long"))
	assert.True(t, cfg.Liquidates("short"))
	assert.Equal(t, 10, cfg.Policy.MaxBatchSize)
	assert.Equal(t, time.Hour, cfg.StalenessMaxAge())
	assert.Equal(t, "keeper.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	assert.NoError(t, cfg.Validate(true))
}

func TestParseYAML(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(`
keeper:
  interval_seconds: 5
  phases: [orders, prices]
policy:
  liquidation_threshold_pct: 90
  liquidation_directions: [short]
  quote_token: USDC
log:
  format: json
`))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Interval())
	assert.False(t, cfg.PhaseEnabled("liquidations"))
	assert.False(t, cfg.Liquidates("long"))
	assert.Equal(t, "90", cfg.Policy.LiquidationThresholdPct.String())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate(true))
}

func TestParseExplicitZeroPercentagesKept(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(`
policy:
  slippage_pct: 0
  max_price_impact_pct: 0
  keeper_fee_pct: 0.25
  pool_fee_pct: "0.05"
`))
	require.NoError(t, err)
	assert.True(t, cfg.Policy.SlippagePct.IsZero())
	assert.True(t, cfg.Policy.MaxPriceImpactPct.IsZero())
	assert.Equal(t, "0.25", cfg.Policy.KeeperFeePct.String())
	assert.Equal(t, "0.05", cfg.Policy.PoolFeePct.String())
	// untouched keys keep their defaults
	assert.Equal(t, "80", cfg.Policy.LiquidationThresholdPct.String())
	assert.Equal(t, "5", cfg.Policy.LiquidationRewardPct.String())
	assert.NoError(t, cfg.Validate(true))
}

func TestValidateRejectsOutOfRangePercentages(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(`
policy:
  slippage_pct: 100
  pool_fee_pct: -1
  max_price_impact_pct: -0.5
  keeper_fee_pct: 101
`))
	require.NoError(t, err)

	var ve *ValidationError
	require.ErrorAs(t, cfg.Validate(true), &ve)
	msg := ve.Error()
	assert.Contains(t, msg, "slippage_pct 100 out of range")
	assert.Contains(t, msg, "pool_fee_pct -1 out of range")
	assert.Contains(t, msg, "max_price_impact_pct -0.5 must not be negative")
	assert.Contains(t, msg, "keeper_fee_pct 101 out of range")
	assert.NotContains(t, msg, "liquidation_reward_pct")
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KEEPER_PRIVATE_KEY", "abc123")
	t.Setenv("KEEPER_RPC_URL", "http://node:8545")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse([]byte("ledger:\n  rpc_url: http://yaml:8545\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", cfg.Ledger.PrivateKey)
	assert.Equal(t, "http://node:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestPrivateKeyNotReadFromYAML(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("ledger:\n  private_key: deadbeef\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Ledger.PrivateKey)
}

func TestValidateLiveRequiresLedger(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	err = cfg.Validate(false)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "KEEPER_PRIVATE_KEY")
	assert.Contains(t, ve.Error(), "ledger.trading_address is required")
	assert.Contains(t, ve.Error(), "ledger.pool_address is required")
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(`
keeper:
  phases: [orders, teleport]
policy:
  liquidation_threshold_pct: 150
  liquidation_directions: [sideways]
  max_batch_size: -1
ledger:
  trading_address: "not-an-address"
`))
	require.NoError(t, err)
	cfg.Ledger.PrivateKey = "k"

	var ve *ValidationError
	require.ErrorAs(t, cfg.Validate(false), &ve)
	msg := ve.Error()
	assert.Contains(t, msg, "liquidation_threshold_pct")
	assert.Contains(t, msg, `unknown direction "sideways"`)
	assert.Contains(t, msg, `unknown phase "teleport"`)
	assert.Contains(t, msg, "max_batch_size")
	assert.Contains(t, msg, "not a hex address")
}

func TestValidateLiveOK(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(`
ledger:
  trading_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  oracle_address: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
  pool_address: "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
`))
	require.NoError(t, err)
	cfg.Ledger.PrivateKey = "k"
	assert.NoError(t, cfg.Validate(false))
}

func TestLoadExampleConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	data, err := os.ReadFile("config.yaml")
	require.NoError(t, err)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Interval())
	assert.NoError(t, cfg.Validate(true))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
