package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete keeper configuration.
type Config struct {
	Keeper  KeeperConfig  `yaml:"keeper"`
	Policy  PolicyConfig  `yaml:"policy"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// KeeperConfig controls the loop cadence and which phases run.
type KeeperConfig struct {
	IntervalSeconds       int      `yaml:"interval_seconds"`
	PausedCooldownSeconds int      `yaml:"paused_cooldown_seconds"`
	LiquidationEvery      int      `yaml:"liquidation_every"` // ticks between position scans
	PriceEvery            int      `yaml:"price_every"`       // ticks between staleness sweeps
	StatsEvery            int      `yaml:"stats_every"`       // ticks between stats rollups
	Phases                []string `yaml:"phases"`            // orders | liquidations | prices
	Workers               int      `yaml:"workers"`
	CallTimeoutSeconds    int      `yaml:"call_timeout_seconds"`
}

// PolicyConfig holds the economic and risk knobs. Percentages are decimals; a key left
// out of the YAML keeps its default, an explicit 0 is kept as 0.
type PolicyConfig struct {
	LiquidationThresholdPct decimal.Decimal `yaml:"liquidation_threshold_pct"`
	LiquidationDirections   []string        `yaml:"liquidation_directions"` // long | short
	KeeperFeePct            decimal.Decimal `yaml:"keeper_fee_pct"`
	LiquidationRewardPct    decimal.Decimal `yaml:"liquidation_reward_pct"`
	PoolFeePct              decimal.Decimal `yaml:"pool_fee_pct"`
	SlippagePct             decimal.Decimal `yaml:"slippage_pct"`
	MaxPriceImpactPct       decimal.Decimal `yaml:"max_price_impact_pct"` // 0 disables the ceiling
	SkipImpactGuard         bool            `yaml:"skip_impact_guard"`
	StalenessMaxAgeSeconds  int             `yaml:"staleness_max_age_seconds"`
	PriceTokens             []string        `yaml:"price_tokens"`
	NativeToken             string          `yaml:"native_token"`
	QuoteToken              string          `yaml:"quote_token"`
	MaxBatchSize            int             `yaml:"max_batch_size"`
	GasExecute              uint64          `yaml:"gas_execute"`
	GasLiquidate            uint64          `yaml:"gas_liquidate"`
	RetryAttempts           int             `yaml:"retry_attempts"`
	RetryDelayMillis        int             `yaml:"retry_delay_ms"`
	DecimalPrecision        int32           `yaml:"decimal_precision"`
}

// defaultPolicy seeds the percentages before decoding, so only keys present in the YAML
// replace them.
func defaultPolicy() PolicyConfig {
	return PolicyConfig{
		LiquidationThresholdPct: decimal.NewFromInt(80),
		KeeperFeePct:            decimal.RequireFromString("0.1"),
		LiquidationRewardPct:    decimal.NewFromInt(5),
		PoolFeePct:              decimal.RequireFromString("0.3"),
		SlippagePct:             decimal.NewFromInt(1),
		MaxPriceImpactPct:       decimal.NewFromInt(5),
	}
}

// LedgerConfig locates the chain and the exchange contracts.
type LedgerConfig struct {
	RPCURL                string  `yaml:"rpc_url"`
	ChainID               int64   `yaml:"chain_id"`
	PrivateKey            string  `yaml:"-"` // only from KEEPER_PRIVATE_KEY
	TradingAddress        string  `yaml:"trading_address"`
	OracleAddress         string  `yaml:"oracle_address"`
	PoolAddress           string  `yaml:"pool_address"`
	RateLimitRPS          float64 `yaml:"rate_limit_rps"`
	GasPriceCacheSeconds  int     `yaml:"gas_price_cache_seconds"`
	ReceiptTimeoutSeconds int     `yaml:"receipt_timeout_seconds"`
	PriceDecimals         int32   `yaml:"price_decimals"`
}

// StorageConfig controls the execution journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file, ":memory:", or "off"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the endpoint
}

// LogConfig controls the logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// ValidationError lists every configuration problem found. It is fatal at startup.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads the YAML file at path and the .env file if present. Environment variables
// override the YAML for the keys they cover.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes, applying env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Policy: defaultPolicy()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Validate checks the configuration. The ledger section is only required when the
// keeper talks to a real chain.
func (c *Config) Validate(dryRun bool) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	hundred := decimal.NewFromInt(100)
	pct := func(field string, v decimal.Decimal, allowHundred bool) {
		if v.IsNegative() || v.GreaterThan(hundred) || (!allowHundred && v.Equal(hundred)) {
			rng := "[0, 100)"
			if allowHundred {
				rng = "[0, 100]"
			}
			add("policy.%s %s out of range %s", field, v, rng)
		}
	}

	if t := c.Policy.LiquidationThresholdPct; !t.IsPositive() || t.GreaterThan(hundred) {
		add("policy.liquidation_threshold_pct %s out of range (0, 100]", t)
	}
	for _, d := range c.Policy.LiquidationDirections {
		if d != "long" && d != "short" {
			add("policy.liquidation_directions: unknown direction %q", d)
		}
	}
	for _, p := range c.Keeper.Phases {
		if p != "orders" && p != "liquidations" && p != "prices" {
			add("keeper.phases: unknown phase %q", p)
		}
	}
	if c.Policy.MaxBatchSize < 1 {
		add("policy.max_batch_size must be at least 1")
	}
	pct("slippage_pct", c.Policy.SlippagePct, false)
	pct("pool_fee_pct", c.Policy.PoolFeePct, false)
	pct("keeper_fee_pct", c.Policy.KeeperFeePct, true)
	pct("liquidation_reward_pct", c.Policy.LiquidationRewardPct, true)
	if c.Policy.MaxPriceImpactPct.IsNegative() {
		add("policy.max_price_impact_pct %s must not be negative", c.Policy.MaxPriceImpactPct)
	}
	if c.PhaseEnabled("prices") && c.Policy.QuoteToken == "" {
		add("policy.quote_token is required when the prices phase is enabled")
	}

	if !dryRun {
		if c.Ledger.RPCURL == "" {
			add("ledger.rpc_url is required (or KEEPER_RPC_URL)")
		}
		if c.Ledger.PrivateKey == "" {
			add("KEEPER_PRIVATE_KEY is required")
		}
		checkAddress := func(field, v string, required bool) {
			if v == "" {
				if required {
					add("ledger.%s is required", field)
				}
				return
			}
			if !common.IsHexAddress(v) {
				add("ledger.%s %q is not a hex address", field, v)
			}
		}
		checkAddress("trading_address", c.Ledger.TradingAddress, true)
		checkAddress("oracle_address", c.Ledger.OracleAddress, true)
		checkAddress("pool_address", c.Ledger.PoolAddress, c.PhaseEnabled("prices") || !c.Policy.SkipImpactGuard)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// IsValidationError reports whether err is a configuration problem.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PhaseEnabled reports whether the named phase is configured to run.
func (c *Config) PhaseEnabled(name string) bool {
	for _, p := range c.Keeper.Phases {
		if p == name {
			return true
		}
	}
	return false
}

// Liquidates reports whether positions of the given direction are liquidated.
func (c *Config) Liquidates(direction string) bool {
	for _, d := range c.Policy.LiquidationDirections {
		if d == direction {
			return true
		}
	}
	return false
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Keeper.IntervalSeconds) * time.Second
}

func (c *Config) PausedCooldown() time.Duration {
	return time.Duration(c.Keeper.PausedCooldownSeconds) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Keeper.CallTimeoutSeconds) * time.Second
}

func (c *Config) StalenessMaxAge() time.Duration {
	return time.Duration(c.Policy.StalenessMaxAgeSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Policy.RetryDelayMillis) * time.Millisecond
}

func (c *Config) GasPriceCacheTTL() time.Duration {
	return time.Duration(c.Ledger.GasPriceCacheSeconds) * time.Second
}

func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.Ledger.ReceiptTimeoutSeconds) * time.Second
}

// applyEnvOverrides replaces values with environment variables when present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KEEPER_PRIVATE_KEY"); v != "" {
		cfg.Ledger.PrivateKey = v
	}
	if v := os.Getenv("KEEPER_RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills in sane values for everything left unset. Policy percentages are
// seeded by defaultPolicy instead.
func setDefaults(cfg *Config) {
	k := &cfg.Keeper
	if k.IntervalSeconds <= 0 {
		k.IntervalSeconds = 20
	}
	if k.PausedCooldownSeconds <= 0 {
		k.PausedCooldownSeconds = 60
	}
	if k.LiquidationEvery <= 0 {
		k.LiquidationEvery = 2
	}
	if k.PriceEvery <= 0 {
		k.PriceEvery = 5
	}
	if k.StatsEvery <= 0 {
		k.StatsEvery = 10
	}
	if len(k.Phases) == 0 {
		k.Phases = []string{"orders", "liquidations"}
	}
	if k.Workers <= 0 {
		k.Workers = 8
	}
	if k.CallTimeoutSeconds <= 0 {
		k.CallTimeoutSeconds = 30
	}

	p := &cfg.Policy
	if len(p.LiquidationDirections) == 0 {
		p.LiquidationDirections = []string{"long", "short"}
	}
	if p.StalenessMaxAgeSeconds <= 0 {
		p.StalenessMaxAgeSeconds = 3600
	}
	if p.MaxBatchSize == 0 {
		p.MaxBatchSize = 10
	}
	if p.GasExecute == 0 {
		p.GasExecute = 500_000
	}
	if p.GasLiquidate == 0 {
		p.GasLiquidate = 400_000
	}
	if p.RetryAttempts <= 0 {
		p.RetryAttempts = 2
	}
	if p.RetryDelayMillis <= 0 {
		p.RetryDelayMillis = 500
	}
	if p.DecimalPrecision <= 0 {
		p.DecimalPrecision = 6
	}

	l := &cfg.Ledger
	if l.ChainID == 0 {
		l.ChainID = 31337 // local devnet
	}
	if l.RateLimitRPS <= 0 {
		l.RateLimitRPS = 10
	}
	if l.GasPriceCacheSeconds <= 0 {
		l.GasPriceCacheSeconds = 30
	}
	if l.ReceiptTimeoutSeconds <= 0 {
		l.ReceiptTimeoutSeconds = 120
	}
	if l.PriceDecimals <= 0 {
		l.PriceDecimals = 18
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "keeper.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
