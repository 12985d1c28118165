package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/ammkeeper/config"
	"github.com/alejandrodnm/ammkeeper/internal/adapters/metrics"
	"github.com/alejandrodnm/ammkeeper/internal/adapters/notify"
	"github.com/alejandrodnm/ammkeeper/internal/adapters/storage"
	"github.com/alejandrodnm/ammkeeper/internal/application/engine"
	"github.com/alejandrodnm/ammkeeper/internal/application/keeper"
	"github.com/alejandrodnm/ammkeeper/internal/application/liquidation"
	"github.com/alejandrodnm/ammkeeper/internal/application/retry"
	"github.com/alejandrodnm/ammkeeper/internal/application/scanner"
	"github.com/alejandrodnm/ammkeeper/internal/application/staleness"
	"github.com/alejandrodnm/ammkeeper/internal/domain"
	"github.com/alejandrodnm/ammkeeper/internal/domain/amm"
	"github.com/alejandrodnm/ammkeeper/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one keeper cycle and exit")
	dryRun := flag.Bool("dry-run", false, "use an in-memory ledger seeded from -fixture instead of the chain")
	fixture := flag.String("fixture", "config/fixture.yaml", "ledger fixture for -dry-run (empty = empty ledger)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	history := flag.Duration("history", 0, "print journal outcomes of the given window (e.g. 24h) and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *history > 0 {
		if err := runHistory(ctx, cfg, *history); err != nil {
			slog.Error("history failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(*dryRun); err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			for _, p := range ve.Problems {
				slog.Error("invalid config", "problem", p)
			}
		} else {
			slog.Error("invalid config", "err", err)
		}
		os.Exit(1)
	}

	slog.Info("ammkeeper starting",
		"config", *configPath,
		"interval", cfg.Interval(),
		"phases", cfg.Keeper.Phases,
		"dry_run", *dryRun,
		"once", *once,
	)

	ledger, closeLedger, err := openLedger(cfg, *dryRun, *fixture)
	if err != nil {
		slog.Error("failed to open ledger", "err", err)
		os.Exit(1)
	}
	defer closeLedger()

	var journal ports.Journal
	if dsn := journalDSN(cfg, *dryRun); dsn != "" {
		j, err := storage.NewSQLiteJournal(dsn)
		if err != nil {
			slog.Error("failed to open journal", "err", err, "dsn", dsn)
			os.Exit(1)
		}
		defer j.Close()
		journal = j
	}

	var sink ports.MetricsSink
	var prom *metrics.Prometheus
	if cfg.Metrics.ListenAddr != "" {
		prom = metrics.NewPrometheus()
		sink = prom
	}

	calc := amm.New(cfg.Policy.DecimalPrecision)
	settled := domain.NewSettledRegistry()

	liq, err := liquidation.New(liquidation.Config{
		ThresholdPercent: cfg.Policy.LiquidationThresholdPct,
		LiquidateLongs:   cfg.Liquidates("long"),
		LiquidateShorts:  cfg.Liquidates("short"),
	})
	if err != nil {
		slog.Error("invalid liquidation policy", "err", err)
		os.Exit(1)
	}

	sc := scanner.New(scanner.Config{
		Workers:                  cfg.Keeper.Workers,
		CallTimeout:              cfg.CallTimeout(),
		KeeperFeePercent:         cfg.Policy.KeeperFeePct,
		LiquidationRewardPercent: cfg.Policy.LiquidationRewardPct,
		GasExecute:               cfg.Policy.GasExecute,
		GasLiquidate:             cfg.Policy.GasLiquidate,
	}, ledger, liq, settled, calc)

	stats := keeper.NewStats(sink)

	eng := engine.New(engine.Config{
		CallTimeout:           cfg.CallTimeout(),
		Retry:                 retryPolicy(cfg),
		ImpactGuard:           !cfg.Policy.SkipImpactGuard,
		PoolFeePercent:        cfg.Policy.PoolFeePct,
		SlippagePercent:       cfg.Policy.SlippagePct,
		MaxPriceImpactPercent: cfg.Policy.MaxPriceImpactPct,
		QuoteToken:            cfg.Policy.QuoteToken,
		MaxBatchSize:          cfg.Policy.MaxBatchSize,
	}, ledger, settled, calc, stats)

	opts := keeper.Options{
		Journal:  journal,
		Reporter: notify.NewConsole(),
		Metrics:  sink,
	}
	if cfg.PhaseEnabled(string(domain.PhasePrices)) {
		opts.Prices = staleness.New(ledger, staleness.Config{
			Tokens:      cfg.Policy.PriceTokens,
			NativeToken: cfg.Policy.NativeToken,
			MaxAge:      cfg.StalenessMaxAge(),
			CallTimeout: cfg.CallTimeout(),
		})
	}

	ctrl := keeper.New(keeper.Config{
		Interval:         cfg.Interval(),
		PausedCooldown:   cfg.PausedCooldown(),
		LiquidationEvery: cfg.Keeper.LiquidationEvery,
		PriceEvery:       cfg.Keeper.PriceEvery,
		StatsEvery:       cfg.Keeper.StatsEvery,
		Orders:           cfg.PhaseEnabled(string(domain.PhaseOrders)),
		Liquidations:     cfg.PhaseEnabled(string(domain.PhaseLiquidations)),
		Prices:           opts.Prices != nil,
	}, ledger, sc, eng, stats, opts)

	if prom != nil {
		router := metrics.Router(prom, func() time.Time { return stats.Snapshot().LastRun }, 3*cfg.Interval()+cfg.PausedCooldown())
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, router); err != nil {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
	}

	if *once {
		summary := ctrl.Tick(ctx)
		if err := opts.Reporter.Report(ctx, stats.Snapshot(), summary); err != nil {
			slog.Warn("reporter error", "err", err)
		}
		return
	}

	if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("keeper exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("keeper stopped cleanly", "stats", stats.Snapshot())
}

// journalDSN returns where the journal lives, or "" when it is disabled. Dry runs never
// touch the configured file.
func journalDSN(cfg *config.Config, dryRun bool) string {
	if cfg.Storage.DSN == "off" {
		return ""
	}
	if dryRun {
		return ":memory:"
	}
	return cfg.Storage.DSN
}

func retryPolicy(cfg *config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.Policy.RetryAttempts > 0 {
		p.Attempts = cfg.Policy.RetryAttempts
	}
	if d := cfg.RetryDelay(); d > 0 {
		p.Delay = d
	}
	return p
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
