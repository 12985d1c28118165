package main

import (
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/ammkeeper/config"
	"github.com/alejandrodnm/ammkeeper/internal/adapters/onchain"
	"github.com/alejandrodnm/ammkeeper/internal/adapters/simledger"
	"github.com/alejandrodnm/ammkeeper/internal/ports"
)

// openLedger returns the gateway the keeper runs against and a func that releases it.
func openLedger(cfg *config.Config, dryRun bool, fixture string) (ports.LedgerGateway, func(), error) {
	if dryRun {
		if fixture == "" {
			slog.Info("dry run on an empty ledger")
			l := simledger.New()
			l.SetMaxBatch(cfg.Policy.MaxBatchSize)
			return l, func() {}, nil
		}
		l, err := simledger.LoadFixture(fixture)
		if err != nil {
			return nil, nil, fmt.Errorf("openLedger: %w", err)
		}
		slog.Info("dry run on fixture ledger", "fixture", fixture)
		return l, func() {}, nil
	}

	l, err := onchain.Dial(onchain.Config{
		RPCURL:         cfg.Ledger.RPCURL,
		ChainID:        cfg.Ledger.ChainID,
		PrivateKey:     cfg.Ledger.PrivateKey,
		TradingAddress: cfg.Ledger.TradingAddress,
		OracleAddress:  cfg.Ledger.OracleAddress,
		PoolAddress:    cfg.Ledger.PoolAddress,
		RateLimitRPS:   cfg.Ledger.RateLimitRPS,
		GasPriceTTL:    cfg.GasPriceCacheTTL(),
		ReceiptTimeout: cfg.ReceiptTimeout(),
		PriceDecimals:  cfg.Ledger.PriceDecimals,
		MaxBatchSize:   cfg.Policy.MaxBatchSize,
		ReadRetry:      retryPolicy(cfg),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("openLedger: %w", err)
	}
	slog.Info("connected to chain",
		"rpc", cfg.Ledger.RPCURL,
		"chain_id", cfg.Ledger.ChainID,
		"keeper", l.Address().Hex(),
	)
	return l, l.Close, nil
}
