package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

// LedgerReader is the read-only side of the exchange contracts.
type LedgerReader interface {
	// IsPaused reports the Trading contract circuit-breaker flag.
	IsPaused(ctx context.Context) (bool, error)

	// NextOrderID and NextPositionID are exclusive upper bounds of the id space.
	NextOrderID(ctx context.Context) (uint64, error)
	NextPositionID(ctx context.Context) (uint64, error)

	// GetOrder and GetPosition return domain.ErrNotFound for ids never created.
	GetOrder(ctx context.Context, id uint64) (domain.Order, error)
	GetPosition(ctx context.Context, id uint64) (domain.Position, error)

	// ShouldExecuteOrder is the contract's own readiness predicate.
	ShouldExecuteOrder(ctx context.Context, id uint64) (bool, error)

	// CurrentPrice returns the oracle quote with its last update time.
	CurrentPrice(ctx context.Context, token string) (domain.PriceQuote, error)

	// PoolReserves returns the AMM reserves of the directed pair tokenIn → tokenOut.
	PoolReserves(ctx context.Context, tokenIn, tokenOut string) (domain.Reserves, error)
}

// LedgerWriter submits keeper transactions. Implementations block until the transaction
// is mined (or ctx expires) and return *domain.RejectionError for contract reverts.
type LedgerWriter interface {
	ExecuteOrder(ctx context.Context, id uint64, gasHint uint64) (domain.Receipt, error)
	LiquidatePosition(ctx context.Context, id uint64, gasHint uint64) (domain.Receipt, error)

	// BatchUpdatePrices pushes len(tokens) prices to the oracle in one transaction.
	// Callers never pass more than MaxBatchSize entries.
	BatchUpdatePrices(ctx context.Context, tokens []string, prices []decimal.Decimal) (domain.Receipt, error)
}

// LedgerGateway is everything the keeper needs from the exchange contracts.
type LedgerGateway interface {
	LedgerReader
	LedgerWriter
}
