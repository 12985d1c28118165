// Package onchain implements ports.LedgerGateway against EVM contracts over JSON-RPC.
//
// Reads are rate limited and retried with the shared policy. Writes are estimated first,
// so a call the contract would revert is reported as a *domain.RejectionError without
// spending gas, then signed (EIP-155), sent and awaited.
package onchain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/ammkeeper/internal/application/retry"
	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

const (
	defaultPriceDecimals  = 18
	defaultTokenDecimals  = 18
	defaultGasPriceTTL    = 30 * time.Second
	defaultReceiptTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
	defaultRPS            = 10
)

// Backend is the subset of *ethclient.Client the ledger uses.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config locates the contracts and tunes the RPC usage.
type Config struct {
	RPCURL     string
	ChainID    int64
	PrivateKey string // hex, with or without 0x

	TradingAddress string
	OracleAddress  string
	PoolAddress    string

	RateLimitRPS   float64
	GasPriceTTL    time.Duration
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	PriceDecimals  int32
	MaxBatchSize   int
	ReadRetry      retry.Policy
}

// Ledger implements ports.LedgerGateway. Reads may run concurrently; writes must be
// issued by a single caller.
type Ledger struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	trading common.Address
	oracle  common.Address
	pool    common.Address

	limiter        *rate.Limiter
	readRetry      retry.Policy
	gasTTL         time.Duration
	receiptTimeout time.Duration
	pollInterval   time.Duration
	priceDecimals  int32
	maxBatch       int

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
	decimals     map[common.Address]int32

	closeFn func()
}

// Dial connects to cfg.RPCURL and builds a Ledger on top of it.
func Dial(cfg Config) (*Ledger, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.Dial: dial rpc %s: %w", cfg.RPCURL, err)
	}
	l, err := NewLedger(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	l.closeFn = client.Close
	return l, nil
}

// NewLedger builds a Ledger on an existing backend.
func NewLedger(backend Backend, cfg Config) (*Ledger, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain.NewLedger: decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewLedger: invalid private key: %w", err)
	}

	var addrs [3]common.Address
	for i, a := range []struct{ name, v string }{
		{"trading", cfg.TradingAddress},
		{"oracle", cfg.OracleAddress},
		{"pool", cfg.PoolAddress},
	} {
		if a.v == "" && a.name == "pool" {
			continue
		}
		if !common.IsHexAddress(a.v) {
			return nil, fmt.Errorf("onchain.NewLedger: %s address %q is not a hex address", a.name, a.v)
		}
		addrs[i] = common.HexToAddress(a.v)
	}

	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = defaultRPS
	}
	if cfg.GasPriceTTL <= 0 {
		cfg.GasPriceTTL = defaultGasPriceTTL
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PriceDecimals <= 0 {
		cfg.PriceDecimals = defaultPriceDecimals
	}
	if cfg.ReadRetry.Attempts <= 0 {
		cfg.ReadRetry = retry.DefaultPolicy()
	}
	burst := max(1, int(cfg.RateLimitRPS))

	return &Ledger{
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(cfg.ChainID),
		trading:        addrs[0],
		oracle:         addrs[1],
		pool:           addrs[2],
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst),
		readRetry:      cfg.ReadRetry,
		gasTTL:         cfg.GasPriceTTL,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   cfg.PollInterval,
		priceDecimals:  cfg.PriceDecimals,
		maxBatch:       cfg.MaxBatchSize,
		decimals:       make(map[common.Address]int32),
	}, nil
}

// Close releases the RPC connection opened by Dial.
func (l *Ledger) Close() {
	if l.closeFn != nil {
		l.closeFn()
	}
}

// Address returns the keeper's signing address.
func (l *Ledger) Address() common.Address {
	return l.from
}

// --- reads ---

func (l *Ledger) IsPaused(ctx context.Context) (bool, error) {
	vals, err := l.call(ctx, l.trading, tradingABI, "paused")
	if err != nil {
		return false, fmt.Errorf("onchain.IsPaused: %w", err)
	}
	return vals[0].(bool), nil
}

func (l *Ledger) NextOrderID(ctx context.Context) (uint64, error) {
	vals, err := l.call(ctx, l.trading, tradingABI, "nextOrderId")
	if err != nil {
		return 0, fmt.Errorf("onchain.NextOrderID: %w", err)
	}
	return vals[0].(*big.Int).Uint64(), nil
}

func (l *Ledger) NextPositionID(ctx context.Context) (uint64, error) {
	vals, err := l.call(ctx, l.trading, tradingABI, "nextPositionId")
	if err != nil {
		return 0, fmt.Errorf("onchain.NextPositionID: %w", err)
	}
	return vals[0].(*big.Int).Uint64(), nil
}

func (l *Ledger) GetOrder(ctx context.Context, id uint64) (domain.Order, error) {
	vals, err := l.call(ctx, l.trading, tradingABI, "orders", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Order{}, fmt.Errorf("onchain.GetOrder %d: %w", id, err)
	}
	owner := vals[0].(common.Address)
	if owner == (common.Address{}) {
		return domain.Order{}, fmt.Errorf("onchain.GetOrder %d: %w", id, domain.ErrNotFound)
	}
	tokenIn := vals[1].(common.Address)

	decIn, err := l.tokenDecimals(ctx, tokenIn)
	if err != nil {
		return domain.Order{}, fmt.Errorf("onchain.GetOrder %d: %w", id, err)
	}

	kind := domain.OrderLimit
	if vals[5].(uint8) == 1 {
		kind = domain.OrderStopLoss
	}
	return domain.Order{
		ID:          id,
		Owner:       owner.Hex(),
		TokenIn:     tokenIn.Hex(),
		TokenOut:    vals[2].(common.Address).Hex(),
		AmountIn:    fromUnits(vals[3].(*big.Int), decIn),
		TargetPrice: fromUnits(vals[4].(*big.Int), l.priceDecimals),
		Kind:        kind,
		Direction:   direction(vals[6].(bool)),
		Executed:    vals[7].(bool),
		CreatedAt:   time.Unix(vals[8].(*big.Int).Int64(), 0).UTC(),
	}, nil
}

const maxLeverage = 100

func (l *Ledger) GetPosition(ctx context.Context, id uint64) (domain.Position, error) {
	vals, err := l.call(ctx, l.trading, tradingABI, "positions", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Position{}, fmt.Errorf("onchain.GetPosition %d: %w", id, err)
	}
	owner := vals[0].(common.Address)
	if owner == (common.Address{}) {
		return domain.Position{}, fmt.Errorf("onchain.GetPosition %d: %w", id, domain.ErrNotFound)
	}
	token := vals[1].(common.Address)

	lev := vals[3].(*big.Int)
	if !lev.IsUint64() || lev.Uint64() < 1 || lev.Uint64() > maxLeverage {
		return domain.Position{}, fmt.Errorf("onchain.GetPosition %d: leverage %s out of range [1, %d]", id, lev, maxLeverage)
	}

	dec, err := l.tokenDecimals(ctx, token)
	if err != nil {
		return domain.Position{}, fmt.Errorf("onchain.GetPosition %d: %w", id, err)
	}

	return domain.Position{
		ID:         id,
		Owner:      owner.Hex(),
		Token:      token.Hex(),
		Collateral: fromUnits(vals[2].(*big.Int), dec),
		Leverage:   uint8(lev.Uint64()),
		Kind:       direction(vals[4].(bool)),
		EntryPrice: fromUnits(vals[5].(*big.Int), l.priceDecimals),
		Size:       fromUnits(vals[6].(*big.Int), dec),
		Open:       vals[7].(bool),
	}, nil
}

func (l *Ledger) ShouldExecuteOrder(ctx context.Context, id uint64) (bool, error) {
	vals, err := l.call(ctx, l.trading, tradingABI, "shouldExecuteOrder", new(big.Int).SetUint64(id))
	if err != nil {
		return false, fmt.Errorf("onchain.ShouldExecuteOrder %d: %w", id, err)
	}
	return vals[0].(bool), nil
}

func (l *Ledger) CurrentPrice(ctx context.Context, token string) (domain.PriceQuote, error) {
	addr, err := tokenAddress(token)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("onchain.CurrentPrice: %w", err)
	}
	vals, err := l.call(ctx, l.oracle, oracleABI, "getPrice", addr)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("onchain.CurrentPrice %s: %w", token, err)
	}
	q := domain.PriceQuote{
		Token: token,
		Price: fromUnits(vals[0].(*big.Int), l.priceDecimals),
	}
	if ts := vals[1].(*big.Int); ts.Sign() > 0 {
		q.UpdatedAt = time.Unix(ts.Int64(), 0).UTC()
	}
	return q, nil
}

func (l *Ledger) PoolReserves(ctx context.Context, tokenIn, tokenOut string) (domain.Reserves, error) {
	if l.pool == (common.Address{}) {
		return domain.Reserves{}, fmt.Errorf("onchain.PoolReserves: no pool configured: %w", domain.ErrNotFound)
	}
	in, err := tokenAddress(tokenIn)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("onchain.PoolReserves: %w", err)
	}
	out, err := tokenAddress(tokenOut)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("onchain.PoolReserves: %w", err)
	}

	vals, err := l.call(ctx, l.pool, poolABI, "getReserves", in, out)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("onchain.PoolReserves %s/%s: %w", tokenIn, tokenOut, err)
	}
	decIn, err := l.tokenDecimals(ctx, in)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("onchain.PoolReserves: %w", err)
	}
	decOut, err := l.tokenDecimals(ctx, out)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("onchain.PoolReserves: %w", err)
	}
	return domain.Reserves{
		TokenIn:    tokenIn,
		TokenOut:   tokenOut,
		ReserveIn:  fromUnits(vals[0].(*big.Int), decIn),
		ReserveOut: fromUnits(vals[1].(*big.Int), decOut),
	}, nil
}

// call performs a rate-limited, retried eth_call and unpacks the outputs.
func (l *Ledger) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	var out []byte
	_, err = l.readRetry.Do(ctx, retryableRead, func(ctx context.Context) error {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		res, cerr := l.backend.CallContract(ctx, ethereum.CallMsg{From: l.from, To: &to, Data: data}, nil)
		if cerr != nil {
			return cerr
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return vals, nil
}

// tokenDecimals returns the ERC-20 decimals of token, cached for the process lifetime.
// The zero address stands for the native asset.
func (l *Ledger) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	if token == (common.Address{}) {
		return defaultTokenDecimals, nil
	}

	l.mu.RLock()
	dec, ok := l.decimals[token]
	l.mu.RUnlock()
	if ok {
		return dec, nil
	}

	vals, err := l.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		if isRevert(err) {
			slog.Warn("onchain: token has no decimals(), assuming 18", "token", token.Hex())
			dec = defaultTokenDecimals
		} else {
			return 0, fmt.Errorf("decimals of %s: %w", token.Hex(), err)
		}
	} else {
		dec = int32(vals[0].(uint8))
	}

	l.mu.Lock()
	l.decimals[token] = dec
	l.mu.Unlock()
	return dec, nil
}

// retryableRead retries everything except contract reverts and cancellation.
func retryableRead(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !isRevert(err)
}

func tokenAddress(token string) (common.Address, error) {
	if !common.IsHexAddress(token) {
		return common.Address{}, fmt.Errorf("token %q is not a hex address", token)
	}
	return common.HexToAddress(token), nil
}

func direction(isLong bool) domain.Direction {
	if isLong {
		return domain.Long
	}
	return domain.Short
}
