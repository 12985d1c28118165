package onchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

const fallbackGasPrice = 30_000_000_000 // 30 gwei

// --- writes ---

func (l *Ledger) ExecuteOrder(ctx context.Context, id uint64, gasHint uint64) (domain.Receipt, error) {
	return l.transact(ctx, l.trading, tradingABI, "executeOrder", gasHint, new(big.Int).SetUint64(id))
}

func (l *Ledger) LiquidatePosition(ctx context.Context, id uint64, gasHint uint64) (domain.Receipt, error) {
	return l.transact(ctx, l.trading, tradingABI, "liquidatePosition", gasHint, new(big.Int).SetUint64(id))
}

func (l *Ledger) BatchUpdatePrices(ctx context.Context, tokens []string, prices []decimal.Decimal) (domain.Receipt, error) {
	if len(tokens) != len(prices) {
		return domain.Receipt{}, domain.ErrLengthMismatch
	}
	if l.maxBatch > 0 && len(tokens) > l.maxBatch {
		return domain.Receipt{}, fmt.Errorf("onchain.BatchUpdatePrices: %d prices: %w", len(tokens), domain.ErrBatchTooLarge)
	}

	addrs := make([]common.Address, len(tokens))
	units := make([]*big.Int, len(prices))
	for i, t := range tokens {
		a, err := tokenAddress(t)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("onchain.BatchUpdatePrices: %w", err)
		}
		addrs[i] = a
		units[i] = toUnits(prices[i], l.priceDecimals)
	}
	return l.transact(ctx, l.oracle, oracleABI, "batchUpdatePrices", 0, addrs, units)
}

// transact estimates, signs, sends and awaits one transaction. gasHint is a floor for
// the gas limit; the estimate plus 20% is used when larger. Once the transaction is
// broadcast every failure is a *domain.PendingError.
func (l *Ledger) transact(
	ctx context.Context,
	to common.Address,
	contract abi.ABI,
	method string,
	gasHint uint64,
	args ...any,
) (domain.Receipt, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain.%s: pack: %w", method, err)
	}

	gasPrice, err := l.gasPrice(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain.%s: gas price: %w", method, err)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return domain.Receipt{}, err
	}
	estimate, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     l.from,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return domain.Receipt{}, &domain.RejectionError{Op: method, Reason: reason}
		}
		return domain.Receipt{}, fmt.Errorf("onchain.%s: estimate gas: %w", method, err)
	}
	gasLimit := max(estimate*12/10, gasHint)

	nonce, err := l.backend.PendingNonceAt(ctx, l.from)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain.%s: nonce: %w", method, err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(l.chainID), l.key)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain.%s: sign tx: %w", method, err)
	}

	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain.%s: send tx: %w", method, err)
	}
	txHash := signed.Hash().Hex()
	slog.Info("onchain: transaction sent", "method", method, "tx", txHash, "nonce", nonce, "gas_limit", gasLimit)

	// The receipt wait outlives the caller's per-call timeout, never its cancellation.
	receiptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.receiptTimeout)
	defer cancel()

	receipt, err := l.waitForReceipt(receiptCtx, ctx, signed.Hash())
	if err != nil {
		slog.Warn("onchain: receipt not received, transaction left in flight", "method", method, "tx", txHash, "err", err)
		return domain.Receipt{}, &domain.PendingError{Op: method, TxHash: txHash, Err: err}
	}

	rcpt := domain.Receipt{TxHash: txHash, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		rcpt.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return rcpt, &domain.RejectionError{Op: method, Reason: "transaction reverted on-chain", TxHash: txHash}
	}

	slog.Info("onchain: confirmed", "method", method, "tx", txHash, "block", rcpt.BlockNumber, "gas_used", rcpt.GasUsed)
	return rcpt, nil
}

// gasPrice returns the suggested gas price plus 10%, cached for gasTTL.
func (l *Ledger) gasPrice(ctx context.Context) (*big.Int, error) {
	l.mu.RLock()
	cached := l.cachedGasWei
	updatedAt := l.gasUpdatedAt
	l.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < l.gasTTL {
		return cached, nil
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	price, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		slog.Warn("onchain: gas price unavailable, using fallback", "err", err, "gwei", fallbackGasPrice/1e9)
		return big.NewInt(fallbackGasPrice), nil
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	l.mu.Lock()
	l.cachedGasWei = buffered
	l.gasUpdatedAt = time.Now()
	l.mu.Unlock()

	return buffered, nil
}

// waitForReceipt polls until the transaction is mined or waitCtx expires. If the caller's
// ctx is cancelled the wait stops: the transaction stays in flight and is not tracked.
func (l *Ledger) waitForReceipt(waitCtx, callerCtx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		case <-callerCtx.Done():
			if errors.Is(callerCtx.Err(), context.Canceled) {
				return nil, callerCtx.Err()
			}
			// per-call deadline: keep waiting on waitCtx alone
			callerCtx = context.Background()
		case <-ticker.C:
			receipt, err := l.backend.TransactionReceipt(waitCtx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// revertReason extracts the contract's revert reason from an RPC error.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if raw, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(raw); uerr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	i := strings.Index(msg, "execution reverted")
	if i < 0 {
		return "", false
	}
	reason := strings.TrimSpace(strings.TrimPrefix(msg[i+len("execution reverted"):], ":"))
	if reason == "" {
		reason = "execution reverted"
	}
	return reason, true
}

func isRevert(err error) bool {
	_, ok := revertReason(err)
	return ok
}

func fromUnits(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -decimals)
}

func toUnits(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).BigInt()
}
