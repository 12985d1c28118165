// Package simledger is an in-memory implementation of ports.LedgerGateway.
//
// It backs -dry-run mode and the tests of every component above the ledger. It mimics
// the contract behaviour the keeper depends on: settled targets revert with a reason,
// writes are counted, and reads or writes can be made to fail on demand.
package simledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

// DefaultMaxBatch mirrors the oracle contract limit.
const DefaultMaxBatch = 10

type pairKey struct{ in, out string }

// Ledger is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	paused    bool
	orders    []domain.Order // index = id-1
	positions []domain.Position
	ready     map[uint64]bool
	prices    map[string]domain.PriceQuote
	pools     map[pairKey]domain.Reserves
	maxBatch  int

	readErrs  map[string]error
	writeErrs []error
	pauseErr  error

	writes int
	block  uint64
	now    func() time.Time
}

// New returns an empty, unpaused ledger.
func New() *Ledger {
	return &Ledger{
		ready:    make(map[uint64]bool),
		prices:   make(map[string]domain.PriceQuote),
		pools:    make(map[pairKey]domain.Reserves),
		readErrs: make(map[string]error),
		maxBatch: DefaultMaxBatch,
		block:    1,
		now:      time.Now,
	}
}

// --- seeding ---

// AddOrder stores o under the next order id and returns it.
func (l *Ledger) AddOrder(o domain.Order, ready bool) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	o.ID = uint64(len(l.orders) + 1)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = l.now()
	}
	l.orders = append(l.orders, o)
	l.ready[o.ID] = ready
	return o.ID
}

// AddPosition stores p under the next position id and returns it.
func (l *Ledger) AddPosition(p domain.Position) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	p.ID = uint64(len(l.positions) + 1)
	l.positions = append(l.positions, p)
	return p.ID
}

// SetReady overrides the ShouldExecuteOrder predicate for id.
func (l *Ledger) SetReady(id uint64, ready bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready[id] = ready
}

func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

// SetPrice writes an oracle quote directly.
func (l *Ledger) SetPrice(token string, price decimal.Decimal, updatedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prices[token] = domain.PriceQuote{Token: token, Price: price, UpdatedAt: updatedAt}
}

// SetReserves defines the pool for tokenIn → tokenOut and its mirror.
func (l *Ledger) SetReserves(tokenIn, tokenOut string, reserveIn, reserveOut decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pools[pairKey{tokenIn, tokenOut}] = domain.Reserves{
		TokenIn: tokenIn, TokenOut: tokenOut, ReserveIn: reserveIn, ReserveOut: reserveOut,
	}
	l.pools[pairKey{tokenOut, tokenIn}] = domain.Reserves{
		TokenIn: tokenOut, TokenOut: tokenIn, ReserveIn: reserveOut, ReserveOut: reserveIn,
	}
}

// SetMaxBatch changes the oracle batch limit.
func (l *Ledger) SetMaxBatch(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxBatch = n
}

// SetClock replaces time.Now.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// --- fault injection ---

// FailOrderRead makes GetOrder(id) return err.
func (l *Ledger) FailOrderRead(id uint64, err error) { l.failRead(fmt.Sprintf("order/%d", id), err) }

// FailPositionRead makes GetPosition(id) return err.
func (l *Ledger) FailPositionRead(id uint64, err error) {
	l.failRead(fmt.Sprintf("position/%d", id), err)
}

// FailPriceRead makes CurrentPrice(token) return err.
func (l *Ledger) FailPriceRead(token string, err error) { l.failRead("price/"+token, err) }

// FailPaused makes IsPaused return err.
func (l *Ledger) FailPaused(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pauseErr = err
}

// QueueWriteErrors makes the next len(errs) write calls fail in order, before touching state.
func (l *Ledger) QueueWriteErrors(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErrs = append(l.writeErrs, errs...)
}

func (l *Ledger) failRead(key string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.readErrs, key)
		return
	}
	l.readErrs[key] = err
}

// --- inspection ---

// Writes returns how many write calls reached the ledger, failed ones included.
func (l *Ledger) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// Order returns the stored order without fault injection.
func (l *Ledger) Order(id uint64) (domain.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == 0 || id > uint64(len(l.orders)) {
		return domain.Order{}, false
	}
	return l.orders[id-1], true
}

// Position returns the stored position without fault injection.
func (l *Ledger) Position(id uint64) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == 0 || id > uint64(len(l.positions)) {
		return domain.Position{}, false
	}
	return l.positions[id-1], true
}

// MarkOrderExecuted simulates a competing keeper executing id.
func (l *Ledger) MarkOrderExecuted(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id > 0 && id <= uint64(len(l.orders)) {
		l.orders[id-1].Executed = true
	}
}

// ClosePosition simulates the owner or a competitor closing id.
func (l *Ledger) ClosePosition(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id > 0 && id <= uint64(len(l.positions)) {
		l.positions[id-1].Open = false
	}
}

// --- ports.LedgerReader ---

func (l *Ledger) IsPaused(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pauseErr != nil {
		return false, l.pauseErr
	}
	return l.paused, nil
}

func (l *Ledger) NextOrderID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.orders) + 1), nil
}

func (l *Ledger) NextPositionID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.positions) + 1), nil
}

func (l *Ledger) GetOrder(ctx context.Context, id uint64) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readErrs[fmt.Sprintf("order/%d", id)]; err != nil {
		return domain.Order{}, err
	}
	if id == 0 || id > uint64(len(l.orders)) {
		return domain.Order{}, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	return l.orders[id-1], nil
}

func (l *Ledger) GetPosition(ctx context.Context, id uint64) (domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return domain.Position{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readErrs[fmt.Sprintf("position/%d", id)]; err != nil {
		return domain.Position{}, err
	}
	if id == 0 || id > uint64(len(l.positions)) {
		return domain.Position{}, fmt.Errorf("position %d: %w", id, domain.ErrNotFound)
	}
	return l.positions[id-1], nil
}

func (l *Ledger) ShouldExecuteOrder(ctx context.Context, id uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == 0 || id > uint64(len(l.orders)) {
		return false, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	return !l.orders[id-1].Executed && l.ready[id], nil
}

func (l *Ledger) CurrentPrice(ctx context.Context, token string) (domain.PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return domain.PriceQuote{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readErrs["price/"+token]; err != nil {
		return domain.PriceQuote{}, err
	}
	q, ok := l.prices[token]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("price %s: %w", token, domain.ErrNotFound)
	}
	return q, nil
}

func (l *Ledger) PoolReserves(ctx context.Context, tokenIn, tokenOut string) (domain.Reserves, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reserves{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.pools[pairKey{tokenIn, tokenOut}]
	if !ok {
		return domain.Reserves{}, fmt.Errorf("pool %s/%s: %w", tokenIn, tokenOut, domain.ErrNotFound)
	}
	return r, nil
}

// --- ports.LedgerWriter ---

func (l *Ledger) ExecuteOrder(ctx context.Context, id uint64, gasHint uint64) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.beginWrite(); err != nil {
		return domain.Receipt{}, err
	}
	if l.paused {
		return domain.Receipt{}, &domain.RejectionError{Op: "executeOrder", Reason: "Pausable: paused"}
	}
	if id == 0 || id > uint64(len(l.orders)) {
		return domain.Receipt{}, &domain.RejectionError{Op: "executeOrder", Reason: "order does not exist"}
	}
	o := &l.orders[id-1]
	if o.Executed {
		return domain.Receipt{}, &domain.RejectionError{Op: "executeOrder", Reason: "order already executed"}
	}
	if !l.ready[id] {
		return domain.Receipt{}, &domain.RejectionError{Op: "executeOrder", Reason: "price condition not met"}
	}
	o.Executed = true
	return l.receipt(gasHint), nil
}

func (l *Ledger) LiquidatePosition(ctx context.Context, id uint64, gasHint uint64) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.beginWrite(); err != nil {
		return domain.Receipt{}, err
	}
	if l.paused {
		return domain.Receipt{}, &domain.RejectionError{Op: "liquidatePosition", Reason: "Pausable: paused"}
	}
	if id == 0 || id > uint64(len(l.positions)) {
		return domain.Receipt{}, &domain.RejectionError{Op: "liquidatePosition", Reason: "position does not exist"}
	}
	p := &l.positions[id-1]
	if !p.Open {
		return domain.Receipt{}, &domain.RejectionError{Op: "liquidatePosition", Reason: "position not open"}
	}
	p.Open = false
	return l.receipt(gasHint), nil
}

func (l *Ledger) BatchUpdatePrices(ctx context.Context, tokens []string, prices []decimal.Decimal) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(tokens) != len(prices) {
		return domain.Receipt{}, domain.ErrLengthMismatch
	}
	if len(tokens) > l.maxBatch {
		return domain.Receipt{}, fmt.Errorf("batch of %d: %w", len(tokens), domain.ErrBatchTooLarge)
	}
	if err := l.beginWrite(); err != nil {
		return domain.Receipt{}, err
	}
	now := l.now()
	for i, t := range tokens {
		l.prices[t] = domain.PriceQuote{Token: t, Price: prices[i], UpdatedAt: now}
	}
	return l.receipt(uint64(60_000 * len(tokens))), nil
}

// beginWrite counts the call and pops a queued failure. Callers hold l.mu.
func (l *Ledger) beginWrite() error {
	l.writes++
	if len(l.writeErrs) == 0 {
		return nil
	}
	err := l.writeErrs[0]
	l.writeErrs = l.writeErrs[1:]
	return err
}

func (l *Ledger) receipt(gas uint64) domain.Receipt {
	l.block++
	return domain.Receipt{
		TxHash:      fmt.Sprintf("0x%064x", l.block),
		BlockNumber: l.block,
		GasUsed:     gas,
	}
}
