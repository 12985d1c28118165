package domain

import "sync"

// SettledRegistry remembers which orders and positions the keeper has seen settled.
// Orders never un-execute and positions never reopen, so an entry is permanent for
// the lifetime of the process. It is shared by the scanner and the engine.
type SettledRegistry struct {
	mu        sync.RWMutex
	orders    map[uint64]struct{}
	positions map[uint64]struct{}
}

func NewSettledRegistry() *SettledRegistry {
	return &SettledRegistry{
		orders:    make(map[uint64]struct{}),
		positions: make(map[uint64]struct{}),
	}
}

// MarkSettled records the target as done.
func (r *SettledRegistry) MarkSettled(kind OpportunityKind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case KindOrderExecution:
		r.orders[id] = struct{}{}
	case KindPositionLiquidation:
		r.positions[id] = struct{}{}
	}
}

// IsSettled reports whether the target was already observed as done.
func (r *SettledRegistry) IsSettled(kind OpportunityKind, id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindOrderExecution:
		_, ok := r.orders[id]
		return ok
	case KindPositionLiquidation:
		_, ok := r.positions[id]
		return ok
	}
	return false
}

// Len returns the number of settled orders and positions.
func (r *SettledRegistry) Len() (orders, positions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders), len(r.positions)
}
