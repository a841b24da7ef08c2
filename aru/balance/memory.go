package balance

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps balances in process memory behind a single mutex.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[AccountID]int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[AccountID]int64)}
}

// Get returns the balance of account, or 0.
func (m *MemoryStore) Get(ctx context.Context, account AccountID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if account == "" {
		return 0, ErrEmptyAccount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balances[account], nil
}

// Update runs fn under the store mutex and applies its writes on success.
func (m *MemoryStore) Update(ctx context.Context, accounts []AccountID, fn UpdateFunc) error {
	if fn == nil {
		return ErrNilUpdateFn
	}

	declared, err := LockOrder(accounts)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := NewStaged(lockedReader{m}, declared)
	if err := fn(ctx, staged); err != nil {
		return err
	}

	for _, w := range staged.Writes() {
		m.balances[w.Account] = w.Value
	}

	return nil
}

// Snapshot returns a copy of every stored balance.
func (m *MemoryStore) Snapshot() map[AccountID]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.balances)
}

// lockedReader reads m.balances while Update already holds m.mu.
type lockedReader struct{ m *MemoryStore }

func (r lockedReader) Get(ctx context.Context, account AccountID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return r.m.balances[account], nil
}
