package balance

import (
	"context"
	"fmt"
)

// Write is a committed balance value.
type Write struct {
	Account AccountID
	Value   int64
}

// Staged buffers writes over a backend reader. Reads observe earlier staged
// writes. Backends wrap their native transaction in a Staged, run the update
// callback against it and then persist Writes.
type Staged struct {
	base     Reader
	declared map[AccountID]struct{}
	values   map[AccountID]int64
	order    []AccountID
}

var _ Tx = (*Staged)(nil)

// NewStaged returns a Staged restricted to the declared accounts.
func NewStaged(base Reader, declared []AccountID) *Staged {
	set := make(map[AccountID]struct{}, len(declared))
	for _, account := range declared {
		set[account] = struct{}{}
	}

	return &Staged{
		base:     base,
		declared: set,
		values:   make(map[AccountID]int64, len(declared)),
	}
}

func (s *Staged) check(account AccountID) error {
	if account == "" {
		return ErrEmptyAccount
	}

	if _, ok := s.declared[account]; !ok {
		return fmt.Errorf("%w: %s", ErrUndeclaredAccount, account)
	}

	return nil
}

// Get returns the staged value of account, or reads it from the base.
func (s *Staged) Get(ctx context.Context, account AccountID) (int64, error) {
	if err := s.check(account); err != nil {
		return 0, err
	}

	if value, ok := s.values[account]; ok {
		return value, nil
	}

	return s.base.Get(ctx, account)
}

// Set stages value for account.
func (s *Staged) Set(_ context.Context, account AccountID, value int64) error {
	if err := s.check(account); err != nil {
		return err
	}

	if value < 0 {
		return fmt.Errorf("%w: %s=%d", ErrNegativeBalance, account, value)
	}

	if _, ok := s.values[account]; !ok {
		s.order = append(s.order, account)
	}

	s.values[account] = value

	return nil
}

// Writes returns the final staged value of every written account, in the
// order each account was first written.
func (s *Staged) Writes() []Write {
	writes := make([]Write, 0, len(s.order))
	for _, account := range s.order {
		writes = append(writes, Write{Account: account, Value: s.values[account]})
	}

	return writes
}
