package balance

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// AccountID identifies a ledger participant. Any non-empty string is valid.
type AccountID string

// String implements fmt.Stringer.
func (a AccountID) String() string { return string(a) }

var (
	// ErrNilStore is returned when a nil Store is used.
	ErrNilStore = errors.New("balance store is nil")
	// ErrEmptyAccount is returned for an empty AccountID.
	ErrEmptyAccount = errors.New("account id cannot be empty")
	// ErrNegativeBalance is returned when a write would persist a negative balance.
	ErrNegativeBalance = errors.New("balance cannot be negative")
	// ErrUndeclaredAccount is returned when an update touches an account it did not declare.
	ErrUndeclaredAccount = errors.New("account was not declared for this update")
	// ErrNilUpdateFn is returned when Update receives a nil callback.
	ErrNilUpdateFn = errors.New("update function is nil")
)

// Reader reads balances.
type Reader interface {
	// Get returns the balance of account, or 0 if it was never written.
	Get(ctx context.Context, account AccountID) (int64, error)
}

// Tx is the view handed to an Update callback.
type Tx interface {
	Reader
	// Set stages value as the new balance of account.
	Set(ctx context.Context, account AccountID, value int64) error
}

// UpdateFunc runs inside an atomic unit.
type UpdateFunc func(ctx context.Context, tx Tx) error

// Store is a balance store backend.
type Store interface {
	Reader
	// Update runs fn with exclusive access to accounts. Writes staged by fn
	// commit together when fn returns nil and are discarded otherwise. fn may
	// run more than once when a backend retries on contention, so it must not
	// have side effects outside tx.
	Update(ctx context.Context, accounts []AccountID, fn UpdateFunc) error
}

// Set overwrites the balance of a single account.
func Set(ctx context.Context, store Store, account AccountID, value int64) error {
	if store == nil {
		return ErrNilStore
	}

	return store.Update(ctx, []AccountID{account}, func(ctx context.Context, tx Tx) error {
		return tx.Set(ctx, account, value)
	})
}

// SeedIfZero sets each account in seeds to its value when the stored balance
// is 0 and returns the accounts it changed, sorted.
func SeedIfZero(ctx context.Context, store Store, seeds map[AccountID]int64) ([]AccountID, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	accounts := make([]AccountID, 0, len(seeds))
	for account := range seeds {
		accounts = append(accounts, account)
	}

	slices.Sort(accounts)

	var applied []AccountID

	err := store.Update(ctx, accounts, func(ctx context.Context, tx Tx) error {
		applied = applied[:0]

		for _, account := range accounts {
			current, err := tx.Get(ctx, account)
			if err != nil {
				return err
			}

			if current != 0 {
				continue
			}

			if err := tx.Set(ctx, account, seeds[account]); err != nil {
				return fmt.Errorf("seed %s: %w", account, err)
			}

			applied = append(applied, account)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return applied, nil
}

// LockOrder returns accounts deduplicated and sorted. Backends acquire
// per-account locks in this order so concurrent updates cannot deadlock.
func LockOrder(accounts []AccountID) ([]AccountID, error) {
	ordered := slices.Clone(accounts)

	for _, account := range ordered {
		if account == "" {
			return nil, ErrEmptyAccount
		}
	}

	slices.Sort(ordered)

	return slices.Compact(ordered), nil
}
