package transfer

import (
	"context"

	"github.com/impulsar/lib-aru/aru/balance"
)

// ledger wraps a balance.Tx and remembers the first value read and the last
// value written for every account, so an operation can check its own deltas
// before commit.
type ledger struct {
	tx     balance.Tx
	before map[balance.AccountID]int64
	after  map[balance.AccountID]int64
	order  []balance.AccountID
}

func newLedger(tx balance.Tx) *ledger {
	return &ledger{
		tx:     tx,
		before: make(map[balance.AccountID]int64),
		after:  make(map[balance.AccountID]int64),
	}
}

func (l *ledger) Get(ctx context.Context, account balance.AccountID) (int64, error) {
	value, err := l.tx.Get(ctx, account)
	if err != nil {
		return 0, err
	}

	if _, seen := l.before[account]; !seen {
		l.before[account] = value
	}

	return value, nil
}

func (l *ledger) Set(ctx context.Context, account balance.AccountID, value int64) error {
	if _, seen := l.before[account]; !seen {
		if _, err := l.Get(ctx, account); err != nil {
			return err
		}
	}

	if err := l.tx.Set(ctx, account, value); err != nil {
		return err
	}

	if _, written := l.after[account]; !written {
		l.order = append(l.order, account)
	}

	l.after[account] = value

	return nil
}
