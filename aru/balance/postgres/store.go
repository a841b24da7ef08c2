package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/impulsar/lib-aru/aru/balance"
	alog "github.com/impulsar/lib-aru/aru/log"
)

const (
	lockAccount   = `SELECT pg_advisory_xact_lock(hashtext($1))`
	selectBalance = `SELECT amount FROM balances WHERE account = $1`
	upsertBalance = `INSERT INTO balances (account, amount, updated_at) VALUES ($1, $2, now())
ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at`
)

// ErrNilClient is returned when NewStore receives a nil client.
var ErrNilClient = errors.New("postgres client is nil")

// Store implements balance.Store on PostgreSQL.
type Store struct {
	client *Client
}

var _ balance.Store = (*Store)(nil)

// NewStore returns a Store over a connected client.
func NewStore(client *Client) (*Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	return &Store{client: client}, nil
}

// Get returns the balance of account, or 0. It reads from the primary so a
// balance is visible as soon as the Update that wrote it returns.
func (s *Store) Get(ctx context.Context, account balance.AccountID) (int64, error) {
	if account == "" {
		return 0, balance.ErrEmptyAccount
	}

	db, err := s.client.Primary()
	if err != nil {
		return 0, err
	}

	value, err := queryBalance(ctx, db, account)
	if err != nil {
		return 0, fmt.Errorf("postgres get %s: %w", account, sanitizeErr(err))
	}

	return value, nil
}

// Update runs fn in a primary transaction holding an advisory lock per
// declared account.
func (s *Store) Update(ctx context.Context, accounts []balance.AccountID, fn balance.UpdateFunc) (err error) {
	if fn == nil {
		return balance.ErrNilUpdateFn
	}

	declared, err := balance.LockOrder(accounts)
	if err != nil {
		return err
	}

	db, err := s.client.Resolver()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.client.cfg.Logger.Log(ctx, alog.LevelWarn, "postgres rollback failed", alog.Err(rbErr))
			}
		}
	}()

	for _, account := range declared {
		if _, err = tx.ExecContext(ctx, lockAccount, string(account)); err != nil {
			return fmt.Errorf("postgres lock %s: %w", account, err)
		}
	}

	staged := balance.NewStaged(txReader{tx: tx}, declared)
	if err = fn(ctx, staged); err != nil {
		return err
	}

	for _, w := range staged.Writes() {
		if _, err = tx.ExecContext(ctx, upsertBalance, string(w.Account), w.Value); err != nil {
			return fmt.Errorf("postgres upsert %s: %w", w.Account, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txReader struct{ tx dbresolver.Tx }

func (r txReader) Get(ctx context.Context, account balance.AccountID) (int64, error) {
	return queryBalance(ctx, r.tx, account)
}

func queryBalance(ctx context.Context, q queryer, account balance.AccountID) (int64, error) {
	var value int64

	err := q.QueryRowContext(ctx, selectBalance, string(account)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	return value, nil
}
