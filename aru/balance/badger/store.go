package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/impulsar/lib-aru/aru/backoff"
	"github.com/impulsar/lib-aru/aru/balance"
	alog "github.com/impulsar/lib-aru/aru/log"
)

const keyPrefix = "balance/"

// ErrCorruptValue is returned when a stored value is not 8 bytes long.
var ErrCorruptValue = errors.New("stored balance has an invalid encoding")

// DefaultRetryPolicy retries transactions that lost a Badger conflict check.
var DefaultRetryPolicy = backoff.Policy{
	Attempts: 50,
	Base:     500 * time.Microsecond,
	Max:      50 * time.Millisecond,
	Retryable: func(err error) bool {
		return errors.Is(err, badger.ErrConflict)
	},
}

// Store implements balance.Store on a Badger database.
type Store struct {
	db     *badger.DB
	retry  backoff.Policy
	logger alog.Logger
}

var _ balance.Store = (*Store)(nil)

// Options configures Open.
type Options struct {
	// Path is the data directory. Empty means an in-memory database.
	Path   string
	Logger alog.Logger
	Retry  *backoff.Policy
}

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = alog.NewNop()
	}

	badgerOpts := badger.DefaultOptions(opts.Path).WithLogger(&badgerLogger{logger: logger})
	if opts.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	retry := DefaultRetryPolicy
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	logger.Log(context.Background(), alog.LevelInfo, "badger balance store opened",
		alog.String("path", opts.Path), alog.Bool("in_memory", opts.Path == ""))

	return &Store{db: db, retry: retry, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the balance of account, or 0.
func (s *Store) Get(ctx context.Context, account balance.AccountID) (int64, error) {
	if account == "" {
		return 0, balance.ErrEmptyAccount
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var value int64

	err := s.db.View(func(txn *badger.Txn) error {
		var err error

		value, err = read(txn, account)

		return err
	})
	if err != nil {
		return 0, fmt.Errorf("badger get %s: %w", account, err)
	}

	return value, nil
}

// Update runs fn inside a Badger read-write transaction. Conflicting
// transactions are retried according to the store's retry policy.
func (s *Store) Update(ctx context.Context, accounts []balance.AccountID, fn balance.UpdateFunc) error {
	if fn == nil {
		return balance.ErrNilUpdateFn
	}

	declared, err := balance.LockOrder(accounts)
	if err != nil {
		return err
	}

	attempt := 0

	return backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		attempt++

		if attempt > 1 {
			s.logger.Log(ctx, alog.LevelDebug, "retrying badger update after conflict", alog.Int("attempt", attempt))
		}

		return s.db.Update(func(txn *badger.Txn) error {
			staged := balance.NewStaged(txnReader{txn: txn}, declared)

			if err := fn(ctx, staged); err != nil {
				return err
			}

			for _, w := range staged.Writes() {
				if err := txn.Set(key(w.Account), encode(w.Value)); err != nil {
					return fmt.Errorf("badger set %s: %w", w.Account, err)
				}
			}

			return nil
		})
	})
}

type txnReader struct{ txn *badger.Txn }

func (r txnReader) Get(ctx context.Context, account balance.AccountID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return read(r.txn, account)
}

func read(txn *badger.Txn, account balance.AccountID) (int64, error) {
	item, err := txn.Get(key(account))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}

	return decode(raw)
}

func key(account balance.AccountID) []byte {
	return []byte(keyPrefix + string(account))
}

func encode(value int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(value))

	return buf
}

func decode(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrCorruptValue, len(raw))
	}

	return int64(binary.BigEndian.Uint64(raw)), nil
}
