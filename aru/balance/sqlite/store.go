package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/impulsar/lib-aru/aru/balance"
	alog "github.com/impulsar/lib-aru/aru/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	selectBalance = `SELECT amount FROM balances WHERE account = ?`
	upsertBalance = `INSERT INTO balances (account, amount, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (account) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`
)

// ErrEmptyPath is returned when Open receives no database path.
var ErrEmptyPath = errors.New("sqlite path cannot be empty")

// Store implements balance.Store on SQLite.
type Store struct {
	db     *sql.DB
	logger alog.Logger
}

var _ balance.Store = (*Store)(nil)

// Open opens the database file at path, applies pending migrations and
// returns a Store. SQLite admits a single writer, so the pool is capped at one
// connection and updates are serialized on it.
func Open(ctx context.Context, path string, logger alog.Logger) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	if logger == nil {
		logger = alog.NewNop()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrateUp(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Log(ctx, alog.LevelInfo, "sqlite balance store opened", alog.String("path", path))

	return &Store{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB, logger alog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load sqlite migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create sqlite migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Log(context.Background(), alog.LevelDebug, "no new sqlite migrations")
			return nil
		}

		return fmt.Errorf("sqlite migration failed: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the balance of account, or 0.
func (s *Store) Get(ctx context.Context, account balance.AccountID) (int64, error) {
	if account == "" {
		return 0, balance.ErrEmptyAccount
	}

	value, err := queryBalance(ctx, s.db, account)
	if err != nil {
		return 0, fmt.Errorf("sqlite get %s: %w", account, err)
	}

	return value, nil
}

// Update runs fn in one SQLite transaction.
func (s *Store) Update(ctx context.Context, accounts []balance.AccountID, fn balance.UpdateFunc) (err error) {
	if fn == nil {
		return balance.ErrNilUpdateFn
	}

	declared, err := balance.LockOrder(accounts)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Log(ctx, alog.LevelWarn, "sqlite rollback failed", alog.Err(rbErr))
			}
		}
	}()

	staged := balance.NewStaged(txReader{tx: tx}, declared)
	if err = fn(ctx, staged); err != nil {
		return err
	}

	for _, w := range staged.Writes() {
		if _, err = tx.ExecContext(ctx, upsertBalance, string(w.Account), w.Value); err != nil {
			return fmt.Errorf("sqlite upsert %s: %w", w.Account, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txReader struct{ tx *sql.Tx }

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
