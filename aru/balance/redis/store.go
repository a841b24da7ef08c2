package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/impulsar/lib-aru/aru"
	"github.com/impulsar/lib-aru/aru/backoff"
	"github.com/impulsar/lib-aru/aru/balance"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNilClient is returned when NewStore receives a nil client.
	ErrNilClient = errors.New("redis client is nil")
	// ErrLockOptionsInvalid is returned for non-positive lock settings.
	ErrLockOptionsInvalid = errors.New("lock expiry and tries must be positive")
	// ErrPrefixNotHashTagged is returned for a cluster client whose key
	// prefix would spread one update's keys across slots.
	ErrPrefixNotHashTagged = errors.New("redis cluster key prefix must contain a {hash tag}")
)

// DefaultKeyPrefix hash-tags every key into one cluster slot so a
// multi-account update can WATCH all of its balances.
const DefaultKeyPrefix = "{aru}:"

// LockOptions tunes the per-account distributed locks.
type LockOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultLockOptions suits short ledger updates under moderate contention.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     10 * time.Second,
		Tries:      64,
		RetryDelay: 25 * time.Millisecond,
	}
}

// StoreConfig configures NewStore.
type StoreConfig struct {
	// KeyPrefix namespaces balance and lock keys. Defaults to
	// DefaultKeyPrefix. Cluster clients require a {hash tag} in it.
	KeyPrefix string
	Lock      LockOptions
	Logger    alog.Logger
}

// Store implements balance.Store on Redis.
type Store struct {
	client  redis.UniversalClient
	redsync *redsync.Redsync
	prefix  string
	lock    LockOptions
	logger  alog.Logger
	retry   backoff.Policy
}

var _ balance.Store = (*Store)(nil)

// NewStore returns a Store over client.
func NewStore(client redis.UniversalClient, cfg StoreConfig) (*Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	if _, cluster := client.(*redis.ClusterClient); cluster && !hasHashTag(cfg.KeyPrefix) {
		return nil, fmt.Errorf("%w: %q", ErrPrefixNotHashTagged, cfg.KeyPrefix)
	}

	if cfg.Lock == (LockOptions{}) {
		cfg.Lock = DefaultLockOptions()
	}

	if cfg.Lock.Expiry <= 0 || cfg.Lock.Tries < 1 || cfg.Lock.RetryDelay < 0 {
		return nil, ErrLockOptionsInvalid
	}

	if cfg.Logger == nil {
		cfg.Logger = alog.NewNop()
	}

	return &Store{
		client:  client,
		redsync: redsync.New(goredis.NewPool(client)),
		prefix:  cfg.KeyPrefix,
		lock:    cfg.Lock,
		logger:  cfg.Logger,
		retry: backoff.Policy{
			Attempts: 5,
			Base:     5 * time.Millisecond,
			Max:      100 * time.Millisecond,
			Retryable: func(err error) bool {
				return errors.Is(err, redis.TxFailedErr)
			},
		},
	}, nil
}

// hasHashTag reports whether prefix pins every key built on it to the slot
// of a non-empty {tag}, which Redis takes from the first brace pair.
func hasHashTag(prefix string) bool {
	open := strings.IndexByte(prefix, '{')
	if open < 0 {
		return false
	}

	return strings.IndexByte(prefix[open+1:], '}') > 0
}

func (s *Store) balanceKey(account balance.AccountID) string {
	return s.prefix + "balance:" + string(account)
}

func (s *Store) lockKey(account balance.AccountID) string {
	return s.prefix + "lock:" + string(account)
}

// Get returns the balance of account, or 0.
func (s *Store) Get(ctx context.Context, account balance.AccountID) (int64, error) {
	if account == "" {
		return 0, balance.ErrEmptyAccount
	}

	value, err := parse(s.client.Get(ctx, s.balanceKey(account)))
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", account, err)
	}

	return value, nil
}

// Update locks every declared account, then runs fn and commits its writes
// in one MULTI/EXEC guarded by WATCH on the balance keys.
func (s *Store) Update(ctx context.Context, accounts []balance.AccountID, fn balance.UpdateFunc) error {
	if fn == nil {
		return balance.ErrNilUpdateFn
	}

	declared, err := balance.LockOrder(accounts)
	if err != nil {
		return err
	}

	_, tracer, _, _ := aru.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.balance.update")
	defer span.End()

	unlock, err := s.acquire(ctx, declared)
	if err != nil {
		return err
	}
	defer unlock()

	keys := make([]string, 0, len(declared))
	for _, account := range declared {
		keys = append(keys, s.balanceKey(account))
	}

	return backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			staged := balance.NewStaged(txReader{store: s, tx: tx}, declared)

			if err := fn(ctx, staged); err != nil {
				return err
			}

			writes := staged.Writes()
			if len(writes) == 0 {
				return nil
			}

			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range writes {
					pipe.Set(ctx, s.balanceKey(w.Account), strconv.FormatInt(w.Value, 10), 0)
				}

				return nil
			})

			return err
		}, keys...)
	})
}

func (s *Store) acquire(ctx context.Context, declared []balance.AccountID) (func(), error) {
	held := make([]*redsync.Mutex, 0, len(declared))

	release := func() {
		for _, mutex := range slices.Backward(held) {
			if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
				s.logger.Log(ctx, alog.LevelWarn, "failed to release balance lock",
					alog.String("lock_key", mutex.Name()), alog.Bool("unlock_ok", ok), alog.Err(err))
			}
		}
	}

	for _, account := range declared {
		mutex := s.redsync.NewMutex(
			s.lockKey(account),
			redsync.WithExpiry(s.lock.Expiry),
			redsync.WithTries(s.lock.Tries),
			redsync.WithRetryDelay(s.lock.RetryDelay),
		)

		if err := mutex.LockContext(ctx); err != nil {
			release()
			return nil, fmt.Errorf("failed to acquire lock for %s: %w", account, err)
		}

		held = append(held, mutex)
	}

	return release, nil
}

type txReader struct {
	store *Store
	tx    *redis.Tx
}

func (r txReader) Get(ctx context.Context, account balance.AccountID) (int64, error) {
	return parse(r.tx.Get(ctx, r.store.balanceKey(account)))
}

func parse(cmd *redis.StringCmd) (int64, error) {
	value, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	return value, err
}
