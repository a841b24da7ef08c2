package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/impulsar/lib-aru/aru"
	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/impulsar/lib-aru/aru/balance/badger"
	"github.com/impulsar/lib-aru/aru/balance/postgres"
	"github.com/impulsar/lib-aru/aru/balance/redis"
	"github.com/impulsar/lib-aru/aru/balance/sqlite"
	alog "github.com/impulsar/lib-aru/aru/log"
	ahttp "github.com/impulsar/lib-aru/aru/net/http"
	"github.com/impulsar/lib-aru/aru/server"
)

type openedStore struct {
	balance.Store
	checks []ahttp.HealthCheck
	close  func() error
}

// openStore opens the backend named by cfg.BalanceBackend and registers its
// release with manager.
func openStore(ctx context.Context, cfg aru.Config, logger alog.Logger, manager *server.ServerManager) (openedStore, error) {
	opened, err := dialStore(ctx, cfg, logger)
	if err != nil {
		return openedStore{}, fmt.Errorf("open %s balance store: %w", cfg.BalanceBackend, err)
	}

	if opened.close == nil {
		opened.close = func() error { return nil }
	}

	manager.WithCloser(cfg.BalanceBackend+" balance store", opened.close)

	return opened, nil
}

func dialStore(ctx context.Context, cfg aru.Config, logger alog.Logger) (openedStore, error) {
	switch cfg.BalanceBackend {
	case aru.BackendBadger:
		store, err := badger.Open(badger.Options{Path: cfg.BadgerPath, Logger: logger})
		if err != nil {
			return openedStore{}, err
		}

		return openedStore{Store: store, close: store.Close}, nil

	case aru.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return openedStore{}, err
		}

		return openedStore{Store: store, close: store.Close}, nil

	case aru.BackendPostgres:
		client, err := postgres.New(postgres.Config{
			PrimaryDSN: cfg.PostgresPrimaryDSN,
			ReplicaDSN: cfg.PostgresReplicaDSN,
			DBName:     cfg.PostgresDBName,
			Logger:     logger,
		})
		if err != nil {
			return openedStore{}, err
		}

		if err := client.Connect(ctx); err != nil {
			return openedStore{}, err
		}

		store, err := postgres.NewStore(client)
		if err != nil {
			return openedStore{}, errors.Join(err, client.Close())
		}

		check := ahttp.HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
			db, err := client.Resolver()
			if err != nil {
				return err
			}

			return db.PingContext(ctx)
		}}

		return openedStore{Store: store, close: client.Close, checks: []ahttp.HealthCheck{check}}, nil

	case aru.BackendRedis:
		client, err := redis.Connect(ctx, redis.ClientConfig{
			Addresses: []string{cfg.RedisAddress},
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
		})
		if err != nil {
			return openedStore{}, err
		}

		store, err := redis.NewStore(client, redis.StoreConfig{Logger: logger})
		if err != nil {
			return openedStore{}, errors.Join(err, client.Close())
		}

		check := ahttp.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}}

		return openedStore{Store: store, close: client.Close, checks: []ahttp.HealthCheck{check}}, nil

	default:
		return openedStore{Store: balance.NewMemoryStore()}, nil
	}
}
