package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoAddress is returned when ClientConfig has no address.
var ErrNoAddress = errors.New("redis address cannot be empty")

// ClientConfig configures Connect.
type ClientConfig struct {
	Addresses   []string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// String keeps the password out of logs.
func (c ClientConfig) String() string {
	return fmt.Sprintf("ClientConfig{Addresses:%v DB:%d Password:REDACTED}", c.Addresses, c.DB)
}

// Connect builds a universal client (standalone or cluster, depending on the
// number of addresses) and pings it.
//
//nolint:ireturn
func Connect(ctx context.Context, cfg ClientConfig) (redis.UniversalClient, error) {
	if len(cfg.Addresses) == 0 || cfg.Addresses[0] == "" {
		return nil, ErrNoAddress
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Addresses,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}
