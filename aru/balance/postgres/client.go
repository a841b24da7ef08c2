package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	alog "github.com/impulsar/lib-aru/aru/log"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	// ErrEmptyPrimaryDSN is returned when no primary DSN is configured.
	ErrEmptyPrimaryDSN = errors.New("postgres primary DSN cannot be empty")
	// ErrNotConnected is returned when the client is used before Connect.
	ErrNotConnected = errors.New("postgres client is not connected")

	credentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	passwordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
	dbNamePattern      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// Config configures a Client.
type Config struct {
	PrimaryDSN string
	// ReplicaDSN defaults to PrimaryDSN.
	ReplicaDSN   string
	DBName       string
	MaxOpenConns int
	MaxIdleConns int
	Logger       alog.Logger
}

// Client is a connection hub for the primary and replica databases.
type Client struct {
	cfg      Config
	mu       sync.RWMutex
	resolver dbresolver.DB
}

// New validates cfg and returns an unconnected Client.
func New(cfg Config) (*Client, error) {
	if cfg.PrimaryDSN == "" {
		return nil, ErrEmptyPrimaryDSN
	}

	if cfg.ReplicaDSN == "" {
		cfg.ReplicaDSN = cfg.PrimaryDSN
	}

	if cfg.DBName == "" {
		cfg.DBName = "ledger"
	}

	if !dbNamePattern.MatchString(cfg.DBName) {
		return nil, fmt.Errorf("invalid database name: %q", cfg.DBName)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}

	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}

	if cfg.Logger == nil {
		cfg.Logger = alog.NewNop()
	}

	return &Client{cfg: cfg}, nil
}

// Connect opens both pools, migrates the primary and pings through the
// resolver. Calling Connect again replaces the existing pools.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.cfg.Logger

	if c.resolver != nil {
		if err := c.resolver.Close(); err != nil {
			logger.Log(ctx, alog.LevelWarn, "failed to close previous postgres connection", alog.Err(err))
		}

		c.resolver = nil
	}

	logger.Log(ctx, alog.LevelInfo, "connecting to postgres primary and replica")

	primary, err := c.open(c.cfg.PrimaryDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to primary database: %s", sanitize(err))
	}

	replica, err := c.open(c.cfg.ReplicaDSN)
	if err != nil {
		_ = primary.Close()
		return fmt.Errorf("failed to connect to replica database: %s", sanitize(err))
	}

	resolver := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	if err := resolver.PingContext(ctx); err != nil {
		_ = resolver.Close()
		return fmt.Errorf("failed to ping database: %s", sanitize(err))
	}

	if err := c.migrate(primary); err != nil {
		_ = resolver.Close()
		return err
	}

	c.resolver = resolver

	logger.Log(ctx, alog.LevelInfo, "connected to postgres")

	return nil
}

func (c *Client) open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(c.cfg.MaxOpenConns)
	db.SetMaxIdleConns(c.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	return db, nil
}

func (c *Client) migrate(primary *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load postgres migrations: %w", err)
	}

	driver, err := migratepostgres.WithInstance(primary, &migratepostgres.Config{
		DatabaseName: c.cfg.DBName,
		SchemaName:   "public",
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, c.cfg.DBName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			c.cfg.Logger.Log(context.Background(), alog.LevelInfo, "no new postgres migrations")
			return nil
		}

		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("migration failed: dirty database version %d", dirty.Version)
		}

		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Resolver returns the connected resolver.
//
//nolint:ireturn
func (c *Client) Resolver() (dbresolver.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.resolver == nil {
		return nil, ErrNotConnected
	}

	return c.resolver, nil
}

// Primary returns the primary pool. Reads that must observe committed
// updates go here, since the replica may lag.
func (c *Client) Primary() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.resolver == nil {
		return nil, ErrNotConnected
	}

	primaries := c.resolver.PrimaryDBs()
	if len(primaries) == 0 {
		return nil, ErrNotConnected
	}

	return primaries[0], nil
}

// Close releases both pools.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolver == nil {
		return nil
	}

	err := c.resolver.Close()
	c.resolver = nil

	return err
}

// sanitizedError hides credentials in the message but keeps the cause
// reachable for errors.Is and errors.As.
type sanitizedError struct {
	cause error
}

func (e *sanitizedError) Error() string { return sanitize(e.cause) }

func (e *sanitizedError) Unwrap() error { return e.cause }

func sanitizeErr(err error) error {
	if err == nil {
		return nil
	}

	return &sanitizedError{cause: err}
}

func sanitize(err error) string {
	if err == nil {
		return ""
	}

	out := credentialsPattern.ReplaceAllString(err.Error(), "://***@")

	return passwordPattern.ReplaceAllString(out, "${1}***")
}
