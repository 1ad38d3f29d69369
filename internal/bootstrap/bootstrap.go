// Package bootstrap wires internal/config.Config into concrete store,
// queue, and crypto instances, selecting the SQLite or PostgreSQL
// backend the same way the teacher's internal/storage/factory.go
// selects a deployment profile, generalized here to Driver instead of
// Profile.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/crypto"
	"github.com/ipiton/message-broker/internal/database/postgres"
	"github.com/ipiton/message-broker/internal/identity"
	identitymemory "github.com/ipiton/message-broker/internal/identity/memory"
	identitypostgres "github.com/ipiton/message-broker/internal/identity/postgres"
	identitysqlite "github.com/ipiton/message-broker/internal/identity/sqlite"
	"github.com/ipiton/message-broker/internal/queue"
	queuememory "github.com/ipiton/message-broker/internal/queue/memory"
	queueredis "github.com/ipiton/message-broker/internal/queue/redis"
	"github.com/ipiton/message-broker/internal/registry"
	registrymemory "github.com/ipiton/message-broker/internal/registry/memory"
	registrypostgres "github.com/ipiton/message-broker/internal/registry/postgres"
	registrysqlite "github.com/ipiton/message-broker/internal/registry/sqlite"
)

// Stores holds every storage backend a broker process might need. A
// given binary only uses the fields relevant to it; the rest are nil.
type Stores struct {
	Identity identity.Store
	Registry registry.Store

	// Pool is non-nil only when Driver is "postgres"; cmd binaries use
	// it to run Close/health-check on shutdown. Nil under sqlite.
	Pool *postgres.PostgresPool
}

// Close releases whatever backend-specific resources were opened.
func (s *Stores) Close() error {
	if s.Pool != nil {
		return s.Pool.Close()
	}
	return nil
}

// NewStores builds the identity and registry stores for cfg.Database,
// opening a PostgreSQL pool or a SQLite file depending on
// cfg.Database.IsSQLite(). Grounded on the teacher's profile-switch
// NewStorage (internal/storage/factory.go): Lite -> SQLite, Standard ->
// PostgreSQL, generalized here from a profile flag to the driver field.
func NewStores(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Stores, error) {
	if cfg.IsSQLite() {
		return newSQLiteStores(cfg, logger)
	}
	return newPostgresStores(ctx, cfg, logger)
}

func newSQLiteStores(cfg config.DatabaseConfig, logger *slog.Logger) (*Stores, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("bootstrap: sqlite_path is required when database.driver is sqlite")
	}

	idStore, err := identitysqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open identity sqlite store: %w", err)
	}

	regStore, err := registrysqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open registry sqlite store: %w", err)
	}

	logger.Info("storage backend initialized", "driver", "sqlite", "path", cfg.SQLitePath)

	return &Stores{Identity: idStore, Registry: regStore}, nil
}

func newPostgresStores(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Stores, error) {
	pgCfg := &postgres.PostgresConfig{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Database:          cfg.Database,
		User:              cfg.Username,
		Password:          cfg.Password,
		SSLMode:           cfg.SSLMode,
		MaxConns:          int32(cfg.MaxConnections),
		MinConns:          int32(cfg.MinConnections),
		MaxConnLifetime:   cfg.MaxConnLifetime,
		MaxConnIdleTime:   cfg.MaxConnIdleTime,
		HealthCheckPeriod: defaultHealthCheckPeriod,
		ConnectTimeout:    cfg.ConnectTimeout,
	}

	pool := postgres.NewPostgresPool(pgCfg, logger)
	if err := pool.Connect(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres pool: %w", err)
	}

	idStore := identitypostgres.New(pool.Pool())
	regStore := registrypostgres.New(pool.Pool())

	logger.Info("storage backend initialized",
		"driver", "postgres",
		"host", cfg.Host,
		"database", cfg.Database)

	return &Stores{Identity: idStore, Registry: regStore, Pool: pool}, nil
}

// defaultHealthCheckPeriod is used for every postgres pool built by
// bootstrap; cfg.Database has no knob for it, the broker processes all
// share one sensible interval.
const defaultHealthCheckPeriod = 30 * time.Second

// NewMemoryStores builds in-memory stores, for local development and
// tests that want neither sqlite nor postgres.
func NewMemoryStores() *Stores {
	return &Stores{Identity: identitymemory.New(), Registry: registrymemory.New()}
}

// NewCryptoManager loads key material from cfg.KeyDir into a ready
// crypto.Manager.
func NewCryptoManager(cfg config.CryptoConfig) (*crypto.Manager, error) {
	m := crypto.NewManager(cfg.HashSalt)
	if cfg.KeyDir == "" {
		return nil, fmt.Errorf("bootstrap: crypto.key_dir is required")
	}
	if err := m.LoadKeyDir(cfg.KeyDir); err != nil {
		return nil, fmt.Errorf("bootstrap: load key directory %q: %w", cfg.KeyDir, err)
	}
	return m, nil
}

// NewQueue builds the durable work queue: a real Redis-backed queue
// when cfg.Redis.Addr is set, otherwise an in-process memory queue for
// local/dev runs.
func NewQueue(cfg config.Config, logger *slog.Logger) (queue.Queue, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("redis.addr is empty, using in-memory queue (not durable across restarts)")
		return queuememory.New(), nil
	}

	q, err := queueredis.New(cfg.Redis, cfg.Queue, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect redis queue: %w", err)
	}
	return q, nil
}

// NewRedisClient builds a bare *redis.Client from cfg, for callers
// (e.g. the gateway's rate limiter) that need direct Redis access
// alongside the queue.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})
}
