package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paraglidehq/snowflake/internal/config"
	"github.com/paraglidehq/snowflake/registry"
	"github.com/paraglidehq/snowflake/registry/memstore"
	"github.com/paraglidehq/snowflake/registry/redisstore"
	"github.com/paraglidehq/snowflake/registry/sqlstore"
)

var errNoRegistry = errors.New("no registry configured; set --registry")

// openStore returns the configured registry and a func closing its
// connection.
func openStore(ctx context.Context, cfg config.Registry, logger *zap.Logger) (registry.Store, func() error, error) {
	logger = logger.With(zap.String("registry", cfg.Kind))
	switch cfg.Kind {
	case config.RegistryMemory:
		s := memstore.New(
			memstore.WithMaxWorkerID(cfg.MaxWorkerID),
			memstore.WithStaleAfter(cfg.StaleAfter),
		)
		return s, func() error { return nil }, nil

	case config.RegistryPostgres, config.RegistryMySQL:
		s, db, err := openSQLStore(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, db.Close, nil

	case config.RegistryRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		s := redisstore.New(rdb,
			redisstore.WithPrefix(cfg.Prefix),
			redisstore.WithTTL(cfg.TTL),
			redisstore.WithMaxWorkerID(cfg.MaxWorkerID),
			redisstore.WithLogger(logger),
		)
		return s, rdb.Close, nil

	default:
		return nil, nil, errNoRegistry
	}
}

func openSQLStore(ctx context.Context, cfg config.Registry, logger *zap.Logger) (*sqlstore.Store, *sql.DB, error) {
	dialect, ok := sqlstore.DialectFor(cfg.Kind)
	if !ok {
		return nil, nil, fmt.Errorf("registry %q is not a SQL registry", cfg.Kind)
	}
	db, err := sql.Open(cfg.Kind, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Kind, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect %s: %w", cfg.Kind, err)
	}
	s := sqlstore.New(db, dialect,
		sqlstore.WithMaxWorkerID(cfg.MaxWorkerID),
		sqlstore.WithStaleAfter(cfg.StaleAfter),
		sqlstore.WithLogger(logger),
	)
	return s, db, nil
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
