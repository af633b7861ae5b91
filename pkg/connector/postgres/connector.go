// Package postgres exposes a PostgreSQL database as an external catalog.
// Schemas are the catalog's databases.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/config"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/logging"
	"github.com/ekaya-inc/ekaya-federation/pkg/retry"
)

// Connector owns the connection pool of one PostgreSQL catalog.
type Connector struct {
	name   string
	cfg    *Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New opens the catalog's pool. Transient connection failures are retried.
func New(ctx context.Context, name string, cfg *Config, poolCfg config.ConnectorConfig, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("catalog", name), zap.String("connector", "postgres"))

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %s", logging.SanitizeError(err))
	}
	if poolCfg.PoolMaxConns > 0 {
		poolConfig.MaxConns = poolCfg.PoolMaxConns
	}
	if poolCfg.PoolMinConns > 0 {
		poolConfig.MinConns = poolCfg.PoolMinConns
	}
	if poolCfg.PoolIdleMinutes > 0 {
		poolConfig.MaxConnIdleTime = time.Duration(poolCfg.PoolIdleMinutes) * time.Minute
	}

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			logger.Warn("Postgres catalog not reachable", zap.String("error", logging.SanitizeError(err)))
			return nil, err
		}
		return pool, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %s", logging.SanitizeError(err))
	}

	logger.Info("Opened postgres catalog",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &Connector{name: name, cfg: cfg, pool: pool, logger: logger}, nil
}

// Metadata opens a provider session on the shared pool.
func (c *Connector) Metadata(ctx context.Context) (connector.Provider, error) {
	return newSession(c), nil
}

// Close closes the pool.
func (c *Connector) Close() error {
	c.pool.Close()
	return nil
}

var _ connector.Connector = (*Connector)(nil)
