package database

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/config"
	"github.com/ekaya-inc/ekaya-federation/pkg/retry"
)

// applicationName tags store connections in pg_stat_activity.
const applicationName = "ekaya-federation"

// DB is the pool shared by the statistics and annotation stores.
type DB struct {
	*pgxpool.Pool
}

// Config holds store pool settings. Zero durations pick the defaults.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ConfigFrom builds a connection config from the store database settings.
func ConfigFrom(cfg *config.DatabaseConfig) *Config {
	return &Config{
		URL:            cfg.ConnectionString(),
		MaxConnections: cfg.MaxConnections,
	}
}

// NewConnection creates a new database connection pool.
// The initial ping is retried so the service can start alongside its database.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store connection string: %w", err)
	}

	// Store traffic is a handful of reads per planned query.
	poolConfig.MaxConns = cmp.Or(cfg.MaxConnections, 10)
	poolConfig.MaxConnLifetime = cmp.Or(cfg.MaxConnLifetime, time.Hour)
	poolConfig.MaxConnIdleTime = cmp.Or(cfg.MaxConnIdleTime, 10*time.Minute)
	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create store pool: %w", err)
	}

	err = retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("Store database not reachable yet", zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach store database: %w", err)
	}

	logger.Debug("Store pool ready",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Duration("max_conn_idle_time", poolConfig.MaxConnIdleTime))
	return &DB{Pool: pool}, nil
}

// Close closes the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
