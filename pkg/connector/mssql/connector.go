// Package mssql exposes a SQL Server database as an external catalog.
// Schemas are the catalog's databases.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/config"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/logging"
	"github.com/ekaya-inc/ekaya-federation/pkg/retry"
)

// Connector owns the connection pool of one SQL Server catalog.
type Connector struct {
	name   string
	cfg    *Config
	db     *sql.DB
	logger *zap.Logger
}

// New opens the catalog's pool and verifies connectivity, retrying transient failures.
func New(ctx context.Context, name string, cfg *Config, poolCfg config.ConnectorConfig, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("catalog", name), zap.String("connector", "mssql"))

	driver, dsn := cfg.driverAndDSN()
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %s", driver, logging.SanitizeError(err))
	}
	if poolCfg.PoolMaxConns > 0 {
		db.SetMaxOpenConns(int(poolCfg.PoolMaxConns))
	}
	if poolCfg.PoolMinConns > 0 {
		db.SetMaxIdleConns(int(poolCfg.PoolMinConns))
	}
	if poolCfg.PoolIdleMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(poolCfg.PoolIdleMinutes) * time.Minute)
	}

	err = retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to sql server: %s", logging.SanitizeError(err))
	}

	logger.Info("Opened mssql catalog",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.String("auth_method", cfg.AuthMethod))

	return &Connector{name: name, cfg: cfg, db: db, logger: logger}, nil
}

// Metadata opens a provider session on the shared pool.
func (c *Connector) Metadata(ctx context.Context) (connector.Provider, error) {
	return &Session{conn: c}, nil
}

// Close closes the pool.
func (c *Connector) Close() error {
	return c.db.Close()
}

var _ connector.Connector = (*Connector)(nil)
