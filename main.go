package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/annotations"
	"github.com/ekaya-inc/ekaya-federation/pkg/config"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	_ "github.com/ekaya-inc/ekaya-federation/pkg/connector/memory"   // Register memory connector
	_ "github.com/ekaya-inc/ekaya-federation/pkg/connector/mssql"    // Register mssql connector (build tag mssql)
	_ "github.com/ekaya-inc/ekaya-federation/pkg/connector/postgres" // Register postgres connector (build tag postgres)
	"github.com/ekaya-inc/ekaya-federation/pkg/database"
	"github.com/ekaya-inc/ekaya-federation/pkg/federation"
	"github.com/ekaya-inc/ekaya-federation/pkg/logging"
	"github.com/ekaya-inc/ekaya-federation/pkg/metastore"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
	"github.com/ekaya-inc/ekaya-federation/pkg/sink"
	"github.com/ekaya-inc/ekaya-federation/pkg/statistics"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = run(ctx, cfg, logger)
	stop()
	_ = logger.Sync()
	if err != nil {
		log.Fatalf("Federation failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Int("catalogs", len(cfg.Catalogs)),
		zap.Bool("store_database", cfg.Database.Enabled()),
		zap.Duration("query_scope_idle_timeout", cfg.Federation.IdleTimeout()))

	stats, notes, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	registry := connector.NewRegistry(cfg.Connector, logger)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("Failed to close catalogs", zap.Error(err))
		}
	}()
	for _, cat := range cfg.Catalogs {
		if err := registry.Add(ctx, cat); err != nil {
			return err
		}
	}

	types := connector.RegisteredTypes()
	available := make([]string, 0, len(types))
	for _, t := range types {
		available = append(available, t.Type)
	}
	logger.Info("Registered catalogs",
		zap.Strings("catalogs", registry.Names()),
		zap.Strings("connector_types", available))

	local := metastore.NewLocalMetastore(logger)
	cache := federation.NewQueryScopedCache(federation.QueryCacheConfigFrom(cfg.Federation), logger)
	defer cache.Close()

	mgr, err := federation.NewManager(federation.Deps{
		Internal:    local,
		Catalogs:    registry,
		Cache:       cache,
		Statistics:  stats,
		Annotations: notes,
		Directory:   local,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	return describe(ctx, mgr, registry.Names(), os.Stdout)
}

// openStores opens the statistics and annotation stores. Without a store
// database both are kept in memory.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (statistics.Store, annotations.Store, func(), error) {
	if !cfg.Database.Enabled() {
		logger.Info("No store database configured, keeping statistics and annotations in memory")
		return statistics.NewMemoryStore(), annotations.NewMemoryStore(), func() {}, nil
	}

	connStr := cfg.Database.ConnectionString()
	sqlDB, err := database.OpenSQL(connStr)
	if err != nil {
		return nil, nil, nil, err
	}
	err = database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
	_ = sqlDB.Close()
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database), logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to store database: %s", logging.SanitizeError(err))
	}
	logger.Info("Connected to store database",
		zap.String("connection", logging.SanitizeConnectionString(connStr)))

	return statistics.NewPostgresStore(db), annotations.NewPostgresStore(db), db.Close, nil
}

// describe prints every database and table of the internal catalog and the
// given catalogs, reading all of them inside one query scope.
func describe(ctx context.Context, mgr *federation.Manager, catalogs []string, w io.Writer) error {
	q := models.NewQueryID()
	defer mgr.EndQuery(q)

	for _, catalog := range append([]string{models.InternalCatalog}, catalogs...) {
		dbs, err := mgr.ListDatabaseNames(ctx, q, catalog)
		if err != nil {
			return fmt.Errorf("list databases of %s: %w", catalog, err)
		}
		fmt.Fprintln(w, catalog)

		for _, db := range dbs {
			tables, err := mgr.ListTableNames(ctx, q, catalog, db)
			if err != nil {
				return fmt.Errorf("list tables of %s.%s: %w", catalog, db, err)
			}
			fmt.Fprintf(w, "  %s\n", db)

			for _, name := range tables {
				t, err := mgr.GetTable(ctx, q, catalog, db, name)
				if err != nil {
					return fmt.Errorf("get table %s.%s.%s: %w", catalog, db, name, err)
				}
				if t == nil {
					continue
				}
				fmt.Fprintf(w, "    %s (%s, %d columns, pipeline sink: %t)\n",
					name, t.Kind, len(t.Columns), sink.CanTableSinkUsePipeline(t))
			}
		}
	}
	return nil
}
