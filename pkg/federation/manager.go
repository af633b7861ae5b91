// Package federation routes metadata requests to the internal metastore or
// to external catalog connectors, scoping connector sessions to the query
// that opened them.
package federation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/annotations"
	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/logging"
	"github.com/ekaya-inc/ekaya-federation/pkg/metastore"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
	"github.com/ekaya-inc/ekaya-federation/pkg/statistics"
)

// CatalogLookup finds registered external catalogs.
type CatalogLookup interface {
	Lookup(name string) (*connector.CatalogConnector, bool)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	// Internal serves the internal catalog. Required.
	Internal connector.Provider
	// Catalogs resolves external catalogs. Required.
	Catalogs CatalogLookup
	// Cache holds query-scoped sessions. Required.
	Cache *QueryScopedCache

	Statistics  statistics.Store
	Annotations annotations.Store
	Directory   metastore.Directory
	Logger      *zap.Logger
}

// Manager is the single entry point for catalog metadata. It is safe for
// concurrent use and holds no global lock.
type Manager struct {
	internal    connector.Provider
	catalogs    CatalogLookup
	cache       *QueryScopedCache
	stats       statistics.Store
	annotations annotations.Store
	views       *ViewInvalidator
	logger      *zap.Logger
}

// NewManager creates a Manager.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Internal == nil {
		return nil, errors.New("internal metastore is required")
	}
	if deps.Catalogs == nil {
		return nil, errors.New("catalog registry is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("query cache is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		internal:    deps.Internal,
		catalogs:    deps.Catalogs,
		cache:       deps.Cache,
		stats:       deps.Statistics,
		annotations: deps.Annotations,
		views:       NewViewInvalidator(deps.Directory, logger.Named("views")),
		logger:      logger.Named("federation"),
	}, nil
}

// ResolveProvider returns the provider serving catalog for query q.
//
// The internal catalog (or an empty name) always yields the shared internal
// metastore. An unregistered catalog yields ok == false and no error. Inside
// a query, every call for the same catalog yields the same session until the
// query ends or its scope is evicted. Outside a query (q == models.NoQuery)
// a fresh session is returned and the caller must Release it.
func (m *Manager) ResolveProvider(ctx context.Context, q models.QueryID, catalog string) (connector.Provider, bool, error) {
	if models.IsInternalCatalog(catalog) {
		return m.internal, true, nil
	}

	cc, ok := m.catalogs.Lookup(catalog)
	if !ok {
		m.logger.Error("Failed to get catalog", zap.String("catalog", catalog))
		return nil, false, nil
	}

	if !q.InQuery() {
		p, err := cc.Connector.Metadata(ctx)
		if err != nil {
			return nil, false, m.sessionError(catalog, q, err)
		}
		return p, true, nil
	}

	p, err := m.cache.Acquire(q, cc.Name, func() (connector.Provider, error) {
		p, err := cc.Connector.Metadata(ctx)
		if err != nil {
			return nil, err
		}
		m.logger.Info("Registered query-level connector metadata",
			zap.String("catalog", cc.Name),
			zap.String("query_id", q.String()))
		return p, nil
	})
	if err != nil {
		return nil, false, m.sessionError(catalog, q, err)
	}
	return p, true, nil
}

func (m *Manager) sessionError(catalog string, q models.QueryID, err error) error {
	m.logger.Error("Failed to open metadata session",
		zap.String("catalog", catalog),
		zap.String("query_id", q.String()),
		zap.String("error", logging.SanitizeError(err)))
	return fmt.Errorf("open metadata session for catalog %s: %w", catalog, err)
}

// provider resolves like ResolveProvider and also returns the function that
// gives back an out-of-query session. It is a no-op for cached and internal
// providers.
func (m *Manager) provider(ctx context.Context, q models.QueryID, catalog string) (connector.Provider, func(), bool, error) {
	p, ok, err := m.ResolveProvider(ctx, q, catalog)
	if err != nil || !ok {
		return nil, func() {}, ok, err
	}
	if q.InQuery() || models.IsInternalCatalog(catalog) {
		return p, func() {}, true, nil
	}
	return p, p.Release, true, nil
}

// EndQuery releases every session opened for q. Calling it more than once,
// or for a query that never touched an external catalog, is a no-op.
func (m *Manager) EndQuery(q models.QueryID) {
	if !q.InQuery() {
		return
	}
	m.cache.Release(q)
}

// ListDatabaseNames lists databases of catalog. An unregistered catalog has
// no databases.
func (m *Manager) ListDatabaseNames(ctx context.Context, q models.QueryID, catalog string) ([]string, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	defer done()

	names, err := p.ListDatabaseNames(ctx)
	if err != nil {
		m.logger.Error("Failed to list databases",
			zap.String("catalog", catalog),
			zap.Error(err))
		return nil, err
	}
	return dedupe(names, identity), nil
}

// CreateDatabase creates a database. It does nothing when catalog is not registered.
func (m *Manager) CreateDatabase(ctx context.Context, q models.QueryID, catalog, db string, properties map[string]string) error {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil || !ok {
		return err
	}
	defer done()
	return p.CreateDatabase(ctx, db, properties)
}

// DropDatabase drops a database. It does nothing when catalog is not registered.
func (m *Manager) DropDatabase(ctx context.Context, q models.QueryID, catalog, db string, force bool) error {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil || !ok {
		return err
	}
	defer done()
	return p.DropDatabase(ctx, db, force)
}

// GetDatabase returns a database, or nil. Databases of external catalogs
// carry the catalog name.
func (m *Manager) GetDatabase(ctx context.Context, q models.QueryID, catalog, db string) (*models.Database, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil || !ok {
		return nil, err
	}
	defer done()

	d, err := p.GetDatabase(ctx, db)
	if err != nil || d == nil {
		return nil, err
	}
	if models.IsExternalCatalog(catalog) {
		d.CatalogName = catalog
	}
	return d, nil
}

// ListTableNames lists tables of a database.
func (m *Manager) ListTableNames(ctx context.Context, q models.QueryID, catalog, db string) ([]string, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	defer done()

	names, err := p.ListTableNames(ctx, db)
	if err != nil {
		m.logger.Error("Failed to list tables",
			zap.String("catalog", catalog),
			zap.String("db", db),
			zap.Error(err))
		return nil, err
	}
	return dedupe(names, identity), nil
}

// CreateTable creates a table. For external catalogs the database must exist
// and an existing table is tolerated only with IF NOT EXISTS, in which case
// CreateTable reports false without touching the catalog.
func (m *Manager) CreateTable(ctx context.Context, q models.QueryID, stmt *models.CreateTableStmt) (bool, error) {
	name := stmt.Name
	p, done, ok, err := m.provider(ctx, q, name.Catalog)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, apperrors.NewDDLError(apperrors.ErrCodeBadCatalog, name.Catalog, apperrors.ErrInvalidCatalog)
	}
	defer done()

	if models.IsExternalCatalog(name.Catalog) {
		db, err := p.GetDatabase(ctx, name.DB)
		if err != nil {
			m.logger.Error("Failed to get database",
				zap.String("catalog", name.Catalog),
				zap.String("db", name.DB),
				zap.Error(err))
			return false, err
		}
		if db == nil {
			return false, apperrors.NewDDLError(apperrors.ErrCodeBadDB, name.DB, apperrors.ErrDatabaseNotFound)
		}

		tables, err := p.ListTableNames(ctx, name.DB)
		if err != nil {
			m.logger.Error("Failed to list tables",
				zap.String("catalog", name.Catalog),
				zap.String("db", name.DB),
				zap.Error(err))
			return false, err
		}
		if slices.Contains(tables, name.Table) {
			if stmt.IfNotExists {
				m.logger.Info("Create table which already exists", zap.String("table", name.String()))
				return false, nil
			}
			return false, apperrors.NewDDLError(apperrors.ErrCodeTableExists, name.Table, apperrors.ErrTableExists)
		}
	}

	if err := p.CreateTable(ctx, stmt); err != nil {
		return false, err
	}
	return true, nil
}

// DropTableByName drops a table without IF EXISTS or FORCE.
func (m *Manager) DropTableByName(ctx context.Context, q models.QueryID, catalog, db, table string) error {
	return m.DropTable(ctx, q, &models.DropTableStmt{Name: models.NewTableName(catalog, db, table)})
}

// DropTable drops a table and invalidates the views that read it. It does
// nothing when the catalog is not registered.
func (m *Manager) DropTable(ctx context.Context, q models.QueryID, stmt *models.DropTableStmt) error {
	name := stmt.Name
	p, done, ok, err := m.provider(ctx, q, name.Catalog)
	if err != nil || !ok {
		return err
	}
	defer done()

	if err := p.DropTable(ctx, stmt); err != nil {
		m.logger.Error("Failed to drop table",
			zap.String("catalog", name.Catalog),
			zap.String("db", name.DB),
			zap.String("table", name.Table),
			zap.Error(err))
		return &apperrors.FederationError{Op: "drop table", Catalog: name.Catalog, DB: name.DB, Table: name.Table, Err: err}
	}

	reason := fmt.Sprintf("table [%s] has been dropped", name.Table)
	if _, err := m.views.InactiveViews(ctx, []models.TableName{name}, reason); err != nil {
		m.logger.Warn("View invalidation incomplete",
			zap.String("table", name.String()),
			zap.Error(err))
	}
	return nil
}

// GetTable returns a table handle, or nil. Stored annotations are attached
// to a copy of the provider's handle; annotation failures are logged only.
func (m *Manager) GetTable(ctx context.Context, q models.QueryID, catalog, db, table string) (*models.Table, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil || !ok {
		return nil, err
	}
	defer done()

	t, err := p.GetTable(ctx, db, table)
	if err != nil || t == nil {
		return t, err
	}
	if m.annotations == nil {
		return t, nil
	}

	annotated := *t
	if err := m.annotations.Annotate(ctx, catalog, db, &annotated); err != nil {
		m.logger.Warn("Failed to load table annotation",
			zap.String("catalog", catalog),
			zap.String("db", db),
			zap.String("table", table),
			zap.Error(err))
		return t, nil
	}
	return &annotated, nil
}

// GetTableByName is GetTable for a qualified name.
func (m *Manager) GetTableByName(ctx context.Context, q models.QueryID, name models.TableName) (*models.Table, error) {
	return m.GetTable(ctx, q, name.Catalog, name.DB, name.Table)
}

// GetMaterializedViewIndex returns a table with its materialized index, or nil.
func (m *Manager) GetMaterializedViewIndex(ctx context.Context, q models.QueryID, catalog, db, table string) (*models.MaterializedViewIndex, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil || !ok {
		return nil, err
	}
	defer done()
	return p.GetMaterializedViewIndex(ctx, db, table)
}

// ListPartitionNames lists the partitions of a table.
func (m *Manager) ListPartitionNames(ctx context.Context, q models.QueryID, catalog, db, table string) ([]string, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	defer done()

	names, err := p.ListPartitionNames(ctx, db, table)
	if err != nil {
		m.logger.Error("Failed to list partition names",
			zap.String("catalog", catalog),
			zap.String("db", db),
			zap.String("table", table),
			zap.Error(err))
		return nil, err
	}
	return dedupe(names, identity), nil
}

// ListPartitionNamesByValue lists partitions matching values, given in
// partition column order. A nil value matches any value of its column:
// for partition columns [dt, hh, mm] and the filter hh = '12' AND mm = '30'
// values is [nil, "12", "30"].
func (m *Manager) ListPartitionNamesByValue(ctx context.Context, q models.QueryID, catalog, db, table string, values []*string) ([]string, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	defer done()

	names, err := p.ListPartitionNamesByValue(ctx, db, table, values)
	if err != nil {
		m.logger.Error("Failed to list partition names by value",
			zap.String("catalog", catalog),
			zap.String("db", db),
			zap.String("table", table),
			zap.Error(err))
		return nil, err
	}
	return dedupe(names, identity), nil
}

// GetRemoteFileInfos lists the data files backing a table. Locations
// reported more than once are returned once.
func (m *Manager) GetRemoteFileInfos(ctx context.Context, q models.QueryID, catalog string, table *models.Table, req models.RemoteFileRequest) ([]models.RemoteFileInfo, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.RemoteFileInfo{}, nil
	}
	defer done()

	files, err := p.GetRemoteFileInfos(ctx, table, req)
	if err != nil {
		m.logger.Error("Failed to list remote file's metadata",
			zap.String("catalog", catalog),
			zap.String("table", table.TableName().String()),
			zap.Error(err))
		return nil, err
	}
	return dedupe(files, func(f models.RemoteFileInfo) string { return f.Path }), nil
}

// GetPartitions returns partition details in provider order.
func (m *Manager) GetPartitions(ctx context.Context, q models.QueryID, catalog string, table *models.Table, partitionNames []string) ([]models.PartitionInfo, error) {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.PartitionInfo{}, nil
	}
	defer done()

	partitions, err := p.GetPartitions(ctx, table, partitionNames)
	if err != nil {
		m.logger.Error("Failed to get partitions",
			zap.String("catalog", catalog),
			zap.String("table", table.TableName().String()),
			zap.Error(err))
		return nil, err
	}
	if partitions == nil {
		partitions = []models.PartitionInfo{}
	}
	return partitions, nil
}

// RefreshTable asks the connector to drop cached metadata of a table.
func (m *Manager) RefreshTable(ctx context.Context, q models.QueryID, catalog, db string, table *models.Table, partitionNames []string, onlyCachedPartitions bool) error {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil || !ok {
		return err
	}
	defer done()
	return p.RefreshTable(ctx, db, table, partitionNames, onlyCachedPartitions)
}

// FinishSink commits the files written by a table sink. Connector failures
// are reported as *apperrors.SinkCommitError.
func (m *Manager) FinishSink(ctx context.Context, q models.QueryID, catalog, db, table string, infos []models.SinkCommitInfo) error {
	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil || !ok {
		return err
	}
	defer done()

	if err := p.FinishSink(ctx, db, table, infos); err != nil {
		m.logger.Error("Table sink commit failed",
			zap.String("catalog", catalog),
			zap.String("db", db),
			zap.String("table", table),
			zap.Error(err))
		return apperrors.NewSinkCommitError(catalog, db, table, err)
	}
	return nil
}

// GetTableStatistics returns statistics for a table scan. Internal
// statistics win when every requested column is known; otherwise the
// connector's estimate fills the gaps and supplies the row count. A request
// without columns carries no internal row count and always goes to the
// connector. Without a connector estimate there are no statistics.
func (m *Manager) GetTableStatistics(ctx context.Context, q models.QueryID, catalog string, req models.StatisticsRequest) (*models.TableStatistics, error) {
	internal := m.internalStatistics(ctx, req)
	if len(req.Columns) > 0 && internal.AllKnown() {
		return internal, nil
	}

	p, done, ok, err := m.provider(ctx, q, catalog)
	if err != nil || !ok {
		return nil, err
	}
	defer done()

	external, err := p.GetTableStatistics(ctx, req)
	if err != nil {
		m.logger.Error("Failed to get table statistics",
			zap.String("catalog", catalog),
			zap.Error(err))
		return nil, err
	}
	return statistics.Merge(req.Columns, internal, external), nil
}

// internalStatistics reads the statistics store. A store failure is logged
// and treated as no internal data.
func (m *Manager) internalStatistics(ctx context.Context, req models.StatisticsRequest) *models.TableStatistics {
	if m.stats == nil || req.Table == nil {
		return statistics.BuildInternal(req.Columns, nil)
	}
	stats, err := m.stats.GetConnectorTableStatistics(ctx, req.Table, req.ColumnNames())
	if err != nil {
		m.logger.Warn("Failed to read internal statistics",
			zap.String("table", req.Table.TableName().String()),
			zap.Error(err))
		stats = nil
	}
	return statistics.BuildInternal(req.Columns, stats)
}

func identity(s string) string { return s }

// dedupe drops repeated items, keeping the first occurrence and the order.
func dedupe[T any, K comparable](items []T, key func(T) K) []T {
	out := make([]T, 0, len(items))
	seen := make(map[K]struct{}, len(items))
	for _, item := range items {
		k := key(item)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out
}
