// Package metastore holds the engine's own catalog: native tables and the
// views defined over any catalog.
package metastore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// Directory enumerates databases and the views they contain.
type Directory interface {
	DatabaseIDs() []int64
	// Database returns nil when id is unknown, e.g. dropped since DatabaseIDs.
	Database(id int64) *models.Database
	Views(dbID int64) []*models.View
}

type localDB struct {
	meta   models.Database
	tables map[string]*models.Table
	views  map[string]*models.View
}

// LocalMetastore is the internal catalog. A single instance is shared by
// all callers; it is never session-scoped, so Release does nothing.
type LocalMetastore struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int64
	byName map[string]*localDB
	byID   map[int64]*localDB
}

// NewLocalMetastore creates an empty internal catalog.
func NewLocalMetastore(logger *zap.Logger) *LocalMetastore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalMetastore{
		logger: logger.Named("metastore"),
		byName: make(map[string]*localDB),
		byID:   make(map[int64]*localDB),
	}
}

var (
	_ connector.Provider = (*LocalMetastore)(nil)
	_ Directory          = (*LocalMetastore)(nil)
)

// CreateView defines a view in db. Replacing an existing view redefines it,
// which also makes it valid again.
func (m *LocalMetastore) CreateView(ctx context.Context, db string, view *models.View, orReplace bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byName[db]
	if !ok {
		return apperrors.NewDDLError(apperrors.ErrCodeBadDB, db, apperrors.ErrDatabaseNotFound)
	}
	if existing, ok := d.views[view.Name]; ok {
		if !orReplace {
			return apperrors.NewDDLError(apperrors.ErrCodeTableExists, view.Name, apperrors.ErrTableExists)
		}
		existing.Redefine(view.Definition(), view.TableRefs())
		return nil
	}
	if _, ok := d.tables[view.Name]; ok {
		return apperrors.NewDDLError(apperrors.ErrCodeTableExists, view.Name, apperrors.ErrTableExists)
	}

	m.nextID++
	view.ID = m.nextID
	view.DBName = db
	view.CatalogName = models.InternalCatalog
	d.views[view.Name] = view

	m.logger.Debug("Created view",
		zap.String("db", db),
		zap.String("view", view.Name),
		zap.Int("table_refs", len(view.TableRefs())))
	return nil
}

// View returns a view by name, or nil.
func (m *LocalMetastore) View(db, name string) *models.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.byName[db]; ok {
		return d.views[name]
	}
	return nil
}

func (m *LocalMetastore) DatabaseIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *LocalMetastore) Database(id int64) *models.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	if !ok {
		return nil
	}
	meta := d.meta
	return &meta
}

func (m *LocalMetastore) Views(dbID int64) []*models.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[dbID]
	if !ok {
		return nil
	}
	views := make([]*models.View, 0, len(d.views))
	for _, v := range d.views {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

func (m *LocalMetastore) ListDatabaseNames(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *LocalMetastore) CreateDatabase(ctx context.Context, name string, properties map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; exists {
		return fmt.Errorf("database %s: %w", name, apperrors.ErrConflict)
	}
	m.nextID++
	d := &localDB{
		meta:   models.Database{ID: m.nextID, Name: name, Properties: properties},
		tables: make(map[string]*models.Table),
		views:  make(map[string]*models.View),
	}
	m.byName[name] = d
	m.byID[d.meta.ID] = d
	m.logger.Info("Created database", zap.String("db", name), zap.Int64("db_id", d.meta.ID))
	return nil
}

func (m *LocalMetastore) DropDatabase(ctx context.Context, name string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byName[name]
	if !ok {
		return apperrors.NewDDLError(apperrors.ErrCodeBadDB, name, apperrors.ErrDatabaseNotFound)
	}
	if !force && len(d.tables)+len(d.views) > 0 {
		return fmt.Errorf("database %s is not empty", name)
	}
	delete(m.byName, name)
	delete(m.byID, d.meta.ID)
	m.logger.Info("Dropped database", zap.String("db", name), zap.Bool("force", force))
	return nil
}

func (m *LocalMetastore) GetDatabase(ctx context.Context, name string) (*models.Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byName[name]
	if !ok {
		return nil, nil
	}
	meta := d.meta
	return &meta, nil
}

func (m *LocalMetastore) ListTableNames(ctx context.Context, db string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byName[db]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(d.tables)+len(d.views))
	for name := range d.tables {
		names = append(names, name)
	}
	for name := range d.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *LocalMetastore) CreateTable(ctx context.Context, stmt *models.CreateTableStmt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byName[stmt.Name.DB]
	if !ok {
		return apperrors.NewDDLError(apperrors.ErrCodeBadDB, stmt.Name.DB, apperrors.ErrDatabaseNotFound)
	}
	_, isTable := d.tables[stmt.Name.Table]
	_, isView := d.views[stmt.Name.Table]
	if isTable || isView {
		if stmt.IfNotExists {
			return nil
		}
		return apperrors.NewDDLError(apperrors.ErrCodeTableExists, stmt.Name.Table, apperrors.ErrTableExists)
	}

	m.nextID++
	d.tables[stmt.Name.Table] = &models.Table{
		ID:               m.nextID,
		Name:             stmt.Name.Table,
		DBName:           stmt.Name.DB,
		CatalogName:      models.InternalCatalog,
		Kind:             models.TableKindOLAP,
		Columns:          append([]models.Column(nil), stmt.Columns...),
		Comment:          stmt.Comment,
		Properties:       stmt.Properties,
		PartitionColumns: append([]string(nil), stmt.PartitionColumns...),
	}
	return nil
}

func (m *LocalMetastore) DropTable(ctx context.Context, stmt *models.DropTableStmt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byName[stmt.Name.DB]
	if !ok {
		if stmt.IfExists {
			return nil
		}
		return apperrors.NewDDLError(apperrors.ErrCodeBadDB, stmt.Name.DB, apperrors.ErrDatabaseNotFound)
	}
	if _, ok := d.tables[stmt.Name.Table]; ok {
		delete(d.tables, stmt.Name.Table)
		return nil
	}
	if _, ok := d.views[stmt.Name.Table]; ok {
		delete(d.views, stmt.Name.Table)
		return nil
	}
	if stmt.IfExists {
		return nil
	}
	return apperrors.NewDDLError(apperrors.ErrCodeBadTable, stmt.Name.Table, apperrors.ErrTableNotFound)
}

// GetTable returns a table or a view. A view is returned through its
// embedded table handle, whose Kind is view.
func (m *LocalMetastore) GetTable(ctx context.Context, db, table string) (*models.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byName[db]
	if !ok {
		return nil, nil
	}
	if t, ok := d.tables[table]; ok {
		return t, nil
	}
	if v, ok := d.views[table]; ok {
		return &v.Table, nil
	}
	return nil, nil
}

func (m *LocalMetastore) GetMaterializedViewIndex(ctx context.Context, db, table string) (*models.MaterializedViewIndex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byName[db]
	if !ok {
		return nil, nil
	}
	t, ok := d.tables[table]
	if !ok {
		return nil, nil
	}
	return &models.MaterializedViewIndex{
		Table: t,
		Index: &models.MaterializedIndexMeta{
			IndexID:  t.ID,
			Columns:  t.Columns,
			KeysType: "DUP_KEYS",
		},
	}, nil
}

// Native tables have no connector-side partitions or data files.

func (m *LocalMetastore) ListPartitionNames(ctx context.Context, db, table string) ([]string, error) {
	return nil, nil
}

func (m *LocalMetastore) ListPartitionNamesByValue(ctx context.Context, db, table string, values []*string) ([]string, error) {
	return nil, nil
}

func (m *LocalMetastore) GetRemoteFileInfos(ctx context.Context, table *models.Table, req models.RemoteFileRequest) ([]models.RemoteFileInfo, error) {
	return nil, nil
}

func (m *LocalMetastore) GetPartitions(ctx context.Context, table *models.Table, partitionNames []string) ([]models.PartitionInfo, error) {
	return nil, nil
}

func (m *LocalMetastore) RefreshTable(ctx context.Context, db string, table *models.Table, partitionNames []string, onlyCachedPartitions bool) error {
	return nil
}

// FinishSink is unsupported: native table loads commit through the
// transaction manager, not the metadata layer.
func (m *LocalMetastore) FinishSink(ctx context.Context, db, table string, infos []models.SinkCommitInfo) error {
	return fmt.Errorf("finish sink on %s.%s: %w", db, table, connector.ErrUnsupported)
}

// GetTableStatistics returns nil; native statistics come from the
// statistics store.
func (m *LocalMetastore) GetTableStatistics(ctx context.Context, req models.StatisticsRequest) (*models.TableStatistics, error) {
	return nil, nil
}

func (m *LocalMetastore) Release() {}
