package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// Session is one provider session. Database and table listings and table
// handles are captured on first read and served from the snapshot until the
// session itself changes them.
type Session struct {
	id      uuid.UUID
	catalog *Catalog

	mu         sync.Mutex
	released   bool
	dbNames    []string
	dbLoaded   bool
	tableNames map[string][]string
	tables     map[string]*models.Table
	once       sync.Once
}

func newSession(c *Catalog) *Session {
	return &Session{
		id:         uuid.New(),
		catalog:    c,
		tableNames: make(map[string][]string),
		tables:     make(map[string]*models.Table),
	}
}

// ID identifies the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Released reports whether Release was called.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Release drops the snapshot. Only the first call has an effect.
func (s *Session) Release() {
	s.once.Do(func() {
		s.mu.Lock()
		s.released = true
		s.dbNames = nil
		s.dbLoaded = false
		s.tableNames = make(map[string][]string)
		s.tables = make(map[string]*models.Table)
		s.mu.Unlock()

		s.catalog.open.Add(-1)
		s.catalog.releases.Add(1)
		s.catalog.logger.Debug("Released session", zap.String("session_id", s.id.String()))
	})
}

func (s *Session) check(op string) error {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return ErrSessionReleased
	}
	return s.catalog.fault(op)
}

func (s *Session) ListDatabaseNames(ctx context.Context) ([]string, error) {
	if err := s.check("ListDatabaseNames"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dbLoaded {
		s.dbNames = s.catalog.databaseNames()
		s.dbLoaded = true
	}
	return append([]string(nil), s.dbNames...), nil
}

func (s *Session) CreateDatabase(ctx context.Context, name string, properties map[string]string) error {
	if err := s.check("CreateDatabase"); err != nil {
		return err
	}
	c := s.catalog
	c.mutations.Add(1)

	c.mu.Lock()
	if _, exists := c.databases[name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("database %s: %w", name, apperrors.ErrConflict)
	}
	c.addDatabaseLocked(name, properties)
	c.mu.Unlock()

	s.forgetDatabases()
	return nil
}

func (s *Session) DropDatabase(ctx context.Context, name string, force bool) error {
	if err := s.check("DropDatabase"); err != nil {
		return err
	}
	c := s.catalog
	c.mutations.Add(1)

	c.mu.Lock()
	d, ok := c.databases[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("database %s: %w", name, apperrors.ErrDatabaseNotFound)
	}
	if len(d.tables) > 0 && !force {
		c.mu.Unlock()
		return fmt.Errorf("database %s is not empty", name)
	}
	delete(c.databases, name)
	c.mu.Unlock()

	s.forgetDatabases()
	return nil
}

func (s *Session) GetDatabase(ctx context.Context, name string) (*models.Database, error) {
	if err := s.check("GetDatabase"); err != nil {
		return nil, err
	}
	c := s.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.databases[name]
	if !ok {
		return nil, nil
	}
	db := d.meta
	return &db, nil
}

func (s *Session) ListTableNames(ctx context.Context, db string) ([]string, error) {
	if err := s.check("ListTableNames"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names, ok := s.tableNames[db]
	if !ok {
		names, _ = s.catalog.tableNames(db)
		s.tableNames[db] = names
	}
	return append([]string(nil), names...), nil
}

func (s *Session) CreateTable(ctx context.Context, stmt *models.CreateTableStmt) error {
	if err := s.check("CreateTable"); err != nil {
		return err
	}
	c := s.catalog
	c.mutations.Add(1)

	c.mu.Lock()
	d, ok := c.databases[stmt.Name.DB]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("database %s: %w", stmt.Name.DB, apperrors.ErrDatabaseNotFound)
	}
	if _, exists := d.tables[stmt.Name.Table]; exists {
		c.mu.Unlock()
		if stmt.IfNotExists {
			return nil
		}
		return fmt.Errorf("table %s: %w", stmt.Name, apperrors.ErrTableExists)
	}
	c.nextID++
	t := &models.Table{
		ID:               c.nextID,
		Name:             stmt.Name.Table,
		DBName:           stmt.Name.DB,
		CatalogName:      c.name,
		Kind:             models.TableKindMemory,
		Columns:          append([]models.Column(nil), stmt.Columns...),
		Comment:          stmt.Comment,
		Properties:       stmt.Properties,
		PartitionColumns: append([]string(nil), stmt.PartitionColumns...),
	}
	d.tables[t.Name] = &tableData{table: cloneTable(t), files: make(map[string][]models.RemoteFileInfo)}
	c.mu.Unlock()

	s.forgetTable(stmt.Name.DB, stmt.Name.Table)
	return nil
}

func (s *Session) DropTable(ctx context.Context, stmt *models.DropTableStmt) error {
	if err := s.check("DropTable"); err != nil {
		return err
	}
	c := s.catalog
	c.mutations.Add(1)

	c.mu.Lock()
	t := c.lookupLocked(stmt.Name.DB, stmt.Name.Table)
	if t == nil {
		c.mu.Unlock()
		if stmt.IfExists {
			return nil
		}
		return fmt.Errorf("table %s: %w", stmt.Name, apperrors.ErrTableNotFound)
	}
	delete(c.databases[stmt.Name.DB].tables, stmt.Name.Table)
	c.mu.Unlock()

	s.forgetTable(stmt.Name.DB, stmt.Name.Table)
	return nil
}

func (s *Session) GetTable(ctx context.Context, db, table string) (*models.Table, error) {
	if err := s.check("GetTable"); err != nil {
		return nil, err
	}
	key := db + "." + table

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[key]; ok {
		return t, nil
	}

	c := s.catalog
	c.mu.RLock()
	var t *models.Table
	if td := c.lookupLocked(db, table); td != nil {
		t = cloneTable(td.table)
	}
	c.mu.RUnlock()

	s.tables[key] = t
	return t, nil
}

func (s *Session) GetMaterializedViewIndex(ctx context.Context, db, table string) (*models.MaterializedViewIndex, error) {
	if err := s.check("GetMaterializedViewIndex"); err != nil {
		return nil, err
	}
	t, err := s.GetTable(ctx, db, table)
	if err != nil || t == nil {
		return nil, err
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

func (s *Session) ListPartitionNames(ctx context.Context, db, table string) ([]string, error) {
	if err := s.check("ListPartitionNames"); err != nil {
		return nil, err
	}
	c := s.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.lookupLocked(db, table)
	if t == nil {
		return nil, nil
	}
	names := make([]string, 0, len(t.partitions))
	for _, p := range t.partitions {
		names = append(names, p.Name)
	}
	return names, nil
}

func (s *Session) ListPartitionNamesByValue(ctx context.Context, db, table string, values []*string) ([]string, error) {
	if err := s.check("ListPartitionNamesByValue"); err != nil {
		return nil, err
	}
	all, err := s.ListPartitionNames(ctx, db, table)
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, name := range all {
		pv := partitionValues(name)
		if len(pv) != len(values) {
			continue
		}
		ok := true
		for i, want := range values {
			if want != nil && *want != pv[i] {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

func (s *Session) GetRemoteFileInfos(ctx context.Context, table *models.Table, req models.RemoteFileRequest) ([]models.RemoteFileInfo, error) {
	if err := s.check("GetRemoteFileInfos"); err != nil {
		return nil, err
	}
	c := s.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.lookupLocked(table.DBName, table.Name)
	if t == nil {
		return nil, nil
	}

	var infos []models.RemoteFileInfo
	if len(req.PartitionKeys) == 0 {
		names := make([]string, 0, len(t.files))
		for name := range t.files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			infos = append(infos, t.files[name]...)
		}
		return infos, nil
	}

	for _, key := range req.PartitionKeys {
		infos = append(infos, t.files[partitionName(t.table.PartitionColumns, key)]...)
	}
	return infos, nil
}

func (s *Session) GetPartitions(ctx context.Context, table *models.Table, partitionNames []string) ([]models.PartitionInfo, error) {
	if err := s.check("GetPartitions"); err != nil {
		return nil, err
	}
	c := s.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.lookupLocked(table.DBName, table.Name)
	if t == nil {
		return nil, nil
	}

	byName := make(map[string]models.PartitionInfo, len(t.partitions))
	for _, p := range t.partitions {
		byName[p.Name] = p
	}
	var out []models.PartitionInfo
	for _, name := range partitionNames {
		if p, ok := byName[name]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Session) RefreshTable(ctx context.Context, db string, table *models.Table, partitionNames []string, onlyCachedPartitions bool) error {
	if err := s.check("RefreshTable"); err != nil {
		return err
	}
	if err := s.catalog.updateTable(db, table.Name, func(t *tableData) { t.refreshes++ }); err != nil {
		return err
	}
	s.forgetTable(db, table.Name)
	return nil
}

func (s *Session) FinishSink(ctx context.Context, db, table string, infos []models.SinkCommitInfo) error {
	if err := s.check("FinishSink"); err != nil {
		return err
	}
	s.catalog.mutations.Add(1)
	return s.catalog.updateTable(db, table, func(t *tableData) {
		for _, info := range infos {
			if info.IsOverwrite {
				t.commits = t.commits[:0]
			}
			t.commits = append(t.commits, info)
		}
	})
}

func (s *Session) GetTableStatistics(ctx context.Context, req models.StatisticsRequest) (*models.TableStatistics, error) {
	if err := s.check("GetTableStatistics"); err != nil {
		return nil, err
	}
	if req.Table == nil {
		return nil, nil
	}
	c := s.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.lookupLocked(req.Table.DBName, req.Table.Name)
	if t == nil || t.stats == nil {
		return nil, nil
	}

	out := &models.TableStatistics{
		OutputRowCount: t.stats.OutputRowCount,
		Columns:        make([]models.ColumnStatisticEntry, 0, len(req.Columns)),
	}
	for _, ref := range req.Columns {
		stat := models.UnknownColumnStatistic()
		for _, e := range t.stats.Columns {
			if e.Column.Name == ref.Name {
				stat = e.Statistic
				break
			}
		}
		out.Columns = append(out.Columns, models.ColumnStatisticEntry{Column: ref, Statistic: stat})
	}
	return out, nil
}

func (s *Session) forgetDatabases() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbLoaded = false
	s.dbNames = nil
}

func (s *Session) forgetTable(db, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tableNames, db)
	delete(s.tables, db+"."+table)
}

var _ connector.Provider = (*Session)(nil)
