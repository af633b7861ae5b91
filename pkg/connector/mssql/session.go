package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

var errReleased = errors.New("mssql: session released")

// Session is a provider session. Table handles are cached until Release.
type Session struct {
	conn     *Connector
	tables   connector.TableCache
	released atomic.Bool
}

// Release drops the session's table cache. The pool stays open.
func (s *Session) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.tables.Clear()
	}
}

func (s *Session) check() error {
	if s.released.Load() {
		return errReleased
	}
	return nil
}

func (s *Session) ListDatabaseNames(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, `
		SELECT s.name
		FROM sys.schemas s
		WHERE s.name NOT IN ('sys', 'INFORMATION_SCHEMA', 'guest')
		  AND s.name NOT LIKE 'db[_]%'
		ORDER BY s.name
	`)
}

func (s *Session) CreateDatabase(ctx context.Context, name string, properties map[string]string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.conn.db.ExecContext(ctx, "CREATE SCHEMA "+quoteIdentifier(name)); err != nil {
		return fmt.Errorf("create schema %s: %w", name, err)
	}
	return nil
}

// DropDatabase drops a schema. SQL Server has no DROP SCHEMA ... CASCADE, so
// force drops the schema's tables first.
func (s *Session) DropDatabase(ctx context.Context, name string, force bool) error {
	if err := s.check(); err != nil {
		return err
	}
	if force {
		tables, err := s.ListTableNames(ctx, name)
		if err != nil {
			return err
		}
		for _, t := range tables {
			if _, err := s.conn.db.ExecContext(ctx, "DROP TABLE "+qualifiedTableName(name, t)); err != nil {
				return fmt.Errorf("drop table %s.%s: %w", name, t, err)
			}
			s.tables.Forget(name, t)
		}
	}
	if _, err := s.conn.db.ExecContext(ctx, "DROP SCHEMA "+quoteIdentifier(name)); err != nil {
		return fmt.Errorf("drop schema %s: %w", name, err)
	}
	return nil
}

func (s *Session) GetDatabase(ctx context.Context, name string) (*models.Database, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	db := &models.Database{Name: name}
	err := s.conn.db.QueryRowContext(ctx, `SELECT CAST(schema_id AS BIGINT) FROM sys.schemas WHERE name = @p1`, name).Scan(&db.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query schema: %w", err)
	}
	return db, nil
}

func (s *Session) ListTableNames(ctx context.Context, db string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, `
		SELECT o.name
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE s.name = @p1 AND o.type IN ('U', 'V')
		ORDER BY o.name
	`, db)
}

func (s *Session) CreateTable(ctx context.Context, stmt *models.CreateTableStmt) error {
	if err := s.check(); err != nil {
		return err
	}
	stmts, err := createTableSQL(stmt)
	if err != nil {
		return err
	}

	tx, err := s.conn.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback on defer is best-effort

	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", stmt.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create table %s: %w", stmt.Name, err)
	}

	s.tables.Forget(stmt.Name.DB, stmt.Name.Table)
	return nil
}

func (s *Session) DropTable(ctx context.Context, stmt *models.DropTableStmt) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.conn.db.ExecContext(ctx, dropTableSQL(stmt)); err != nil {
		return fmt.Errorf("drop table %s: %w", stmt.Name, err)
	}
	s.tables.Forget(stmt.Name.DB, stmt.Name.Table)
	return nil
}

func (s *Session) GetTable(ctx context.Context, db, table string) (*models.Table, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if t, ok := s.tables.Get(db, table); ok {
		return t, nil
	}
	t, err := s.loadTable(ctx, db, table)
	if err != nil {
		return nil, err
	}
	s.tables.Put(db, table, t)
	return t, nil
}

func (s *Session) loadTable(ctx context.Context, db, table string) (*models.Table, error) {
	t := &models.Table{
		Name:        table,
		DBName:      db,
		CatalogName: s.conn.name,
		Kind:        models.TableKindMSSQL,
	}

	err := s.conn.db.QueryRowContext(ctx, `
		SELECT CAST(o.object_id AS BIGINT), COALESCE(CAST(ep.value AS NVARCHAR(4000)), '')
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		LEFT JOIN sys.extended_properties ep
		  ON ep.major_id = o.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
		WHERE s.name = @p1 AND o.name = @p2 AND o.type IN ('U', 'V')
	`, db, table).Scan(&t.ID, &t.Comment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query table: %w", err)
	}

	rows, err := s.conn.db.QueryContext(ctx, `
		SELECT
			c.name,
			TYPE_NAME(c.user_type_id),
			c.is_nullable,
			CAST(CASE WHEN ic.column_id IS NULL THEN 0 ELSE 1 END AS BIT),
			dc.definition,
			COALESCE(CAST(ep.value AS NVARCHAR(4000)), '')
		FROM sys.columns c
		LEFT JOIN sys.indexes i ON i.object_id = c.object_id AND i.is_primary_key = 1
		LEFT JOIN sys.index_columns ic
		  ON ic.object_id = i.object_id AND ic.index_id = i.index_id AND ic.column_id = c.column_id
		LEFT JOIN sys.default_constraints dc
		  ON dc.parent_object_id = c.object_id AND dc.parent_column_id = c.column_id
		LEFT JOIN sys.extended_properties ep
		  ON ep.major_id = c.object_id AND ep.minor_id = c.column_id AND ep.name = 'MS_Description'
		WHERE c.object_id = @p1
		ORDER BY c.column_id
	`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Column
		var def sql.NullString
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.PrimaryKey, &def, &c.Comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if def.Valid {
			v := def.String
			c.Default = &v
		}
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	partCols, err := s.queryStrings(ctx, `
		SELECT c.name
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.object_id = @p1 AND i.index_id IN (0, 1) AND ic.partition_ordinal > 0
		ORDER BY ic.partition_ordinal
	`, t.ID)
	if err != nil {
		return nil, err
	}
	t.PartitionColumns = partCols
	return t, nil
}

func (s *Session) GetMaterializedViewIndex(ctx context.Context, db, table string) (*models.MaterializedViewIndex, error) {
	t, err := s.GetTable(ctx, db, table)
	if err != nil || t == nil {
		return nil, err
	}
	return &models.MaterializedViewIndex{
		Table: t,
		Index: &models.MaterializedIndexMeta{IndexID: t.ID, Columns: t.Columns, KeysType: "PRIMARY_KEYS"},
	}, nil
}

// ListPartitionNames returns partition numbers of the table's heap or
// clustered index, rendered as "p<N>".
func (s *Session) ListPartitionNames(ctx context.Context, db, table string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	parts, err := s.partitions(ctx, db, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.Name
	}
	return names, nil
}

// ListPartitionNamesByValue matches on the partition's range boundary value.
func (s *Session) ListPartitionNamesByValue(ctx context.Context, db, table string, values []*string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.conn.db.QueryContext(ctx, `
		SELECT CONCAT('p', p.partition_number), COALESCE(CONVERT(NVARCHAR(4000), prv.value, 126), '')
		FROM sys.partitions p
		JOIN sys.objects o ON o.object_id = p.object_id
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		JOIN sys.indexes i ON i.object_id = p.object_id AND i.index_id = p.index_id
		LEFT JOIN sys.partition_schemes ps ON ps.data_space_id = i.data_space_id
		LEFT JOIN sys.partition_range_values prv
		  ON prv.function_id = ps.function_id AND prv.boundary_id = p.partition_number
		WHERE s.name = @p1 AND o.name = @p2 AND p.index_id IN (0, 1)
		ORDER BY p.partition_number
	`, db, table)
	if err != nil {
		return nil, fmt.Errorf("query partition boundaries: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name, boundary string
		if err := rows.Scan(&name, &boundary); err != nil {
			return nil, fmt.Errorf("scan partition boundary: %w", err)
		}
		match := true
		for _, v := range values {
			if v != nil && !strings.EqualFold(*v, boundary) {
				match = false
				break
			}
		}
		if match {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partition boundaries: %w", err)
	}
	return names, nil
}

func (s *Session) partitions(ctx context.Context, db, table string) ([]models.PartitionInfo, error) {
	rows, err := s.conn.db.QueryContext(ctx, `
		SELECT CONCAT('p', p.partition_number), CAST(p.rows AS BIGINT)
		FROM sys.partitions p
		JOIN sys.objects o ON o.object_id = p.object_id
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE s.name = @p1 AND o.name = @p2 AND p.index_id IN (0, 1)
		ORDER BY p.partition_number
	`, db, table)
	if err != nil {
		return nil, fmt.Errorf("query partitions: %w", err)
	}
	defer rows.Close()

	var parts []models.PartitionInfo
	for rows.Next() {
		var p models.PartitionInfo
		if err := rows.Scan(&p.Name, &p.RowCount); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		p.FullPath = db + "." + table + "." + p.Name
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partitions: %w", err)
	}
	return parts, nil
}

// GetRemoteFileInfos returns nothing: SQL Server tables are not file backed.
func (s *Session) GetRemoteFileInfos(ctx context.Context, table *models.Table, req models.RemoteFileRequest) ([]models.RemoteFileInfo, error) {
	return nil, s.check()
}

func (s *Session) GetPartitions(ctx context.Context, table *models.Table, partitionNames []string) ([]models.PartitionInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	all, err := s.partitions(ctx, table.DBName, table.Name)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]models.PartitionInfo, len(all))
	for _, p := range all {
		byName[p.Name] = p
	}
	out := make([]models.PartitionInfo, 0, len(partitionNames))
	for _, name := range partitionNames {
		if p, ok := byName[name]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Session) RefreshTable(ctx context.Context, db string, table *models.Table, partitionNames []string, onlyCachedPartitions bool) error {
	if err := s.check(); err != nil {
		return err
	}
	s.tables.Forget(db, table.Name)
	return nil
}

func (s *Session) FinishSink(ctx context.Context, db, table string, infos []models.SinkCommitInfo) error {
	return fmt.Errorf("mssql sink commit for %s.%s: %w", db, table, connector.ErrUnsupported)
}

// GetTableStatistics reports the row count from sys.partitions. Column
// distributions are not exposed by SQL Server catalog views, so every column
// is unknown.
func (s *Session) GetTableStatistics(ctx context.Context, req models.StatisticsRequest) (*models.TableStatistics, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if req.Table == nil {
		return nil, nil
	}
	parts, err := s.partitions(ctx, req.Table.DBName, req.Table.Name)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}

	var rows int64
	for _, p := range parts {
		rows += p.RowCount
	}
	stats := &models.TableStatistics{OutputRowCount: float64(rows)}
	for _, ref := range req.Columns {
		stats.Columns = append(stats.Columns, models.ColumnStatisticEntry{Column: ref, Statistic: models.UnknownColumnStatistic()})
	}
	return stats, nil
}

func (s *Session) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

var _ connector.Provider = (*Session)(nil)
