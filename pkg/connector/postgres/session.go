package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// errReleased is returned by calls on a released session.
var errReleased = errors.New("postgres: session released")

// Session is a provider session. Table handles are cached until Release.
type Session struct {
	conn     *Connector
	tables   connector.TableCache
	released atomic.Bool
}

func newSession(c *Connector) *Session {
	return &Session{conn: c}
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
	const query = `
		SELECT nspname
		FROM pg_namespace
		WHERE nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND nspname NOT LIKE 'pg_temp_%'
		  AND nspname NOT LIKE 'pg_toast_temp_%'
		ORDER BY nspname
	`
	return s.queryStrings(ctx, query)
}

func (s *Session) CreateDatabase(ctx context.Context, name string, properties map[string]string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.conn.pool.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{name}.Sanitize())
	if err != nil {
		return fmt.Errorf("create schema %s: %w", name, err)
	}
	return nil
}

func (s *Session) DropDatabase(ctx context.Context, name string, force bool) error {
	if err := s.check(); err != nil {
		return err
	}
	stmt := "DROP SCHEMA " + pgx.Identifier{name}.Sanitize()
	if force {
		stmt += " CASCADE"
	}
	if _, err := s.conn.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("drop schema %s: %w", name, err)
	}
	return nil
}

func (s *Session) GetDatabase(ctx context.Context, name string) (*models.Database, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	db := &models.Database{Name: name}
	err := s.conn.pool.QueryRow(ctx, `SELECT oid::bigint FROM pg_namespace WHERE nspname = $1`, name).Scan(&db.ID)
	if errors.Is(err, pgx.ErrNoRows) {
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
	const query = `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
		  AND NOT c.relispartition
		ORDER BY c.relname
	`
	return s.queryStrings(ctx, query, db)
}

func (s *Session) CreateTable(ctx context.Context, stmt *models.CreateTableStmt) error {
	if err := s.check(); err != nil {
		return err
	}
	stmts, err := createTableSQL(stmt)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.conn.pool, func(tx pgx.Tx) error {
		for _, sql := range stmts {
			if _, err := tx.Exec(ctx, sql); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", stmt.Name, err)
	}

	s.tables.Forget(stmt.Name.DB, stmt.Name.Table)
	return nil
}

func (s *Session) DropTable(ctx context.Context, stmt *models.DropTableStmt) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.conn.pool.Exec(ctx, dropTableSQL(stmt)); err != nil {
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
		Kind:        models.TableKindPostgres,
	}

	var partKeys []string
	err := s.conn.pool.QueryRow(ctx, `
		SELECT c.oid::bigint,
		       COALESCE(obj_description(c.oid, 'pg_class'), ''),
		       COALESCE((
		           SELECT array_agg(a.attname ORDER BY k.ord)
		           FROM pg_partitioned_table pt
		           CROSS JOIN LATERAL unnest(pt.partattrs::int2[]) WITH ORDINALITY AS k(attnum, ord)
		           JOIN pg_attribute a ON a.attrelid = pt.partrelid AND a.attnum = k.attnum
		           WHERE pt.partrelid = c.oid
		       ), '{}')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
		  AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
	`, db, table).Scan(&t.ID, &t.Comment, &partKeys)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query table: %w", err)
	}
	t.PartitionColumns = partKeys

	// pg_index.indisprimary also finds keys created as unique indexes by ORMs.
	rows, err := s.conn.pool.Query(ctx, `
		SELECT
			a.attname,
			format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull,
			COALESCE(pk.is_pk, false),
			pg_get_expr(d.adbin, d.adrelid),
			COALESCE(col_description(a.attrelid, a.attnum), '')
		FROM pg_attribute a
		LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		LEFT JOIN (
			SELECT unnest(ix.indkey) AS attnum, true AS is_pk
			FROM pg_index ix
			WHERE ix.indrelid = $1::oid AND ix.indisprimary
		) pk ON pk.attnum = a.attnum
		WHERE a.attrelid = $1::oid AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
	`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.PrimaryKey, &c.Default, &c.Comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
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

func (s *Session) ListPartitionNames(ctx context.Context, db, table string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	bounds, err := s.partitionBounds(ctx, db, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(bounds))
	for i, b := range bounds {
		names[i] = b.name
	}
	return names, nil
}

func (s *Session) ListPartitionNamesByValue(ctx context.Context, db, table string, values []*string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	bounds, err := s.partitionBounds(ctx, db, table)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, b := range bounds {
		if partitionBoundMatches(b.bound, values) {
			names = append(names, b.name)
		}
	}
	return names, nil
}

type partitionBound struct {
	name  string
	bound string
}

func (s *Session) partitionBounds(ctx context.Context, db, table string) ([]partitionBound, error) {
	rows, err := s.conn.pool.Query(ctx, `
		SELECT c.relname, pg_get_expr(c.relpartbound, c.oid)
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		JOIN pg_namespace n ON n.oid = p.relnamespace
		WHERE n.nspname = $1 AND p.relname = $2
		ORDER BY c.relname
	`, db, table)
	if err != nil {
		return nil, fmt.Errorf("query partitions: %w", err)
	}
	defer rows.Close()

	var bounds []partitionBound
	for rows.Next() {
		var b partitionBound
		var expr *string
		if err := rows.Scan(&b.name, &expr); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		if expr != nil {
			b.bound = *expr
		}
		bounds = append(bounds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partitions: %w", err)
	}
	return bounds, nil
}

// GetRemoteFileInfos returns nothing: PostgreSQL tables are not file backed.
func (s *Session) GetRemoteFileInfos(ctx context.Context, table *models.Table, req models.RemoteFileRequest) ([]models.RemoteFileInfo, error) {
	return nil, s.check()
}

func (s *Session) GetPartitions(ctx context.Context, table *models.Table, partitionNames []string) ([]models.PartitionInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.conn.pool.Query(ctx, `
		SELECT c.relname, GREATEST(c.reltuples, 0)::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = ANY($2)
	`, table.DBName, partitionNames)
	if err != nil {
		return nil, fmt.Errorf("query partition stats: %w", err)
	}
	defer rows.Close()

	found := make(map[string]models.PartitionInfo, len(partitionNames))
	for rows.Next() {
		var p models.PartitionInfo
		if err := rows.Scan(&p.Name, &p.RowCount); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		p.FullPath = table.DBName + "." + p.Name
		found[p.Name] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partitions: %w", err)
	}

	out := make([]models.PartitionInfo, 0, len(found))
	for _, name := range partitionNames {
		if p, ok := found[name]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// RefreshTable drops the cached handle so the next GetTable rereads the catalog.
func (s *Session) RefreshTable(ctx context.Context, db string, table *models.Table, partitionNames []string, onlyCachedPartitions bool) error {
	if err := s.check(); err != nil {
		return err
	}
	s.tables.Forget(db, table.Name)
	return nil
}

func (s *Session) FinishSink(ctx context.Context, db, table string, infos []models.SinkCommitInfo) error {
	return fmt.Errorf("postgres sink commit for %s.%s: %w", db, table, connector.ErrUnsupported)
}

// GetTableStatistics derives an estimate from pg_class and pg_stats. Columns
// that were never analyzed are unknown; a table never analyzed has no estimate.
func (s *Session) GetTableStatistics(ctx context.Context, req models.StatisticsRequest) (*models.TableStatistics, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if req.Table == nil {
		return nil, nil
	}

	var rowCount float64
	err := s.conn.pool.QueryRow(ctx, `
		SELECT c.reltuples::float8
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`, req.Table.DBName, req.Table.Name).Scan(&rowCount)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && rowCount < 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query row estimate: %w", err)
	}

	rows, err := s.conn.pool.Query(ctx, `
		SELECT attname, null_frac::float8, n_distinct::float8, avg_width::float8
		FROM pg_stats
		WHERE schemaname = $1 AND tablename = $2 AND attname = ANY($3)
	`, req.Table.DBName, req.Table.Name, req.ColumnNames())
	if err != nil {
		return nil, fmt.Errorf("query pg_stats: %w", err)
	}
	defer rows.Close()

	known := make(map[string]models.ColumnStatistic)
	for rows.Next() {
		var name string
		var nullFrac, nDistinct, avgWidth float64
		if err := rows.Scan(&name, &nullFrac, &nDistinct, &avgWidth); err != nil {
			return nil, fmt.Errorf("scan pg_stats: %w", err)
		}
		// Negative n_distinct is a fraction of the row count.
		if nDistinct < 0 {
			nDistinct = -nDistinct * rowCount
		}
		known[name] = models.ColumnStatistic{
			NullCount:      nullFrac * rowCount,
			DistinctCount:  nDistinct,
			AverageRowSize: avgWidth,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pg_stats: %w", err)
	}

	stats := &models.TableStatistics{OutputRowCount: rowCount}
	for _, ref := range req.Columns {
		stat, ok := known[ref.Name]
		if !ok {
			stat = models.UnknownColumnStatistic()
		}
		stats.Columns = append(stats.Columns, models.ColumnStatisticEntry{Column: ref, Statistic: stat})
	}

	s.conn.logger.Debug("Computed postgres statistics",
		zap.String("db", req.Table.DBName),
		zap.String("table", req.Table.Name),
		zap.Float64("row_count", rowCount),
		zap.Int("known_columns", len(known)))
	return stats, nil
}

func (s *Session) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn.pool.Query(ctx, query, args...)
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
