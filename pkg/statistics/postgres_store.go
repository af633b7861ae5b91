package statistics

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-federation/pkg/database"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// PostgresStore keeps internal statistics in federation_column_statistics.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a PostgresStore on an open store database.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert records the statistic of one column.
func (s *PostgresStore) Upsert(ctx context.Context, table *models.Table, column string, stats models.ConnectorTableColumnStats) error {
	query := `
		INSERT INTO federation_column_statistics (
			catalog_name, db_name, table_name, column_name,
			row_count, null_count, distinct_count, min_value, max_value, avg_row_size, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (catalog_name, db_name, table_name, column_name)
		DO UPDATE SET
			row_count = EXCLUDED.row_count,
			null_count = EXCLUDED.null_count,
			distinct_count = EXCLUDED.distinct_count,
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			avg_row_size = EXCLUDED.avg_row_size,
			updated_at = now()`

	st := stats.Statistic
	_, err := s.db.Exec(ctx, query,
		strings.ToLower(table.CatalogName), table.DBName, table.Name, column,
		stats.RowCount, st.NullCount, st.DistinctCount, st.MinValue, st.MaxValue, st.AverageRowSize,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert column statistics: %w", err)
	}
	return nil
}

// DeleteTable removes every column statistic of a table.
func (s *PostgresStore) DeleteTable(ctx context.Context, table *models.Table) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM federation_column_statistics
		WHERE catalog_name = $1 AND db_name = $2 AND table_name = $3`,
		strings.ToLower(table.CatalogName), table.DBName, table.Name)
	if err != nil {
		return fmt.Errorf("failed to delete column statistics: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConnectorTableStatistics(ctx context.Context, table *models.Table, columns []string) ([]*models.ConnectorTableColumnStats, error) {
	out := make([]*models.ConnectorTableColumnStats, len(columns))
	if len(columns) == 0 {
		return out, nil
	}

	query := `
		SELECT column_name, row_count, null_count, distinct_count,
		       COALESCE(min_value, 0), COALESCE(max_value, 0), avg_row_size
		FROM federation_column_statistics
		WHERE catalog_name = $1 AND db_name = $2 AND table_name = $3
		  AND column_name = ANY($4)`

	rows, err := s.db.Query(ctx, query, strings.ToLower(table.CatalogName), table.DBName, table.Name, columns)
	if err != nil {
		return nil, fmt.Errorf("failed to query column statistics: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*models.ConnectorTableColumnStats, len(columns))
	for rows.Next() {
		var name string
		var st models.ConnectorTableColumnStats
		if err := rows.Scan(&name, &st.RowCount, &st.Statistic.NullCount, &st.Statistic.DistinctCount,
			&st.Statistic.MinValue, &st.Statistic.MaxValue, &st.Statistic.AverageRowSize); err != nil {
			return nil, fmt.Errorf("failed to scan column statistics: %w", err)
		}
		found[name] = &st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column statistics: %w", err)
	}

	for i, col := range columns {
		out[i] = found[col]
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
