package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
	"github.com/ekaya-inc/ekaya-federation/pkg/sqlcheck"
)

// qualifiedTableName returns a properly quoted "schema"."table" reference.
func qualifiedTableName(schemaName, tableName string) string {
	return pgx.Identifier{schemaName, tableName}.Sanitize()
}

// quoteLiteral renders s as a string literal. Only used for COMMENT ON,
// which does not accept bind parameters.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// createTableSQL renders a CREATE TABLE statement followed by its COMMENT ON
// statements. Free-text fragments are validated by sqlcheck first.
func createTableSQL(stmt *models.CreateTableStmt) ([]string, error) {
	if err := sqlcheck.ValidateCreateTable(stmt); err != nil {
		return nil, err
	}

	table := qualifiedTableName(stmt.Name.DB, stmt.Name.Table)

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if stmt.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(table)
	b.WriteString(" (\n")

	var pk []string
	for i, col := range stmt.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "  %s %s", pgx.Identifier{col.Name}.Sanitize(), col.Type)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if col.Default != nil {
			b.WriteString(" DEFAULT ")
			b.WriteString(quoteLiteral(*col.Default))
		}
		if col.PrimaryKey {
			pk = append(pk, pgx.Identifier{col.Name}.Sanitize())
		}
	}
	if len(pk) > 0 {
		fmt.Fprintf(&b, ",\n  PRIMARY KEY (%s)", strings.Join(pk, ", "))
	}
	b.WriteString("\n)")

	if len(stmt.PartitionColumns) > 0 {
		parts := make([]string, len(stmt.PartitionColumns))
		for i, c := range stmt.PartitionColumns {
			parts[i] = pgx.Identifier{c}.Sanitize()
		}
		// Postgres LIST partitioning takes exactly one column.
		if len(parts) == 1 {
			fmt.Fprintf(&b, " PARTITION BY LIST (%s)", parts[0])
		} else {
			fmt.Fprintf(&b, " PARTITION BY RANGE (%s)", strings.Join(parts, ", "))
		}
	}

	stmts := []string{b.String()}
	if stmt.Comment != "" {
		stmts = append(stmts, fmt.Sprintf("COMMENT ON TABLE %s IS %s", table, quoteLiteral(stmt.Comment)))
	}
	for _, col := range stmt.Columns {
		if col.Comment != "" {
			stmts = append(stmts, fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s",
				table, pgx.Identifier{col.Name}.Sanitize(), quoteLiteral(col.Comment)))
		}
	}
	return stmts, nil
}

// dropTableSQL renders a DROP TABLE statement. Force cascades to dependents.
func dropTableSQL(stmt *models.DropTableStmt) string {
	var b strings.Builder
	b.WriteString("DROP TABLE ")
	if stmt.IfExists {
		b.WriteString("IF EXISTS ")
	}
	b.WriteString(qualifiedTableName(stmt.Name.DB, stmt.Name.Table))
	if stmt.Force {
		b.WriteString(" CASCADE")
	}
	return b.String()
}

// partitionBoundMatches reports whether a partition bound expression such as
// FOR VALUES IN ('2024-01-01') covers every non-nil value.
func partitionBoundMatches(bound string, values []*string) bool {
	if strings.EqualFold(strings.TrimSpace(bound), "DEFAULT") {
		for _, v := range values {
			if v != nil {
				return false
			}
		}
		return true
	}
	for _, v := range values {
		if v != nil && !strings.Contains(bound, quoteLiteral(*v)) {
			return false
		}
	}
	return true
}
