package mssql

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
	"github.com/ekaya-inc/ekaya-federation/pkg/sqlcheck"
)

// quoteIdentifier quotes a SQL Server identifier with brackets.
func quoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func qualifiedTableName(schemaName, tableName string) string {
	return quoteIdentifier(schemaName) + "." + quoteIdentifier(tableName)
}

func quoteLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// createTableSQL renders CREATE TABLE plus extended-property comments.
// SQL Server has no IF NOT EXISTS for tables; the caller checks existence.
func createTableSQL(stmt *models.CreateTableStmt) ([]string, error) {
	if err := sqlcheck.ValidateCreateTable(stmt); err != nil {
		return nil, err
	}
	if len(stmt.PartitionColumns) > 0 {
		return nil, fmt.Errorf("partitioned tables require a partition scheme and cannot be created through the catalog")
	}

	table := qualifiedTableName(stmt.Name.DB, stmt.Name.Table)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", table)
	var pk []string
	for i, col := range stmt.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "  %s %s", quoteIdentifier(col.Name), col.Type)
		if col.Nullable {
			b.WriteString(" NULL")
		} else {
			b.WriteString(" NOT NULL")
		}
		if col.Default != nil {
			b.WriteString(" DEFAULT ")
			b.WriteString(quoteLiteral(*col.Default))
		}
		if col.PrimaryKey {
			pk = append(pk, quoteIdentifier(col.Name))
		}
	}
	if len(pk) > 0 {
		fmt.Fprintf(&b, ",\n  PRIMARY KEY (%s)", strings.Join(pk, ", "))
	}
	b.WriteString("\n)")

	stmts := []string{b.String()}
	if stmt.Comment != "" {
		stmts = append(stmts, fmt.Sprintf(
			"EXEC sp_addextendedproperty N'MS_Description', %s, N'SCHEMA', %s, N'TABLE', %s",
			quoteLiteral(stmt.Comment), quoteLiteral(stmt.Name.DB), quoteLiteral(stmt.Name.Table)))
	}
	for _, col := range stmt.Columns {
		if col.Comment != "" {
			stmts = append(stmts, fmt.Sprintf(
				"EXEC sp_addextendedproperty N'MS_Description', %s, N'SCHEMA', %s, N'TABLE', %s, N'COLUMN', %s",
				quoteLiteral(col.Comment), quoteLiteral(stmt.Name.DB), quoteLiteral(stmt.Name.Table), quoteLiteral(col.Name)))
		}
	}
	return stmts, nil
}

func dropTableSQL(stmt *models.DropTableStmt) string {
	if stmt.IfExists {
		return "DROP TABLE IF EXISTS " + qualifiedTableName(stmt.Name.DB, stmt.Name.Table)
	}
	return "DROP TABLE " + qualifiedTableName(stmt.Name.DB, stmt.Name.Table)
}
