// purge-catalog-metadata removes the engine-side metadata of a catalog that
// is no longer registered: internal column statistics and table annotations.
//
// Usage: go run ./scripts/purge-catalog-metadata <catalog>
//
// Database connection: Uses standard PG* environment variables
//
// Flags:
//
//	-dry-run   Show what would be deleted without actually deleting (default: true)
//	-db        Only purge one database of the catalog
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
)

// metadataTables are the store tables keyed by (catalog_name, db_name, table_name).
var metadataTables = []string{
	"federation_column_statistics",
	"federation_table_annotations",
}

func main() {
	dryRun := flag.Bool("dry-run", true, "Show what would be deleted without actually deleting")
	dbName := flag.String("db", "", "Only purge this database of the catalog")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-dry-run=false] [-db name] <catalog>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		fmt.Fprintf(os.Stderr, "  -dry-run  Show what would be deleted without deleting (default: true)\n")
		fmt.Fprintf(os.Stderr, "  -db       Only purge one database of the catalog\n")
		os.Exit(1)
	}
	catalog := strings.ToLower(args[0])

	ctx := context.Background()

	conn, err := pgx.Connect(ctx, buildConnString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	if *dryRun {
		fmt.Println("DRY RUN - no changes will be made")
		fmt.Println("Run with -dry-run=false to actually delete rows")
		fmt.Println()
	}

	total := 0
	for _, table := range metadataTables {
		count, err := purge(ctx, conn, table, catalog, *dbName, *dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error purging %s: %v\n", table, err)
			os.Exit(1)
		}
		total += count
	}

	if *dryRun {
		fmt.Printf("\nTotal rows that would be deleted: %d\n", total)
	} else {
		fmt.Printf("\nTotal rows deleted: %d\n", total)
	}
}

// purge deletes the rows of one metadata table that belong to catalog (and
// db, when set). If dryRun is true, it only lists the affected tables.
func purge(ctx context.Context, conn *pgx.Conn, table, catalog, db string, dryRun bool) (int, error) {
	// table comes from metadataTables, never from input.
	where := `catalog_name = $1 AND ($2 = '' OR db_name = $2)`

	if dryRun {
		rows, err := conn.Query(ctx, `
			SELECT db_name, table_name, count(*)
			FROM `+table+`
			WHERE `+where+`
			GROUP BY db_name, table_name
			ORDER BY db_name, table_name
		`, catalog, db)
		if err != nil {
			return 0, fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()

		var total int
		for rows.Next() {
			var dbName, tableName string
			var n int
			if err := rows.Scan(&dbName, &tableName, &n); err != nil {
				return 0, fmt.Errorf("scan failed: %w", err)
			}
			total += n
			fmt.Printf("  [%s] %s.%s.%s: %d rows\n", table, catalog, dbName, tableName, n)
		}
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("rows iteration failed: %w", err)
		}

		if total == 0 {
			fmt.Printf("  [%s] No matching rows\n", table)
		}
		return total, nil
	}

	result, err := conn.Exec(ctx, `DELETE FROM `+table+` WHERE `+where, catalog, db)
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}

	count := int(result.RowsAffected())
	fmt.Printf("Deleted %d rows from %s\n", count, table)
	return count, nil
}

func buildConnString() string {
	host := getEnvOrDefault("PGHOST", "localhost")
	port := getEnvOrDefault("PGPORT", "5432")
	user := getEnvOrDefault("PGUSER", "federation")
	password := os.Getenv("PGPASSWORD")
	dbname := getEnvOrDefault("PGDATABASE", "federation")

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
	if password != "" {
		connStr += fmt.Sprintf(" password=%s", password)
	}
	return connStr
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
