package models

import (
	"fmt"
	"strings"
)

// InternalCatalog is the reserved name of the engine's own metastore.
// It never participates in the query-scoped provider cache.
const InternalCatalog = "default_catalog"

// IsInternalCatalog reports whether name denotes the internal catalog.
// An empty name is treated as the internal catalog.
func IsInternalCatalog(name string) bool {
	return name == "" || strings.EqualFold(name, InternalCatalog)
}

// IsExternalCatalog reports whether name denotes a connector-backed catalog.
func IsExternalCatalog(name string) bool {
	return !IsInternalCatalog(name)
}

// Database is a namespace of tables inside a catalog.
type Database struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	CatalogName string            `json:"catalog_name,omitempty"` // Set by the federation layer for external catalogs
	Properties  map[string]string `json:"properties,omitempty"`
}

// TableName is a fully qualified table identifier.
type TableName struct {
	Catalog string `json:"catalog"`
	DB      string `json:"db"`
	Table   string `json:"table"`
}

// NewTableName builds a TableName.
func NewTableName(catalog, db, table string) TableName {
	return TableName{Catalog: catalog, DB: db, Table: table}
}

// Normalize returns a copy whose catalog compares the way catalogs are
// resolved: an empty internal catalog becomes InternalCatalog and catalog
// names are case-insensitive. Database and table names are kept as given.
func (n TableName) Normalize() TableName {
	if IsInternalCatalog(n.Catalog) {
		n.Catalog = InternalCatalog
		return n
	}
	n.Catalog = strings.ToLower(n.Catalog)
	return n
}

// String renders the identifier as catalog.db.table.
func (n TableName) String() string {
	if n.Catalog == "" {
		return fmt.Sprintf("%s.%s", n.DB, n.Table)
	}
	return fmt.Sprintf("%s.%s.%s", n.Catalog, n.DB, n.Table)
}
