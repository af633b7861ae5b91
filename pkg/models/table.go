package models

import "time"

// TableKind tags a table handle with its storage family.
// Behavior that varies by table type (sinks, pipelines) is looked up by kind.
type TableKind string

const (
	TableKindOLAP             TableKind = "olap"
	TableKindView             TableKind = "view"
	TableKindMaterializedView TableKind = "materialized_view"
	TableKindMySQL            TableKind = "mysql"
	TableKindHive             TableKind = "hive"
	TableKindIceberg          TableKind = "iceberg"
	TableKindPostgres         TableKind = "postgres"
	TableKindMSSQL            TableKind = "mssql"
	TableKindMemory           TableKind = "memory"
)

// Column describes one table column.
type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	PrimaryKey bool    `json:"primary_key,omitempty"`
	Default    *string `json:"default,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

// Table is a metadata handle returned by a provider.
type Table struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	DBName      string            `json:"db_name"`
	CatalogName string            `json:"catalog_name"`
	Kind        TableKind         `json:"kind"`
	Columns     []Column          `json:"columns"`
	Comment     string            `json:"comment,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`

	// PartitionColumns lists partition column names in partition order.
	PartitionColumns []string `json:"partition_columns,omitempty"`

	// Annotation is filled best-effort from the table annotation store.
	Annotation *TableAnnotation `json:"annotation,omitempty"`
}

// TableName returns the fully qualified identifier of the table.
func (t *Table) TableName() TableName {
	return TableName{Catalog: t.CatalogName, DB: t.DBName, Table: t.Name}
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// TableAnnotation is engine-side metadata attached to an external table
// (ownership, descriptions, engine properties the connector does not know).
type TableAnnotation struct {
	Description *string           `json:"description,omitempty"`
	Owner       *string           `json:"owner,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// MaterializedIndexMeta describes one materialized index of a table.
type MaterializedIndexMeta struct {
	IndexID       int64    `json:"index_id"`
	Columns       []Column `json:"columns"`
	KeysType      string   `json:"keys_type"`
	SchemaVersion int      `json:"schema_version"`
}

// MaterializedViewIndex pairs a table with one of its materialized indexes.
type MaterializedViewIndex struct {
	Table *Table
	Index *MaterializedIndexMeta
}
