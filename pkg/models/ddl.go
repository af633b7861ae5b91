package models

// CreateTableStmt is the analyzed CREATE TABLE statement handed over by the
// DDL executor.
type CreateTableStmt struct {
	Name        TableName         `json:"name"`
	Columns     []Column          `json:"columns"`
	IfNotExists bool              `json:"if_not_exists"`
	Comment     string            `json:"comment,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`

	// PartitionColumns lists the partitioning columns, if any.
	PartitionColumns []string `json:"partition_columns,omitempty"`
}

// DropTableStmt is the analyzed DROP TABLE statement.
type DropTableStmt struct {
	Name     TableName `json:"name"`
	IfExists bool      `json:"if_exists"`
	Force    bool      `json:"force"`
}
